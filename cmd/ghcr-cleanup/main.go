package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/container-tools/ghcr-cleanup/types"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.WithFields(logrus.Fields{}).Debug("interrupt received, stopping")
		cancel()
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(exitCode(err))
	}
	os.Exit(0)
}

// exitCode maps the error taxonomy (spec.md §6 "Exit status") onto a
// process exit code: configuration and authentication failures are
// distinguished from transport/unknown failures so host automation can
// tell a bad invocation from a flaky registry.
func exitCode(err error) int {
	switch {
	case errors.Is(err, types.ErrConfiguration):
		return 2
	case errors.Is(err, types.ErrAuthentication):
		return 3
	case errors.Is(err, types.ErrIntegrityWarning):
		return 4
	default:
		return 1
	}
}
