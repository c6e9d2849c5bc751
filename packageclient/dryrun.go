package packageclient

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/container-tools/ghcr-cleanup/types"
)

// DryRun wraps a PackageClient so DeleteVersion becomes a no-op that still
// logs the intended action; every other call passes through unchanged
// (spec.md §4.2 "Dry-run mode").
type DryRun struct {
	inner PackageClient
	log   *logrus.Logger
}

// NewDryRun wraps inner in dry-run mode.
func NewDryRun(inner PackageClient, log *logrus.Logger) *DryRun {
	return &DryRun{inner: inner, log: log}
}

func (d *DryRun) ListVersions(ctx context.Context, pkg string) ([]types.PackageVersion, error) {
	return d.inner.ListVersions(ctx, pkg)
}

func (d *DryRun) DeleteVersion(ctx context.Context, pkg, id string) error {
	d.log.WithFields(logrus.Fields{"package": pkg, "id": id}).Info("dry-run: would delete version")
	return nil
}

func (d *DryRun) ListPackages(ctx context.Context, owner string) ([]string, error) {
	return d.inner.ListPackages(ctx, owner)
}

var _ PackageClient = (*DryRun)(nil)
