// Package orchestrator resolves target packages and runs the
// index→graph→pipeline→executor→validate sequence for each, strictly
// sequentially (spec.md §4.8, §5 "Across packages: strictly
// sequential... the design offers no locks between [invocations]").
package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/container-tools/ghcr-cleanup/executor"
	"github.com/container-tools/ghcr-cleanup/graph"
	"github.com/container-tools/ghcr-cleanup/index"
	"github.com/container-tools/ghcr-cleanup/internal/matcher"
	"github.com/container-tools/ghcr-cleanup/packageclient"
	"github.com/container-tools/ghcr-cleanup/policy"
	"github.com/container-tools/ghcr-cleanup/types"
	"github.com/container-tools/ghcr-cleanup/validator"
)

// Registry is the subset of registryclient.RegistryClient the
// orchestrator wires into the policy pipeline, executor, and validator
// for one package.
type Registry interface {
	GetManifestByDigest(ctx context.Context, digest types.Digest) (types.Manifest, error)
	PutManifest(ctx context.Context, tag string, m types.Manifest) error
}

// RegistryFactory builds a Registry scoped to one package's repository.
// Implementations typically wrap registryclient.New with the owner's
// credential and host fixed.
type RegistryFactory func(pkg string) (Registry, error)

// PackageSelector is the orchestrator's view of spec.md §6's
// "package(s), expandPackages" configuration surface.
type PackageSelector struct {
	// Packages is a comma-separated list of literal package names when
	// ExpandPackages is false, or a single wildcard/regex pattern (or
	// comma-list of wildcard patterns) to match against ListPackages
	// when ExpandPackages is true.
	Packages       string
	ExpandPackages bool
	UseRegex       bool
}

// Report is one package's run outcome.
type Report struct {
	Package      string
	RunID        string
	Stats        types.Stats
	UntaggedTags []string
	Findings     []validator.Finding
}

// Orchestrator resolves target packages and drives one cleanup task per
// package, never concurrently (spec.md §4.8).
type Orchestrator struct {
	pkgClient           packageclient.PackageClient
	owner               string
	elevatedCredentials bool
	registryFor         RegistryFactory
	cfg                 policy.Config
	log                 *logrus.Logger
}

// Opt configures an Orchestrator.
type Opt func(*Orchestrator)

// WithLog injects a logrus.Logger. Defaults to a discarding logger.
func WithLog(log *logrus.Logger) Opt {
	return func(o *Orchestrator) { o.log = log }
}

// New constructs an Orchestrator. owner is the GitHub owner (user or
// org) packages are listed under; elevatedCredentials gates pattern
// expansion (spec.md §4.8 "Pattern mode requires elevated credentials,
// rejected with a configuration error otherwise").
func New(pkgClient packageclient.PackageClient, owner string, elevatedCredentials bool, registryFor RegistryFactory, cfg policy.Config, opts ...Opt) *Orchestrator {
	o := &Orchestrator{
		pkgClient:           pkgClient,
		owner:               owner,
		elevatedCredentials: elevatedCredentials,
		registryFor:         registryFor,
		cfg:                 cfg,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = logrus.New()
		o.log.SetLevel(logrus.PanicLevel)
	}
	return o
}

// Run resolves sel to a package list and runs the cleanup sequence for
// each, in order. A resolution failure (invalid name, unauthorized
// pattern mode, zero matches) is a configuration error and aborts the
// whole invocation before any I/O against a package begins (spec.md §6
// "Exit status: ...failure when...no target packages resolve").
func (o *Orchestrator) Run(ctx context.Context, sel PackageSelector) ([]Report, error) {
	packages, err := o.resolvePackages(ctx, sel)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	o.log.WithFields(logrus.Fields{"runID": runID, "packages": len(packages)}).Info("starting cleanup run")

	reports := make([]Report, 0, len(packages))
	for _, pkg := range packages {
		if err := ctx.Err(); err != nil {
			return reports, fmt.Errorf("run %s cancelled before package %s: %w", runID, pkg, err)
		}
		report, err := o.runOne(ctx, runID, pkg)
		if err != nil {
			return reports, fmt.Errorf("package %s: %w", pkg, err)
		}
		reports = append(reports, report)
	}
	return reports, nil
}

func (o *Orchestrator) runOne(ctx context.Context, runID, pkg string) (Report, error) {
	log := o.log

	idx, err := index.New(ctx, o.pkgClient, pkg)
	if err != nil {
		return Report{}, fmt.Errorf("loading package index: %w", err)
	}

	registry, err := o.registryFor(pkg)
	if err != nil {
		return Report{}, fmt.Errorf("constructing registry client: %w", err)
	}

	g, err := graph.Build(ctx, registry, idx, log)
	if err != nil {
		return Report{}, fmt.Errorf("building usedBy graph: %w", err)
	}

	pipeline := policy.New(o.cfg, registry, o.pkgClient, pkg, policy.WithLog(log))
	result, err := pipeline.Run(ctx, idx, g)
	if err != nil {
		return Report{}, fmt.Errorf("running filter pipeline: %w", err)
	}

	ex := executor.New(registry, o.pkgClient, pkg, executor.WithLog(log))
	ex.Prefetch(ctx, g, result.DeleteSet)
	stats, err := ex.Run(ctx, idx, g, result.DeleteSet, result.ExcludedSet)
	if err != nil {
		return Report{}, fmt.Errorf("executing deletions: %w", err)
	}
	stats.UntaggedBytesChurn = result.BytesChurned
	report := Report{Package: pkg, RunID: runID, Stats: stats, UntaggedTags: result.UntaggedTags}

	if o.cfg.ValidateAfter {
		if err := idx.Reload(ctx); err != nil {
			return Report{}, fmt.Errorf("reloading index before validation: %w", err)
		}
		v := validator.New(registry, validator.WithLog(log))
		findings, err := v.Run(ctx, idx)
		if err != nil {
			return Report{}, fmt.Errorf("validating: %w", err)
		}
		report.Findings = findings
		stats.ValidationWarnings = len(findings)
		report.Stats = stats
	}

	log.WithFields(logrus.Fields{
		"phase":            types.PhaseStatistics,
		"runID":            runID,
		"package":          pkg,
		"versionsDeleted":  stats.VersionsDeleted,
		"multiArchDeleted": stats.MultiArchDeleted,
		"bytesChurned":     humanize.Bytes(uint64(stats.UntaggedBytesChurn)),
	}).Info("cleanup statistics")

	return report, nil
}

func (o *Orchestrator) resolvePackages(ctx context.Context, sel PackageSelector) ([]string, error) {
	if !sel.ExpandPackages {
		var out []string
		for _, n := range strings.Split(sel.Packages, ",") {
			n = strings.TrimSpace(n)
			if n == "" {
				continue
			}
			if _, err := name.NewRepository(o.owner + "/" + n); err != nil {
				return nil, fmt.Errorf("%w: invalid package name %q: %v", types.ErrConfiguration, n, err)
			}
			out = append(out, n)
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("%w: no package names resolved from %q", types.ErrConfiguration, sel.Packages)
		}
		return out, nil
	}

	if !o.elevatedCredentials {
		return nil, fmt.Errorf("%w: expandPackages requires elevated credentials", types.ErrConfiguration)
	}

	all, err := o.pkgClient.ListPackages(ctx, o.owner)
	if err != nil {
		return nil, fmt.Errorf("listing packages for pattern expansion: %w", err)
	}

	var patterns []string
	if sel.UseRegex {
		patterns = []string{sel.Packages}
	} else {
		patterns = strings.Split(sel.Packages, ",")
	}
	m, err := matcher.New(patterns, sel.UseRegex)
	if err != nil {
		return nil, fmt.Errorf("%w: compiling package pattern: %v", types.ErrConfiguration, err)
	}

	var out []string
	for _, p := range all {
		if m.Match(p) {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: pattern %q matched no packages", types.ErrConfiguration, sel.Packages)
	}
	return out, nil
}
