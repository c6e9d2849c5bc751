// Package validator implements the optional post-run structural scan
// spec.md §4.7 describes: every surviving index manifest's children must
// still exist, and every referrer tag's subject must still exist. It is
// informational by default; only a host configured to fail on warnings
// turns a finding into a non-zero exit status.
package validator

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/container-tools/ghcr-cleanup/types"
)

// Index is the subset of index.Index the validator needs.
type Index interface {
	Digests() []types.Digest
	Tags() []string
	DigestByTag(tag string) (types.Digest, bool)
	Exists(d types.Digest) bool
}

// ManifestSource is the subset of registryclient.RegistryClient the
// validator needs.
type ManifestSource interface {
	GetManifestByDigest(ctx context.Context, digest types.Digest) (types.Manifest, error)
}

// Finding is one integrity warning the scan surfaced.
type Finding struct {
	// Kind is "missing-child" or "orphaned-referrer".
	Kind   string
	Parent types.Digest // the index manifest, for missing-child findings
	Tag    string       // the referrer tag, for orphaned-referrer findings
	Target types.Digest // the absent digest
}

func (f Finding) String() string {
	switch f.Kind {
	case "missing-child":
		return fmt.Sprintf("index %s lists missing child %s", f.Parent, f.Target)
	case "orphaned-referrer":
		return fmt.Sprintf("referrer tag %s has no surviving subject %s", f.Tag, f.Target)
	default:
		return fmt.Sprintf("%s: %s", f.Kind, f.Target)
	}
}

// Validator runs the post-run scan.
type Validator struct {
	registry ManifestSource
	log      *logrus.Logger
}

// Opt configures a Validator.
type Opt func(*Validator)

// WithLog injects a logrus.Logger. Defaults to a discarding logger.
func WithLog(log *logrus.Logger) Opt {
	return func(v *Validator) { v.log = log }
}

// New constructs a Validator.
func New(registry ManifestSource, opts ...Opt) *Validator {
	v := &Validator{registry: registry}
	for _, opt := range opts {
		opt(v)
	}
	if v.log == nil {
		v.log = logrus.New()
		v.log.SetLevel(logrus.PanicLevel)
	}
	return v
}

// Run scans idx and returns every finding; it never returns an error for
// findings themselves, only for I/O failure while fetching a manifest it
// needed to inspect.
func (v *Validator) Run(ctx context.Context, idx Index) ([]Finding, error) {
	var findings []Finding
	v.log.WithFields(logrus.Fields{"phase": types.PhaseValidate}).Info("validating")

	for _, d := range idx.Digests() {
		m, err := v.registry.GetManifestByDigest(ctx, d)
		if err != nil {
			return nil, fmt.Errorf("fetching manifest %s during validation: %w", d, err)
		}
		if !m.IsIndex() {
			continue
		}
		for _, c := range m.Children() {
			child := types.Digest(c.Digest.String())
			if !idx.Exists(child) {
				findings = append(findings, Finding{Kind: "missing-child", Parent: d, Target: child})
			}
		}
	}

	for _, tag := range idx.Tags() {
		subject, ok := types.ReferrerSubjectDigest(tag)
		if !ok {
			continue
		}
		if !idx.Exists(subject) {
			findings = append(findings, Finding{Kind: "orphaned-referrer", Tag: tag, Target: subject})
		}
	}

	for _, f := range findings {
		v.log.WithFields(logrus.Fields{"phase": types.PhaseValidate, "kind": f.Kind}).Warn(f.String())
	}
	return findings, nil
}
