// Package executor performs the ordered deletions a filter pipeline run
// selects: the standard delete (manifest fetch, version delete, child
// cleanup) and the recursive referrer cascade of spec.md §4.6. The untag
// protocol itself lives in the policy package, since Stage C of the
// filter pipeline must trigger it mid-run to reload the index and
// re-evaluate tag-delete matches (spec.md §4.5 Stage C); this package
// never untags, and deletes each selected version whole, whatever tags it
// still carries.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/container-tools/ghcr-cleanup/graph"
	"github.com/container-tools/ghcr-cleanup/packageclient"
	"github.com/container-tools/ghcr-cleanup/types"
)

// Index is the subset of index.Index the executor needs.
type Index interface {
	IDByDigest(d types.Digest) (string, bool)
	Tags() []string
	DigestByTag(tag string) (types.Digest, bool)
}

// ManifestSource is the subset of registryclient.RegistryClient the
// executor needs to fill in manifests the graph builder did not already
// fetch.
type ManifestSource interface {
	GetManifestByDigest(ctx context.Context, digest types.Digest) (types.Manifest, error)
}

// Executor performs the deletions a Result selects, in dependency order,
// against one package.
type Executor struct {
	registry  ManifestSource
	pkgClient packageclient.PackageClient
	pkg       string
	log       *logrus.Logger
	deleted   map[types.Digest]bool
}

// Opt configures an Executor.
type Opt func(*Executor)

// WithLog injects a logrus.Logger. Defaults to a discarding logger.
func WithLog(log *logrus.Logger) Opt {
	return func(e *Executor) { e.log = log }
}

// New constructs an Executor for one package. pkgClient may be a
// packageclient.DryRun wrapper; the executor is unaware of dry-run mode
// and simply calls whatever PackageClient it is given (spec.md §4.2
// "Dry-run mode").
func New(registry ManifestSource, pkgClient packageclient.PackageClient, pkg string, opts ...Opt) *Executor {
	e := &Executor{registry: registry, pkgClient: pkgClient, pkg: pkg}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logrus.New()
		e.log.SetLevel(logrus.PanicLevel)
	}
	return e
}

// Prefetch fetches every manifest that child-label computation will need
// before any deletion executes, so a network failure mid-run cannot
// leave the run in a partially-decided state (spec.md §4.6 "Before any
// deletion: prefetch every manifest that will be needed for child-label
// computation").
func (e *Executor) Prefetch(ctx context.Context, g *graph.Graph, deleteSet map[types.Digest]bool) {
	for d := range deleteSet {
		m, err := e.manifestFor(ctx, g, d)
		if err != nil || !m.IsIndex() {
			continue
		}
		for _, c := range m.Children() {
			if needsLabelLookup(c) {
				childDigest := types.Digest(c.Digest.String())
				if _, err := e.manifestFor(ctx, g, childDigest); err != nil {
					e.log.WithFields(logrus.Fields{"digest": string(childDigest), "err": err}).
						Warn("prefetch failed for child manifest")
				}
			}
		}
	}
}

// Run deletes every digest in deleteSet, in deterministic order,
// performing the standard delete protocol and its child/referrer
// cascade for each (spec.md §4.6). excludeSet digests are never
// recursed into even if reached through a referrer tag.
func (e *Executor) Run(ctx context.Context, idx Index, g *graph.Graph, deleteSet, excludeSet map[types.Digest]bool) (types.Stats, error) {
	e.deleted = map[types.Digest]bool{}
	var stats types.Stats

	ordered := make([]types.Digest, 0, len(deleteSet))
	for d := range deleteSet {
		ordered = append(ordered, d)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	e.log.WithFields(logrus.Fields{"phase": types.PhaseDeleting, "count": len(ordered)}).Info("deleting packages")
	for _, d := range ordered {
		if excludeSet[d] {
			continue
		}
		if err := e.deleteStandard(ctx, idx, g, d, excludeSet, &stats); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// deleteStandard implements spec.md §4.6's standard delete for digest d:
// fetch, delete, then cascade into children and referrers.
func (e *Executor) deleteStandard(ctx context.Context, idx Index, g *graph.Graph, d types.Digest, excludeSet map[types.Digest]bool, stats *types.Stats) error {
	if e.deleted[d] {
		return nil
	}

	m, err := e.manifestFor(ctx, g, d)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			e.log.WithFields(logrus.Fields{"digest": string(d)}).Warn("manifest missing during delete planning, skipping")
			return nil
		}
		return fmt.Errorf("fetching manifest for delete of %s: %w", d, err)
	}

	id, ok := idx.IDByDigest(d)
	if !ok {
		e.log.WithFields(logrus.Fields{"digest": string(d)}).Warn("no version id for digest, skipping delete")
		return nil
	}
	if err := e.pkgClient.DeleteVersion(ctx, e.pkg, id); err != nil {
		return fmt.Errorf("deleting version %s (%s): %w", id, d, err)
	}
	e.deleted[d] = true
	stats.VersionsDeleted++

	if m.IsIndex() {
		stats.MultiArchDeleted++
		for _, c := range m.Children() {
			childDigest := types.Digest(c.Digest.String())
			parents := g.UsedBy[childDigest]
			if len(parents) > 1 {
				delete(parents, d)
				continue
			}
			label := e.childLabel(ctx, g, c)
			e.log.WithFields(logrus.Fields{"parent": string(d), "child": string(childDigest), "label": label}).
				Info("deleting child")
			if err := e.deleteStandard(ctx, idx, g, childDigest, excludeSet, stats); err != nil {
				return err
			}
			delete(g.UsedBy, childDigest)
		}
	}

	for _, tag := range idx.Tags() {
		subject, ok := types.ReferrerSubjectDigest(tag)
		if !ok || subject != d {
			continue
		}
		target, ok := idx.DigestByTag(tag)
		if !ok || excludeSet[target] {
			continue
		}
		stats.ReferrersDeleted++
		if err := e.deleteStandard(ctx, idx, g, target, excludeSet, stats); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) manifestFor(ctx context.Context, g *graph.Graph, d types.Digest) (types.Manifest, error) {
	if m, ok := g.Manifests[d]; ok {
		return m, nil
	}
	m, err := e.registry.GetManifestByDigest(ctx, d)
	if err != nil {
		return nil, err
	}
	g.Manifests[d] = m
	return m, nil
}

func needsLabelLookup(c types.ManifestChild) bool {
	return c.Platform == nil || c.Platform.Architecture == "" || c.Platform.Architecture == "unknown"
}

// childLabel derives a display label for a deleted child manifest entry:
// its architecture/variant, or for platform.architecture=="unknown", an
// attestation/signature classification derived from the child's own
// manifest content (spec.md §4.6 "Child-label semantics").
func (e *Executor) childLabel(ctx context.Context, g *graph.Graph, c types.ManifestChild) string {
	if c.Platform != nil && c.Platform.Architecture != "" && c.Platform.Architecture != "unknown" {
		if c.Platform.Variant != "" {
			return fmt.Sprintf("architecture: %s/%s", c.Platform.Architecture, c.Platform.Variant)
		}
		return fmt.Sprintf("architecture: %s", c.Platform.Architecture)
	}
	if strings.HasPrefix(c.ArtifactType, "application/vnd.dev.sigstore.bundle") {
		return "sigstore attestation"
	}
	childDigest := types.Digest(c.Digest.String())
	m, err := e.manifestFor(ctx, g, childDigest)
	if err != nil || m == nil {
		return "unknown"
	}
	if strings.HasPrefix(m.ArtifactType(), "application/vnd.dev.sigstore.bundle") {
		return "sigstore attestation"
	}
	if img, ok := m.(*types.Image); ok && len(img.Layers) > 0 && img.Layers[0].MediaType == "application/vnd.in-toto+json" {
		return "in-toto attestation"
	}
	return "unknown"
}
