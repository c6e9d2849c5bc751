// Package graph builds the usedBy relation and referrer set spec.md §4.4
// describes, walking every digest currently in the PackageIndex and
// fetching its top-level manifest, grounded on regclient's
// scheme/reg.ManifestGet walking pattern.
package graph

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/container-tools/ghcr-cleanup/types"
)

// ManifestFetcher is the subset of RegistryClient the graph builder needs.
type ManifestFetcher interface {
	GetManifestByDigest(ctx context.Context, digest types.Digest) (types.Manifest, error)
}

// DigestIndex is the subset of PackageIndex the graph builder needs.
type DigestIndex interface {
	Digests() []types.Digest
	Tags() []string
	DigestByTag(tag string) (types.Digest, bool)
	Exists(d types.Digest) bool
}

// Graph is the built usedBy relation plus the classification of digests
// into top-level vs children vs referrers (spec.md §4.4).
type Graph struct {
	UsedBy    map[types.Digest]map[types.Digest]bool // child -> set of parents
	Manifests map[types.Digest]types.Manifest        // every fetched manifest: each digest in the index, plus referrer targets
	Referrers map[types.Digest][]types.Digest        // subject digest -> referrer digests (incl. transitive children)
}

// Build walks every digest in idx, fetches its manifest, and links
// children to parents via the usedBy relation (spec.md §4.4). When log is
// at debug level, every parsed manifest is emitted, matching spec.md's
// "When the DEBUG trace is active, emit each parsed manifest."
func Build(ctx context.Context, fetcher ManifestFetcher, idx DigestIndex, log *logrus.Logger) (*Graph, error) {
	g := &Graph{
		UsedBy:    map[types.Digest]map[types.Digest]bool{},
		Manifests: map[types.Digest]types.Manifest{},
		Referrers: map[types.Digest][]types.Digest{},
	}

	digests := idx.Digests()
	for _, d := range digests {
		m, err := fetcher.GetManifestByDigest(ctx, d)
		if err != nil {
			log.WithFields(logrus.Fields{"digest": string(d), "err": err}).
				Warn("failed to fetch manifest while building graph")
			continue
		}
		g.Manifests[d] = m
		log.WithFields(logrus.Fields{"digest": string(d), "mediaType": m.MediaType(), "isIndex": m.IsIndex()}).
			Debug("parsed manifest")
		if !m.IsIndex() {
			continue
		}
		for _, child := range m.Children() {
			childDigest := types.Digest(child.Digest.String())
			if !idx.Exists(childDigest) {
				continue // only link children that exist as versions (spec.md §3 invariant)
			}
			if g.UsedBy[childDigest] == nil {
				g.UsedBy[childDigest] = map[types.Digest]bool{}
			}
			g.UsedBy[childDigest][d] = true
		}
	}

	if err := g.discoverReferrers(ctx, fetcher, idx, digests); err != nil {
		return nil, err
	}
	return g, nil
}

// discoverReferrers implements spec.md §4.4's referrer discovery: for each
// digest d in the index (children included), scan tags for any tag whose name begins with
// "sha256-<first-64-hex-of-d>". Each such tag's target digest (and,
// transitively, the children of that target if it is itself an index) is
// a referrer of d.
func (g *Graph) discoverReferrers(ctx context.Context, fetcher ManifestFetcher, idx DigestIndex, digests []types.Digest) error {
	tags := idx.Tags()
	for _, d := range digests {
		hex := hexOf(d)
		if hex == "" {
			continue
		}
		prefix := "sha256-" + hex
		for _, tag := range tags {
			if len(tag) < len(prefix) || tag[:len(prefix)] != prefix {
				continue
			}
			target, ok := idx.DigestByTag(tag)
			if !ok {
				continue
			}
			g.Referrers[d] = append(g.Referrers[d], target)
			if err := g.addTransitiveChildren(ctx, fetcher, idx, d, target); err != nil {
				return err
			}
		}
	}
	for _, list := range g.Referrers {
		sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	}
	return nil
}

func (g *Graph) addTransitiveChildren(ctx context.Context, fetcher ManifestFetcher, idx DigestIndex, subject, target types.Digest) error {
	m, ok := g.Manifests[target]
	if !ok {
		fetched, err := fetcher.GetManifestByDigest(ctx, target)
		if err != nil {
			return fmt.Errorf("fetching referrer manifest %s: %w", target, err)
		}
		g.Manifests[target] = fetched
		m = fetched
	}
	if !m.IsIndex() {
		return nil
	}
	for _, child := range m.Children() {
		childDigest := types.Digest(child.Digest.String())
		if !idx.Exists(childDigest) {
			continue
		}
		g.Referrers[subject] = append(g.Referrers[subject], childDigest)
	}
	return nil
}

func hexOf(d types.Digest) string {
	const prefix = "sha256:"
	s := string(d)
	if len(s) != len(prefix)+64 || s[:len(prefix)] != prefix {
		return ""
	}
	return s[len(prefix):]
}

// ChildrenOfTopLevel returns the set of digests that appear as children of
// any index manifest, or are reachable as referrer-tagged digests of some
// top-level digest. Policies exclude this set so they operate only on
// top-level digests (spec.md §4.4).
func (g *Graph) ChildrenOfTopLevel() map[types.Digest]bool {
	out := map[types.Digest]bool{}
	for child := range g.UsedBy {
		out[child] = true
	}
	for _, referrers := range g.Referrers {
		for _, r := range referrers {
			out[r] = true
		}
	}
	return out
}

// TopLevel returns every digest in idx that is not a child of any index
// manifest and not itself a referrer target (spec.md GLOSSARY "Top-level
// digest").
func (g *Graph) TopLevel(idx DigestIndex) []types.Digest {
	children := g.ChildrenOfTopLevel()
	var out []types.Digest
	for _, d := range idx.Digests() {
		if !children[d] {
			out = append(out, d)
		}
	}
	return out
}
