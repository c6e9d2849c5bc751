// Package index builds the in-memory catalogue of a package's versions
// (spec.md §4.3), grounded on regclient's scheme/reg/tag.go listing
// pattern but holding the full bijective view set a single
// ListVersions pass produces.
package index

import (
	"context"
	"sort"

	"github.com/container-tools/ghcr-cleanup/packageclient"
	"github.com/container-tools/ghcr-cleanup/types"
)

// Index is the in-memory catalogue built from one ListVersions pass:
// three bijective views over digest, id, and tag (spec.md §4.3).
type Index struct {
	client  packageclient.PackageClient
	pkg     string
	digests map[types.Digest]string            // digest -> id
	byID    map[string]types.PackageVersion     // id -> version
	byTag   map[string]types.Digest             // tag -> digest
}

// New constructs an Index for pkg and performs the initial load.
func New(ctx context.Context, client packageclient.PackageClient, pkg string) (*Index, error) {
	idx := &Index{client: client, pkg: pkg}
	if err := idx.Reload(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

// Reload rebuilds the three views from a fresh ListVersions pass. Callers
// invoke Reload after any mutation (untag, delete) per spec.md §4.3.
func (idx *Index) Reload(ctx context.Context) error {
	versions, err := idx.client.ListVersions(ctx, idx.pkg)
	if err != nil {
		return err
	}
	digests := make(map[types.Digest]string, len(versions))
	byID := make(map[string]types.PackageVersion, len(versions))
	byTag := map[string]types.Digest{}
	for _, v := range versions {
		digests[v.Digest] = v.ID
		byID[v.ID] = v
		for _, tag := range v.Tags {
			byTag[tag] = v.Digest
		}
	}
	idx.digests = digests
	idx.byID = byID
	idx.byTag = byTag
	return nil
}

// Digests returns every digest currently in the index, in sorted order.
func (idx *Index) Digests() []types.Digest {
	out := make([]types.Digest, 0, len(idx.digests))
	for d := range idx.digests {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Tags returns every tag currently in the index, in sorted order.
func (idx *Index) Tags() []string {
	out := make([]string, 0, len(idx.byTag))
	for t := range idx.byTag {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// DigestByTag resolves tag to its current target digest.
func (idx *Index) DigestByTag(tag string) (types.Digest, bool) {
	d, ok := idx.byTag[tag]
	return d, ok
}

// VersionByDigest resolves a digest to its full version metadata.
func (idx *Index) VersionByDigest(d types.Digest) (types.PackageVersion, bool) {
	id, ok := idx.digests[d]
	if !ok {
		return types.PackageVersion{}, false
	}
	v, ok := idx.byID[id]
	return v, ok
}

// VersionByID resolves an id to its full version metadata.
func (idx *Index) VersionByID(id string) (types.PackageVersion, bool) {
	v, ok := idx.byID[id]
	return v, ok
}

// Exists reports whether digest is present as a version in this index.
func (idx *Index) Exists(d types.Digest) bool {
	_, ok := idx.digests[d]
	return ok
}

// IDByDigest resolves a digest to its platform id.
func (idx *Index) IDByDigest(d types.Digest) (string, bool) {
	id, ok := idx.digests[d]
	return id, ok
}

// Len reports the number of versions currently in the index.
func (idx *Index) Len() int { return len(idx.byID) }
