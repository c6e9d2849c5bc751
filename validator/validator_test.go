package validator

import (
	"context"
	"fmt"
	"testing"

	"github.com/container-tools/ghcr-cleanup/types"
)

type fakeIndex struct {
	digests []types.Digest
	exists  map[types.Digest]bool
	tags    map[string]types.Digest
}

func (f fakeIndex) Digests() []types.Digest { return f.digests }
func (f fakeIndex) Tags() []string {
	out := make([]string, 0, len(f.tags))
	for t := range f.tags {
		out = append(out, t)
	}
	return out
}
func (f fakeIndex) DigestByTag(tag string) (types.Digest, bool) { d, ok := f.tags[tag]; return d, ok }
func (f fakeIndex) Exists(d types.Digest) bool                  { return f.exists[d] }

type fakeManifestSource map[types.Digest]types.Manifest

func (f fakeManifestSource) GetManifestByDigest(ctx context.Context, d types.Digest) (types.Manifest, error) {
	m, ok := f[d]
	if !ok {
		return nil, types.ErrNotFound
	}
	return m, nil
}

func hex64(b byte) string {
	out := make([]byte, 64)
	for i := range out {
		out[i] = b
	}
	return string(out)
}

func mustIndexManifest(t *testing.T, children ...types.Digest) types.Manifest {
	t.Helper()
	entries := ""
	for i, c := range children {
		if i > 0 {
			entries += ","
		}
		entries += fmt.Sprintf(`{"mediaType":"application/vnd.oci.image.manifest.v1+json","digest":"%s","size":10}`, c)
	}
	m, err := types.ParseManifest("application/vnd.oci.image.index.v1+json",
		[]byte(fmt.Sprintf(`{"schemaVersion":2,"mediaType":"application/vnd.oci.image.index.v1+json","manifests":[%s]}`, entries)))
	if err != nil {
		t.Fatalf("parsing fixture index: %v", err)
	}
	return m
}

func mustImageManifest(t *testing.T) types.Manifest {
	t.Helper()
	m, err := types.ParseManifest("application/vnd.oci.image.manifest.v1+json",
		[]byte(`{"schemaVersion":2,"mediaType":"application/vnd.oci.image.manifest.v1+json","layers":[]}`))
	if err != nil {
		t.Fatalf("parsing fixture image: %v", err)
	}
	return m
}

func TestRunFindsMissingChild(t *testing.T) {
	parent := types.Digest("sha256:" + hex64('1'))
	present := types.Digest("sha256:" + hex64('2'))
	missing := types.Digest("sha256:" + hex64('3'))

	idx := fakeIndex{
		digests: []types.Digest{parent, present},
		exists:  map[types.Digest]bool{parent: true, present: true},
		tags:    map[string]types.Digest{},
	}
	src := fakeManifestSource{
		parent:  mustIndexManifest(t, present, missing),
		present: mustImageManifest(t),
	}
	v := New(src)

	findings, err := v.Run(context.Background(), idx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(findings) != 1 || findings[0].Kind != "missing-child" || findings[0].Target != missing {
		t.Fatalf("expected single missing-child finding for %s, got %+v", missing, findings)
	}
}

func TestRunFindsOrphanedReferrer(t *testing.T) {
	subjectHex := hex64('4')
	referrerTarget := types.Digest("sha256:" + hex64('5'))
	referrerTag := "sha256-" + subjectHex

	idx := fakeIndex{
		digests: []types.Digest{referrerTarget},
		exists:  map[types.Digest]bool{referrerTarget: true},
		tags:    map[string]types.Digest{referrerTag: referrerTarget},
	}
	v := New(fakeManifestSource{referrerTarget: mustImageManifest(t)})

	findings, err := v.Run(context.Background(), idx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(findings) != 1 || findings[0].Kind != "orphaned-referrer" {
		t.Fatalf("expected single orphaned-referrer finding, got %+v", findings)
	}
}

func TestRunCleanIndexNoFindings(t *testing.T) {
	parent := types.Digest("sha256:" + hex64('6'))
	child := types.Digest("sha256:" + hex64('7'))
	idx := fakeIndex{
		digests: []types.Digest{parent, child},
		exists:  map[types.Digest]bool{parent: true, child: true},
		tags:    map[string]types.Digest{},
	}
	src := fakeManifestSource{
		parent: mustIndexManifest(t, child),
		child:  mustImageManifest(t),
	}
	v := New(src)

	findings, err := v.Run(context.Background(), idx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(findings) != 0 {
		t.Fatalf("expected no findings, got %+v", findings)
	}
}
