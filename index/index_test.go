package index

import (
	"context"
	"testing"
	"time"

	"github.com/container-tools/ghcr-cleanup/types"
)

type fakeClient struct {
	versions []types.PackageVersion
}

func (f *fakeClient) ListVersions(ctx context.Context, pkg string) ([]types.PackageVersion, error) {
	return f.versions, nil
}
func (f *fakeClient) DeleteVersion(ctx context.Context, pkg, id string) error { return nil }
func (f *fakeClient) ListPackages(ctx context.Context, owner string) ([]string, error) {
	return nil, nil
}

func TestIndexBuildsBijectiveViews(t *testing.T) {
	now := time.Now()
	fc := &fakeClient{versions: []types.PackageVersion{
		{ID: "1", Digest: "sha256:a", Tags: []string{"latest", "v1"}, UpdatedAt: now},
		{ID: "2", Digest: "sha256:b", Tags: nil, UpdatedAt: now},
	}}
	idx, err := New(context.Background(), fc, "pkg")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if idx.Len() != 2 {
		t.Fatalf("expected 2 versions, got %d", idx.Len())
	}
	if d, ok := idx.DigestByTag("latest"); !ok || d != "sha256:a" {
		t.Fatalf("DigestByTag(latest) = %v, %v", d, ok)
	}
	if id, ok := idx.IDByDigest("sha256:b"); !ok || id != "2" {
		t.Fatalf("IDByDigest(sha256:b) = %v, %v", id, ok)
	}
	if idx.Exists("sha256:missing") {
		t.Fatalf("expected sha256:missing to be absent")
	}
}

func TestIndexReloadRebuildsViews(t *testing.T) {
	fc := &fakeClient{versions: []types.PackageVersion{{ID: "1", Digest: "sha256:a", Tags: []string{"t"}}}}
	idx, err := New(context.Background(), fc, "pkg")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fc.versions = []types.PackageVersion{{ID: "2", Digest: "sha256:c", Tags: []string{"t"}}}
	if err := idx.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	d, ok := idx.DigestByTag("t")
	if !ok || d != "sha256:c" {
		t.Fatalf("expected tag t to resolve to sha256:c after reload, got %v, %v", d, ok)
	}
	if idx.Exists("sha256:a") {
		t.Fatalf("expected sha256:a to be gone after reload")
	}
}
