package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/container-tools/ghcr-cleanup/policy"
	"github.com/container-tools/ghcr-cleanup/types"
)

type fakePkgClient struct {
	versions map[string][]types.PackageVersion
	packages []string
	deleted  []string
}

func (f *fakePkgClient) ListVersions(ctx context.Context, pkg string) ([]types.PackageVersion, error) {
	return f.versions[pkg], nil
}
func (f *fakePkgClient) DeleteVersion(ctx context.Context, pkg, id string) error {
	f.deleted = append(f.deleted, pkg+"/"+id)
	return nil
}
func (f *fakePkgClient) ListPackages(ctx context.Context, owner string) ([]string, error) {
	return f.packages, nil
}

type fakeRegistry map[types.Digest]types.Manifest

func (f fakeRegistry) GetManifestByDigest(ctx context.Context, d types.Digest) (types.Manifest, error) {
	m, ok := f[d]
	if !ok {
		return nil, types.ErrNotFound
	}
	return m, nil
}
func (f fakeRegistry) PutManifest(ctx context.Context, tag string, m types.Manifest) error {
	return nil
}

func mustImage(t *testing.T) types.Manifest {
	t.Helper()
	m, err := types.ParseManifest("application/vnd.oci.image.manifest.v1+json",
		[]byte(`{"schemaVersion":2,"mediaType":"application/vnd.oci.image.manifest.v1+json","layers":[]}`))
	if err != nil {
		t.Fatalf("parsing fixture image: %v", err)
	}
	return m
}

func hex64(b byte) string {
	out := make([]byte, 64)
	for i := range out {
		out[i] = b
	}
	return string(out)
}

func TestRunResolvesSinglePackageAndDeletesUntagged(t *testing.T) {
	digest := types.Digest("sha256:" + hex64('1'))
	pkgClient := &fakePkgClient{
		versions: map[string][]types.PackageVersion{
			"myimage": {{ID: "v1", Digest: digest, UpdatedAt: time.Now()}},
		},
	}
	registry := fakeRegistry{digest: mustImage(t)}
	cfg, err := policy.NewConfig(policy.Config{})
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	o := New(pkgClient, "owner", false, func(pkg string) (Registry, error) { return registry, nil }, cfg)

	reports, err := o.Run(context.Background(), PackageSelector{Packages: "myimage"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(reports) != 1 || reports[0].Package != "myimage" {
		t.Fatalf("unexpected reports: %+v", reports)
	}
	if reports[0].Stats.VersionsDeleted != 1 {
		t.Fatalf("expected 1 version deleted, got %+v", reports[0].Stats)
	}
	if len(pkgClient.deleted) != 1 {
		t.Fatalf("expected 1 delete call, got %v", pkgClient.deleted)
	}
}

func TestRunRejectsPatternModeWithoutElevatedCredentials(t *testing.T) {
	pkgClient := &fakePkgClient{}
	cfg, err := policy.NewConfig(policy.Config{})
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	o := New(pkgClient, "owner", false, func(pkg string) (Registry, error) { return fakeRegistry{}, nil }, cfg)

	_, err = o.Run(context.Background(), PackageSelector{Packages: "img-*", ExpandPackages: true})
	if !errors.Is(err, types.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestRunExpandsPatternWithElevatedCredentials(t *testing.T) {
	digest := types.Digest("sha256:" + hex64('2'))
	pkgClient := &fakePkgClient{
		packages: []string{"img-a", "img-b", "other"},
		versions: map[string][]types.PackageVersion{
			"img-a": {{ID: "v1", Digest: digest, UpdatedAt: time.Now()}},
			"img-b": nil,
		},
	}
	registry := fakeRegistry{digest: mustImage(t)}
	cfg, err := policy.NewConfig(policy.Config{})
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	o := New(pkgClient, "owner", true, func(pkg string) (Registry, error) { return registry, nil }, cfg)

	reports, err := o.Run(context.Background(), PackageSelector{Packages: "img-*", ExpandPackages: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("expected 2 matched packages, got %+v", reports)
	}
}

func TestRunFailsWhenNoPackagesResolve(t *testing.T) {
	pkgClient := &fakePkgClient{}
	cfg, err := policy.NewConfig(policy.Config{})
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	o := New(pkgClient, "owner", false, func(pkg string) (Registry, error) { return fakeRegistry{}, nil }, cfg)

	_, err = o.Run(context.Background(), PackageSelector{Packages: "  "})
	if !errors.Is(err, types.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}
