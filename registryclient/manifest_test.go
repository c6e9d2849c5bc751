package registryclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/container-tools/ghcr-cleanup/types"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewTLSServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func hostOf(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	return srv.Listener.Addr().String()
}

func newClientForServer(t *testing.T, srv *httptest.Server, repo string) *Client {
	t.Helper()
	c, err := New(hostOf(t, srv), repo, Credential{Username: "x", Password: "y"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.transport.httpClient = srv.Client()
	return c
}

func TestGetManifestByDigestCachesAndParses(t *testing.T) {
	calls := 0
	body := []byte(`{"schemaVersion":2,"mediaType":"application/vnd.oci.image.manifest.v1+json","layers":[]}`)
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/vnd.oci.image.manifest.v1+json")
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	})
	c := newClientForServer(t, srv, "owner/pkg")

	d := types.Digest("sha256:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	m1, err := c.GetManifestByDigest(context.Background(), d)
	if err != nil {
		t.Fatalf("GetManifestByDigest: %v", err)
	}
	if m1.IsIndex() {
		t.Fatalf("expected image manifest")
	}
	if _, err := c.GetManifestByDigest(context.Background(), d); err != nil {
		t.Fatalf("second GetManifestByDigest: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 HTTP call due to cache, got %d", calls)
	}
}

func TestGetManifestByDigestNotFound(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	c := newClientForServer(t, srv, "owner/pkg")

	_, err := c.GetManifestByDigest(context.Background(), types.Digest("sha256:dead"))
	if err == nil {
		t.Fatalf("expected not found error")
	}
}

func TestPutManifestSendsContentType(t *testing.T) {
	var gotContentType string
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		w.Header().Set("Docker-Content-Digest", "sha256:new")
		w.WriteHeader(http.StatusCreated)
	})
	c := newClientForServer(t, srv, "owner/pkg")

	img := &types.Image{MediaTypeRaw: "application/vnd.oci.image.manifest.v1+json"}
	if err := c.PutManifest(context.Background(), "sha256-abc", img); err != nil {
		t.Fatalf("PutManifest: %v", err)
	}
	if gotContentType != img.MediaType() {
		t.Fatalf("Content-Type = %q, want %q", gotContentType, img.MediaType())
	}
}
