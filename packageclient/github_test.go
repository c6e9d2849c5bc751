package packageclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestListVersionsPaginates(t *testing.T) {
	page1 := make([]ghVersion, pageSize)
	for i := range page1 {
		page1[i] = ghVersion{ID: int64(i + 1), Name: "sha256:a"}
	}
	page2 := []ghVersion{{ID: 101, Name: "sha256:b"}}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		w.Header().Set("Content-Type", "application/json")
		if page == "1" {
			json.NewEncoder(w).Encode(page1)
		} else {
			json.NewEncoder(w).Encode(page2)
		}
	}))
	defer srv.Close()

	c := NewGitHub("tok", "owner", OwnerOrg, WithAPIBase(srv.URL))
	c.httpClient = srv.Client()

	versions, err := c.ListVersions(context.Background(), "pkg")
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != pageSize+1 {
		t.Fatalf("expected %d versions, got %d", pageSize+1, len(versions))
	}
}

func TestDeleteVersionTolerates404OnceThenEscalates(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewGitHub("tok", "owner", OwnerOrg, WithAPIBase(srv.URL))
	c.httpClient = srv.Client()

	if err := c.DeleteVersion(context.Background(), "pkg", "1"); err != nil {
		t.Fatalf("first 404 should be tolerated, got: %v", err)
	}
	if err := c.DeleteVersion(context.Background(), "pkg", "2"); err == nil {
		t.Fatalf("expected escalation on second consecutive 404")
	}
}
