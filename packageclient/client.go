// Package packageclient implements an authenticated client to the
// hosting platform's packages API (GitHub Packages), grounded on
// regclient's apimanifest.go request shape and generalized to the
// owner-kind/visibility endpoint selection spec.md §4.2 requires.
package packageclient

import (
	"context"

	"github.com/container-tools/ghcr-cleanup/types"
)

// PackageClient lists and deletes container package versions.
type PackageClient interface {
	// ListVersions lists every version of a package, paginated
	// internally; the returned slice is the full listing for one pass
	// (spec.md §4.3 "from one pass of ListVersions").
	ListVersions(ctx context.Context, pkg string) ([]types.PackageVersion, error)
	// DeleteVersion deletes a version by id. Idempotent best-effort: a
	// single immediately-following 404 is tolerated; two consecutive
	// 404s escalate to types.ErrRepeatedNotFound.
	DeleteVersion(ctx context.Context, pkg, id string) error
	// ListPackages lists package names under owner, used only when
	// pattern-expansion is requested (spec.md §4.8).
	ListPackages(ctx context.Context, owner string) ([]string, error)
}

// OwnerKind distinguishes the packages API endpoint family spec.md §4.2
// requires: user-owned vs organization-owned vs the authenticated user's
// own private packages.
type OwnerKind int

const (
	OwnerOrg OwnerKind = iota
	OwnerUser
	OwnerAuthenticatedUser
)
