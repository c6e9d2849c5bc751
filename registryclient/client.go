// Package registryclient implements an authenticated OCI distribution v2
// client scoped to one repository, grounded on regclient's
// scheme/reg.ManifestGet/ManifestPut and its internal/retryable request
// loop, generalized to the cleanup engine's narrower contract
// (spec.md §4.1, §6).
package registryclient

import (
	"context"
	"fmt"
	"io"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/container-tools/ghcr-cleanup/types"
)

// RegistryClient is the core's sole view of the registry. GetManifestByDigest
// is memoised per run because, per spec.md §4.1, each call counts as a
// registry pull. GetManifestByTag issues a request on every call to resolve
// the tag; only the parsed manifest is served from the cache.
type RegistryClient interface {
	// GetManifestByDigest fetches and parses the manifest at digest.
	// Returns a types.ErrNotFound-wrapped error on a 400/404 response.
	GetManifestByDigest(ctx context.Context, digest types.Digest) (types.Manifest, error)
	// GetManifestByTag resolves tag directly against the registry (not
	// through a PackageIndex) and delegates digest bookkeeping to the
	// same per-run cache GetManifestByDigest uses.
	GetManifestByTag(ctx context.Context, tag string) (types.Manifest, error)
	// PutManifest uploads m, assigning tag to the digest the registry
	// computes for it. Content-Type is m's declared media type.
	PutManifest(ctx context.Context, tag string, m types.Manifest) error
}

// Client is the concrete RegistryClient. One Client is scoped to a single
// "host/owner/repository" and lives for the duration of one cleanup task,
// matching spec.md §5's single-task cache/ownership model.
type Client struct {
	host       string
	repository string
	transport  *transport
	cache      *lru.Cache[types.Digest, types.Manifest]
	log        *logrus.Logger
}

// Opt configures a Client.
type Opt func(*Client)

// WithLog injects a logrus.Logger. Defaults to a discarding logger.
func WithLog(log *logrus.Logger) Opt {
	return func(c *Client) { c.log = log }
}

// New constructs a Client for host/repository (e.g. "ghcr.io",
// "owner/package"), authenticating lazily on first 401 challenge.
func New(host, repository string, cred Credential, opts ...Opt) (*Client, error) {
	cache, err := lru.New[types.Digest, types.Manifest](4096)
	if err != nil {
		return nil, fmt.Errorf("allocating manifest cache: %w", err)
	}
	c := &Client{
		host:       host,
		repository: repository,
		cache:      cache,
		log:        &logrus.Logger{Out: io.Discard, Formatter: new(logrus.TextFormatter), Level: logrus.WarnLevel},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.transport = newTransport(host, cred, c.log)
	return c, nil
}
