package registryclient

import (
	"context"
	"encoding/json"
	"fmt"

	digest "github.com/opencontainers/go-digest"
	"github.com/sirupsen/logrus"

	"github.com/container-tools/ghcr-cleanup/types"
)

func marshalManifest(m types.Manifest) ([]byte, error) {
	return json.Marshal(m)
}

func (c *Client) manifestPath(ref string) string {
	return fmt.Sprintf("/v2/%s/manifests/%s", c.repository, ref)
}

func (c *Client) pullScope() string {
	return "repository:" + c.repository + ":pull"
}

func (c *Client) pushScope() string {
	return "repository:" + c.repository + ":pull,push"
}

// GetManifestByDigest fetches and parses the manifest at digest, caching
// it for the lifetime of the Client (spec.md §4.1).
func (c *Client) GetManifestByDigest(ctx context.Context, d types.Digest) (types.Manifest, error) {
	if m, ok := c.cache.Get(d); ok {
		return m, nil
	}
	res, err := c.transport.do(ctx, "GET", c.manifestPath(string(d)), c.pullScope(), "", types.AcceptHeader, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching manifest %s: %w", d, err)
	}
	m, err := types.ParseManifest(res.header.Get("Content-Type"), res.body)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", d, err)
	}
	c.cache.Add(d, m)
	c.log.WithFields(logrus.Fields{"digest": string(d), "mediaType": m.MediaType(), "isIndex": m.IsIndex()}).
		Debug("parsed manifest")
	return m, nil
}

// GetManifestByTag resolves tag directly against the registry and parses
// the result; its digest is computed by SHA-256 over the raw response
// bytes per spec.md §6, then the same per-digest cache is populated so a
// subsequent GetManifestByDigest for the resolved digest is free.
func (c *Client) GetManifestByTag(ctx context.Context, tag string) (types.Manifest, error) {
	res, err := c.transport.do(ctx, "GET", c.manifestPath(tag), c.pullScope(), "", types.AcceptHeader, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching manifest tag %s: %w", tag, err)
	}
	d := resolveDigest(res.header.Get("Docker-Content-Digest"), res.body)
	if m, ok := c.cache.Get(d); ok {
		return m, nil
	}
	m, err := types.ParseManifest(res.header.Get("Content-Type"), res.body)
	if err != nil {
		return nil, fmt.Errorf("manifest tag %s: %w", tag, err)
	}
	c.cache.Add(d, m)
	return m, nil
}

// PutManifest uploads m under tag. The registry computes and returns the
// new digest via Docker-Content-Digest; the cache invalidation spec.md
// §4.1 describes is a no-op here because the cache is keyed by content
// digest, not by tag, so the prior digest's cache entry remains valid.
func (c *Client) PutManifest(ctx context.Context, tag string, m types.Manifest) error {
	raw, err := marshalManifest(m)
	if err != nil {
		return fmt.Errorf("marshalling manifest for tag %s: %w", tag, err)
	}
	_, err = c.transport.do(ctx, "PUT", c.manifestPath(tag), c.pushScope(), m.MediaType(), nil, raw)
	if err != nil {
		return fmt.Errorf("putting manifest tag %s: %w", tag, err)
	}
	return nil
}

func resolveDigest(headerDigest string, body []byte) types.Digest {
	if headerDigest != "" {
		return types.Digest(headerDigest)
	}
	return types.Digest(digest.FromBytes(body).String())
}
