package packageclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/container-tools/ghcr-cleanup/types"
)

const pageSize = 100

// GitHubClient is the concrete PackageClient against api.github.com's
// container package endpoints.
type GitHubClient struct {
	token      string
	owner      string
	ownerKind  OwnerKind
	httpClient *http.Client
	log        *logrus.Logger
	apiBase    string

	consecutiveNotFound int
}

// Opt configures a GitHubClient.
type Opt func(*GitHubClient)

func WithLog(log *logrus.Logger) Opt { return func(c *GitHubClient) { c.log = log } }

// WithAPIBase overrides the API base URL (default "https://api.github.com"),
// for tests that point the client at an httptest.Server.
func WithAPIBase(base string) Opt { return func(c *GitHubClient) { c.apiBase = base } }

// NewGitHub constructs a PackageClient for owner, selecting the endpoint
// family per ownerKind (spec.md §4.2 "distinguish owner-kind ... and
// private-vs-public repositories").
func NewGitHub(token, owner string, ownerKind OwnerKind, opts ...Opt) *GitHubClient {
	c := &GitHubClient{
		token:      token,
		owner:      owner,
		ownerKind:  ownerKind,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        &logrus.Logger{Out: io.Discard, Level: logrus.WarnLevel, Formatter: new(logrus.TextFormatter)},
		apiBase:    "https://api.github.com",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *GitHubClient) versionsBase(pkg string) string {
	switch c.ownerKind {
	case OwnerOrg:
		return fmt.Sprintf("%s/orgs/%s/packages/container/%s/versions", c.apiBase, c.owner, pkg)
	case OwnerAuthenticatedUser:
		return fmt.Sprintf("%s/user/packages/container/%s/versions", c.apiBase, pkg)
	default:
		return fmt.Sprintf("%s/users/%s/packages/container/%s/versions", c.apiBase, c.owner, pkg)
	}
}

func (c *GitHubClient) deleteURL(pkg, id string) string {
	return c.versionsBase(pkg) + "/" + id
}

type ghVersion struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	UpdatedAt string `json:"updated_at"`
	Metadata  struct {
		Container struct {
			Tags []string `json:"tags"`
		} `json:"container"`
	} `json:"metadata"`
}

// ListVersions pages through the container versions API 100-per-page
// (spec.md §6 "paginated listing of versions (100 per page)").
func (c *GitHubClient) ListVersions(ctx context.Context, pkg string) ([]types.PackageVersion, error) {
	var out []types.PackageVersion
	page := 1
	for {
		var batch []ghVersion
		url := fmt.Sprintf("%s?per_page=%d&page=%d", c.versionsBase(pkg), pageSize, page)
		if err := c.getJSON(ctx, url, &batch); err != nil {
			return nil, fmt.Errorf("listing versions for %s (page %d): %w", pkg, page, err)
		}
		for _, v := range batch {
			updated, _ := time.Parse(time.RFC3339, v.UpdatedAt)
			out = append(out, types.PackageVersion{
				ID:        strconv.FormatInt(v.ID, 10),
				Digest:    types.Digest(v.Name),
				Tags:      v.Metadata.Container.Tags,
				UpdatedAt: updated,
			})
		}
		if len(batch) < pageSize {
			return out, nil
		}
		page++
	}
}

// DeleteVersion deletes a version by id, tolerating exactly one 404
// immediately following a successful delete (spec.md §4.2).
func (c *GitHubClient) DeleteVersion(ctx context.Context, pkg, id string) error {
	status, err := c.doDelete(ctx, c.deleteURL(pkg, id))
	if err != nil {
		return fmt.Errorf("deleting version %s/%s: %w", pkg, id, err)
	}
	if status == http.StatusNotFound {
		c.consecutiveNotFound++
		if c.consecutiveNotFound >= 2 {
			return fmt.Errorf("%w: version %s/%s", types.ErrRepeatedNotFound, pkg, id)
		}
		c.log.WithFields(logrus.Fields{"package": pkg, "id": id}).
			Warn("delete returned 404 immediately after success, treating as transient registry inconsistency")
		return nil
	}
	c.consecutiveNotFound = 0
	return nil
}

// ListPackages lists container package names under owner, used only when
// pattern-expansion is requested (spec.md §4.8).
func (c *GitHubClient) ListPackages(ctx context.Context, owner string) ([]string, error) {
	var base string
	switch c.ownerKind {
	case OwnerOrg:
		base = fmt.Sprintf("%s/orgs/%s/packages?package_type=container", c.apiBase, owner)
	case OwnerAuthenticatedUser:
		base = fmt.Sprintf("%s/user/packages?package_type=container", c.apiBase)
	default:
		base = fmt.Sprintf("%s/users/%s/packages?package_type=container", c.apiBase, owner)
	}
	var names []string
	page := 1
	for {
		var batch []struct {
			Name string `json:"name"`
		}
		url := fmt.Sprintf("%s&per_page=%d&page=%d", base, pageSize, page)
		if err := c.getJSON(ctx, url, &batch); err != nil {
			return nil, fmt.Errorf("listing packages for %s: %w", owner, err)
		}
		for _, p := range batch {
			names = append(names, p.Name)
		}
		if len(batch) < pageSize {
			return names, nil
		}
		page++
	}
}

func (c *GitHubClient) getJSON(ctx context.Context, url string, out interface{}) error {
	body, status, err := c.doWithRetry(ctx, http.MethodGet, url)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return types.ErrNotFound
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("%w: status %d from %s", types.ErrTransport, status, url)
	}
	return json.Unmarshal(body, out)
}

func (c *GitHubClient) doDelete(ctx context.Context, url string) (int, error) {
	_, status, err := c.doWithRetry(ctx, http.MethodDelete, url)
	return status, err
}

// doWithRetry applies the same up-to-3-attempt exponential backoff policy
// as registryclient's transport, for the packages API's own transient
// failures (spec.md §4.1's retry contract applies equally here).
func (c *GitHubClient) doWithRetry(ctx context.Context, method, url string) ([]byte, int, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 10 * time.Second

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, url, nil)
		if err != nil {
			return nil, 0, err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/vnd.github+json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			c.sleep(ctx, bo.NextBackOff())
			continue
		}
		body, err := readAndClose(resp)
		if err != nil {
			return nil, 0, err
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("%w: status %d", types.ErrTransport, resp.StatusCode)
			c.sleep(ctx, bo.NextBackOff())
			continue
		}
		return body, resp.StatusCode, nil
	}
	return nil, 0, lastErr
}

func (c *GitHubClient) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
