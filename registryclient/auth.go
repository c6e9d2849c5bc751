package registryclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/container-tools/ghcr-cleanup/types"
)

// Credential is the caller-supplied token exchanged for a scoped bearer
// token (spec.md §4.1 "exchanges the caller-supplied credential for a
// scoped token").
type Credential struct {
	Username string
	Password string
}

// bearerChallenge is the parsed WWW-Authenticate: Bearer header.
type bearerChallenge struct {
	realm   string
	service string
	scope   string
}

// authenticator performs the initial unauthenticated probe, challenge
// parsing, and token exchange, narrowed from pkg/auth's
// ParseAuthHeader/BearerHandler to the single realm+service+scope shape
// spec.md §6 specifies, caching the exchanged token per scope for this
// task's lifetime instead of a host-wide handler registry.
type authenticator struct {
	cred   Credential
	client *http.Client

	mu     sync.Mutex
	tokens map[string]string // scope -> bearer token, cached for this task's lifetime
}

func newAuthenticator(cred Credential, client *http.Client) *authenticator {
	return &authenticator{cred: cred, client: client, tokens: map[string]string{}}
}

// authorize adds a cached bearer token for scope to req, if one exists.
func (a *authenticator) authorize(req *http.Request, scope string) {
	a.mu.Lock()
	tok, ok := a.tokens[scope]
	a.mu.Unlock()
	if ok {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
}

// handleChallenge exchanges the credential for a token per the
// WWW-Authenticate header on resp, and caches it under the header's scope.
func (a *authenticator) handleChallenge(ctx context.Context, resp *http.Response) (string, error) {
	challenge, err := parseBearerChallenge(resp.Header.Get("WWW-Authenticate"))
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrAuthentication, err)
	}
	tok, err := a.exchangeToken(ctx, challenge)
	if err != nil {
		return "", fmt.Errorf("%w: token exchange: %v", types.ErrAuthentication, err)
	}
	a.mu.Lock()
	a.tokens[challenge.scope] = tok
	a.mu.Unlock()
	return challenge.scope, nil
}

func (a *authenticator) exchangeToken(ctx context.Context, c bearerChallenge) (string, error) {
	u, err := url.Parse(c.realm)
	if err != nil {
		return "", fmt.Errorf("parsing realm %q: %w", c.realm, err)
	}
	q := u.Query()
	if c.service != "" {
		q.Set("service", c.service)
	}
	if c.scope != "" {
		q.Set("scope", c.scope)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	if a.cred.Password != "" {
		basic := base64.StdEncoding.EncodeToString([]byte("token:" + a.cred.Password))
		req.Header.Set("Authorization", "Basic "+basic)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}
	var body struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}
	if body.Token != "" {
		return body.Token, nil
	}
	if body.AccessToken != "" {
		return body.AccessToken, nil
	}
	return "", fmt.Errorf("token response carried no token")
}

// parseBearerChallenge parses a header of the form:
// Bearer realm="https://...",service="...",scope="repository:x:pull"
func parseBearerChallenge(header string) (bearerChallenge, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return bearerChallenge{}, fmt.Errorf("unsupported auth challenge %q", header)
	}
	out := bearerChallenge{}
	for _, part := range strings.Split(header[len(prefix):], ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		val := strings.Trim(kv[1], `"`)
		switch kv[0] {
		case "realm":
			out.realm = val
		case "service":
			out.service = val
		case "scope":
			out.scope = val
		}
	}
	if out.realm == "" {
		return bearerChallenge{}, fmt.Errorf("challenge missing realm: %q", header)
	}
	return out, nil
}
