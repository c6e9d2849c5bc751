package registryclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/container-tools/ghcr-cleanup/types"
)

// maxAttempts bounds the transient-failure retry loop (spec.md §4.1:
// "Retries: up to 3 on transient failures with exponential backoff").
const maxAttempts = 3

// transport drives one HTTP request to completion: an unauthenticated
// probe, a one-shot bearer exchange on 401, and at most maxAttempts
// attempts in all on transient failures, grounded on internal/retryable.retryLoop's state
// machine (backoffSet/nextURL) but using cenkalti/backoff/v4 for the delay
// schedule and golang.org/x/time/rate to persist server-advertised
// rate limits across calls instead of a single in-flight sleep.
type transport struct {
	host       string
	httpClient *http.Client
	auth       *authenticator
	limiter    *rate.Limiter
	log        *logrus.Logger
}

func newTransport(host string, cred Credential, log *logrus.Logger) *transport {
	client := &http.Client{Timeout: 30 * time.Second}
	return &transport{
		host:       host,
		httpClient: client,
		auth:       newAuthenticator(cred, client),
		limiter:    rate.NewLimiter(rate.Inf, 1),
		log:        log,
	}
}

// result is a fully-drained, classified HTTP response.
type result struct {
	statusCode int
	header     http.Header
	body       []byte
}

func (t *transport) do(ctx context.Context, method, path, scope, contentType string, accept []string, body []byte) (*result, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 10 * time.Second

	authRetried := false
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := t.newRequest(ctx, method, path, contentType, accept, body)
		if err != nil {
			return nil, err
		}
		t.auth.authorize(req, scope)

		resp, err := t.httpClient.Do(req)
		if err != nil {
			lastErr = err
			t.log.WithFields(logrus.Fields{"method": method, "path": path, "err": err, "attempt": attempt}).
				Debug("transient transport error, retrying")
			t.sleep(ctx, bo.NextBackOff())
			continue
		}

		res, err := drain(resp)
		if err != nil {
			return nil, err
		}

		switch {
		case res.statusCode == http.StatusUnauthorized && !authRetried:
			authRetried = true
			newScope, err := t.auth.handleChallenge(ctx, resp)
			if err != nil {
				return nil, err
			}
			if newScope != "" {
				scope = newScope
			}
			// retry immediately; does not consume a transient-failure attempt
			attempt--
			continue
		case res.statusCode == http.StatusUnauthorized:
			return nil, fmt.Errorf("%w: %s %s", types.ErrAuthentication, method, path)
		case res.statusCode == http.StatusBadRequest || res.statusCode == http.StatusNotFound:
			return nil, fmt.Errorf("%w: %s %s", types.ErrNotFound, method, path)
		case res.statusCode == http.StatusTooManyRequests || res.statusCode >= 500:
			t.applyRateLimitHint(res.header)
			lastErr = fmt.Errorf("%w: status %d on %s %s", types.ErrTransport, res.statusCode, method, path)
			t.sleep(ctx, t.retryAfterOr(res.header, bo.NextBackOff()))
			continue
		case res.statusCode >= 200 && res.statusCode < 300:
			return res, nil
		default:
			return nil, fmt.Errorf("unexpected status %d on %s %s: %s", res.statusCode, method, path, string(res.body))
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%w: exhausted retries on %s %s", types.ErrTransport, method, path)
}

func (t *transport) newRequest(ctx context.Context, method, path, contentType string, accept []string, body []byte) (*http.Request, error) {
	url := "https://" + t.host + path
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	for _, a := range accept {
		req.Header.Add("Accept", a)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if body != nil {
		req.ContentLength = int64(len(body))
	}
	return req, nil
}

func drain(resp *http.Response) (*result, error) {
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return &result{statusCode: resp.StatusCode, header: resp.Header, body: b}, nil
}

// applyRateLimitHint narrows the limiter when the server advertises a
// Retry-After delay, so subsequent requests within this task self-throttle
// instead of hammering a registry that is already rate-limiting us
// (spec.md §4.1 "honour server rate-limit hints").
func (t *transport) applyRateLimitHint(h http.Header) {
	ra := h.Get("Retry-After")
	if ra == "" {
		return
	}
	secs, err := strconv.Atoi(ra)
	if err != nil || secs <= 0 {
		return
	}
	t.limiter.SetLimit(rate.Every(time.Duration(secs) * time.Second))
	t.limiter.SetBurst(1)
}

func (t *transport) retryAfterOr(h http.Header, fallback time.Duration) time.Duration {
	ra := h.Get("Retry-After")
	if ra == "" {
		return fallback
	}
	secs, err := strconv.Atoi(ra)
	if err != nil || secs <= 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}

func (t *transport) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
