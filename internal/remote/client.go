// Package remote holds the HTTP plumbing shared by every outbound call the
// agent makes: rate limiting, User-Agent, status checking, and error kinds.
package remote

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sydlexius/archarvest/internal/version"
)

// maxTextBody caps in-memory response bodies (JSON, checksums, catalogs).
const maxTextBody = 4 * 1024 * 1024

// Client wraps an *http.Client with per-endpoint rate limiting.
type Client struct {
	http    *http.Client
	limiter *RateLimiterMap
	logger  *slog.Logger
}

// NewClient creates a Client. A nil httpClient gets a 2 minute timeout.
func NewClient(httpClient *http.Client, limiter *RateLimiterMap, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if limiter == nil {
		limiter = NewRateLimiterMap()
	}
	return &Client{
		http:    httpClient,
		limiter: limiter,
		logger:  logger.With(slog.String("component", "remote")),
	}
}

// Do waits for the endpoint's limiter, sends req, and returns the response
// only for 2xx statuses. Any other outcome is a *NetworkError and the body
// has already been closed.
func (c *Client) Do(ctx context.Context, ep Endpoint, req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(ctx, ep); err != nil {
		return nil, &NetworkError{Endpoint: ep, URL: req.URL.String(), Cause: fmt.Errorf("rate limiter: %w", err)}
	}
	req = req.WithContext(ctx)
	req.Header.Set("User-Agent", version.UserAgent())

	start := time.Now()
	resp, err := c.http.Do(req) //nolint:gosec // URLs come from operator configuration
	if err != nil {
		return nil, &NetworkError{Endpoint: ep, URL: req.URL.String(), Cause: err}
	}

	c.logger.Debug("request completed",
		slog.String("endpoint", string(ep)),
		slog.String("method", req.Method),
		slog.String("url", redact(req.URL.String())),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxTextBody)) //nolint:errcheck
		resp.Body.Close()                                            //nolint:errcheck
		return nil, &NetworkError{Endpoint: ep, URL: req.URL.String(), StatusCode: resp.StatusCode}
	}
	return resp, nil
}

// GetBytes issues a GET and returns the (size-capped) body.
func (c *Client) GetBytes(ctx context.Context, ep Endpoint, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.Do(ctx, ep, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTextBody))
	if err != nil {
		return nil, &NetworkError{Endpoint: ep, URL: rawURL, Cause: fmt.Errorf("reading body: %w", err)}
	}
	return body, nil
}

// GetText is GetBytes for plain-text endpoints.
func (c *Client) GetText(ctx context.Context, ep Endpoint, rawURL string) (string, error) {
	body, err := c.GetBytes(ctx, ep, rawURL)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// redact hides the userToken query parameter so tokens never reach the logs.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery == "" {
		return raw
	}
	q := u.Query()
	for key := range q {
		if strings.EqualFold(key, "userToken") {
			q.Set(key, "REDACTED")
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
