// Package timeapi fetches the current time of IANA timezones from a remote
// time API and maps its responses onto TimeRecord.
package timeapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the public timeapi.io service.
	DefaultBaseURL = "https://timeapi.io"

	currentTimePath = "/api/Time/current/zone"
	catalogPath     = "/api/TimeZone/AvailableTimeZones"

	// maxBodySize caps how much of any response we are willing to read.
	maxBodySize = 4 << 20
)

// DoFunc performs an HTTP request; CachedHTTPClient.Do has this shape.
type DoFunc func(context.Context, *http.Request) (*http.Response, error)

// Client talks to the remote time API. It never retries: retry policy
// belongs to callers.
type Client struct {
	logger       *slog.Logger
	httpClient   *http.Client
	cachedHTTPDo DoFunc
	baseURL      string
	userAgent    string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another deployment of the API.
func WithBaseURL(base string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(base, "/")
	}
}

// WithHTTPClient sets the HTTP client used for live time requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCachedDo routes catalog requests through do, typically a
// CachedHTTPClient. Current-time requests always bypass it.
func WithCachedDo(do DoFunc) Option {
	return func(c *Client) {
		c.cachedHTTPDo = do
	}
}

// WithUserAgent sets the User-Agent header on every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// NewClient creates a time API client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		logger:     slog.Default(),
		httpClient: defaultHTTPClient(),
		baseURL:    DefaultBaseURL,
		userAgent:  "tzdash",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// defaultHTTPClient returns an HTTP client with a per-request timeout,
// which is the only bound on how long a batch can wait for one zone.
func defaultHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 15 * time.Second,
	}
}

// Fetch returns the current time for one IANA timezone. Errors are
// *NetworkError, *APIError or *SchemaError.
func (c *Client) Fetch(ctx context.Context, timezone string) (TimeRecord, error) {
	endpoint := c.baseURL + currentTimePath + "?" + url.Values{"timeZone": {timezone}}.Encode()
	body, err := c.get(ctx, endpoint, func(req *http.Request) (*http.Response, error) {
		return c.httpClient.Do(req)
	})
	if err != nil {
		return TimeRecord{}, err
	}
	rec, err := parseRecord(body, timezone)
	if err != nil {
		c.logger.Debug("unusable time response", "timezone", timezone, "error", err)
		return TimeRecord{}, err
	}
	return rec, nil
}

// AvailableTimezones returns every IANA identifier the remote knows about.
// Errors are the same kinds as Fetch.
func (c *Client) AvailableTimezones(ctx context.Context) ([]string, error) {
	do := func(req *http.Request) (*http.Response, error) {
		if c.cachedHTTPDo != nil {
			return c.cachedHTTPDo(ctx, req)
		}
		return c.httpClient.Do(req)
	}
	body, err := c.get(ctx, c.baseURL+catalogPath, do)
	if err != nil {
		return nil, err
	}
	var names []string
	if err := json.Unmarshal(body, &names); err != nil {
		return nil, &SchemaError{Err: err}
	}
	return names, nil
}

func (c *Client) get(ctx context.Context, endpoint string, do func(*http.Request) (*http.Response, error)) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := do(req)
	if err != nil {
		c.logger.Debug("request failed", "url", endpoint, "error", err, "duration", time.Since(start))
		return nil, &NetworkError{URL: endpoint, Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		text, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		apiErr.Message = strings.TrimSpace(string(text))
		if readErr != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		c.logger.Debug("request rejected", "url", endpoint, "status", resp.StatusCode, "duration", time.Since(start))
		return nil, apiErr
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &NetworkError{URL: endpoint, Err: fmt.Errorf("reading body: %w", err)}
	}
	c.logger.Debug("request completed",
		"url", endpoint,
		"status", resp.StatusCode,
		"bytes", len(body),
		"from_cache", resp.Header.Get("X-From-Cache") == "true",
		"duration", time.Since(start))
	return body, nil
}
