// Package httpcache caches successful GET responses in an otter cache,
// optionally persisted to disk between runs.
package httpcache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/maypok86/otter/v2"
)

const cacheFileName = "tzdash-cache.gob"

// Entry is one cached response body.
type Entry struct {
	ExpiresAt time.Time
	ETag      string
	Data      []byte
}

// OtterCache stores response bodies keyed by URL.
type OtterCache struct {
	cache      *otter.Cache[string, Entry]
	logger     *slog.Logger
	saveCancel context.CancelFunc
	now        func() time.Time
	dir        string
	saveWg     sync.WaitGroup
	ttl        time.Duration
	mu         sync.Mutex
}

func newOtter(ttl time.Duration, logger *slog.Logger) *OtterCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &OtterCache{
		cache: otter.Must(&otter.Options[string, Entry]{
			MaximumSize:      1_000,
			ExpiryCalculator: otter.ExpiryWriting[string, Entry](ttl),
		}),
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// NewMemoryOnlyCache returns a cache that is never written to disk.
func NewMemoryOnlyCache(ttl time.Duration, logger *slog.Logger) *OtterCache {
	c := newOtter(ttl, logger)
	c.logger.Debug("memory-only cache initialized", "ttl", ttl)
	return c
}

// NewOtterCache returns a cache persisted under dir. Entries saved by an
// earlier run are loaded if they have not expired, and the cache is saved
// every saveEvery until ctx is done or Close is called.
func NewOtterCache(ctx context.Context, dir string, ttl, saveEvery time.Duration, logger *slog.Logger) (*OtterCache, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	c := newOtter(ttl, logger)
	c.dir = dir

	if err := c.loadFromDisk(); err != nil {
		c.logger.Warn("failed to load cache from disk", "error", err)
	}
	c.logger.Debug("cache initialized", "dir", dir, "entries_loaded", c.cache.EstimatedSize())

	if saveEvery > 0 {
		c.startPeriodicSave(ctx, saveEvery)
	}
	return c, nil
}

func key(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached body and ETag for url.
func (c *OtterCache) Get(url string) ([]byte, string, bool) {
	k := key(url)
	entry, found := c.cache.GetIfPresent(k)
	if !found {
		c.logger.Debug("cache miss", "url", url)
		return nil, "", false
	}
	if c.now().After(entry.ExpiresAt) {
		c.logger.Debug("cache miss", "url", url, "reason", "expired", "expired_at", entry.ExpiresAt)
		c.cache.Invalidate(k)
		return nil, "", false
	}
	return entry.Data, entry.ETag, true
}

// Set stores a body for url.
func (c *OtterCache) Set(url string, data []byte, etag string) {
	entry := Entry{
		Data:      data,
		ExpiresAt: c.now().Add(c.ttl),
		ETag:      etag,
	}
	c.cache.Set(key(url), entry)
	c.logger.Debug("cache set", "url", url, "expires_at", entry.ExpiresAt, "size", len(data))
}

// Len is the approximate number of cached entries.
func (c *OtterCache) Len() int {
	return c.cache.EstimatedSize()
}

func (c *OtterCache) path() string {
	return filepath.Join(c.dir, cacheFileName)
}

func (c *OtterCache) loadFromDisk() error {
	file, err := os.Open(c.path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("opening cache file: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			c.logger.Debug("failed to close cache file", "error", closeErr)
		}
	}()

	var entries map[string]Entry
	if err := gob.NewDecoder(file).Decode(&entries); err != nil {
		return fmt.Errorf("decoding cache file: %w", err)
	}

	now := c.now()
	valid := 0
	for k, entry := range entries {
		if now.Before(entry.ExpiresAt) {
			c.cache.Set(k, entry)
			valid++
		}
	}
	c.logger.Debug("loaded cache from disk", "path", c.path(), "total_entries", len(entries), "valid_entries", valid)
	return nil
}

func (c *OtterCache) saveToDisk() error {
	if c.dir == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := make(map[string]Entry)
	now := c.now()
	for k, entry := range c.cache.All() {
		if now.Before(entry.ExpiresAt) {
			entries[k] = entry
		}
	}

	tempPath := c.path() + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("creating temp cache file: %w", err)
	}
	defer func() {
		if removeErr := os.Remove(tempPath); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			c.logger.Debug("failed to remove temp file", "error", removeErr)
		}
	}()

	if err := gob.NewEncoder(file).Encode(entries); err != nil {
		_ = file.Close() //nolint:errcheck // already failing
		return fmt.Errorf("encoding cache to file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing cache file: %w", err)
	}
	if err := os.Rename(tempPath, c.path()); err != nil {
		return fmt.Errorf("replacing cache file: %w", err)
	}

	c.logger.Debug("cache saved to disk", "entries", len(entries), "path", c.path())
	return nil
}

func (c *OtterCache) startPeriodicSave(ctx context.Context, every time.Duration) {
	saveCtx, cancel := context.WithCancel(ctx)
	c.saveCancel = cancel

	c.saveWg.Add(1)
	go func() {
		defer c.saveWg.Done()

		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-saveCtx.Done():
				return
			case <-ticker.C:
				if err := c.saveToDisk(); err != nil {
					c.logger.Error("periodic cache save failed", "error", err)
				}
			}
		}
	}()
}

// Close stops periodic saving and writes the cache one last time.
func (c *OtterCache) Close() error {
	if c.saveCancel != nil {
		c.saveCancel()
	}
	c.saveWg.Wait()

	if err := c.saveToDisk(); err != nil {
		c.logger.Error("final cache save failed", "error", err)
		return err
	}
	return nil
}

// HTTPClient is the subset of *http.Client the cache needs.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// CachedHTTPClient serves GET requests from the cache when it can.
type CachedHTTPClient struct {
	cache      *OtterCache
	httpClient HTTPClient
	logger     *slog.Logger
}

// NewCachedHTTPClient wraps httpClient with cache. A nil cache disables caching.
func NewCachedHTTPClient(cache *OtterCache, httpClient HTTPClient, logger *slog.Logger) *CachedHTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedHTTPClient{
		cache:      cache,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Do performs req, answering from the cache for GET requests seen before.
// Only 200 responses are stored. Hits carry an X-From-Cache: true header.
func (c *CachedHTTPClient) Do(_ context.Context, req *http.Request) (*http.Response, error) {
	if c.cache == nil || req.Method != http.MethodGet {
		return c.httpClient.Do(req)
	}

	url := req.URL.String()
	if data, etag, found := c.cache.Get(url); found {
		resp := &http.Response{
			Status:     "200 OK",
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(bytes.NewReader(data)),
			Header:     make(http.Header),
			Request:    req,
		}
		resp.Header.Set("X-From-Cache", "true")
		if etag != "" {
			resp.Header.Set("ETag", etag)
		}
		return resp, nil
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return resp, nil
	}

	body, err := io.ReadAll(resp.Body)
	if closeErr := resp.Body.Close(); closeErr != nil {
		c.logger.Debug("failed to close response body", "error", closeErr)
	}
	if err != nil {
		return nil, err
	}
	c.cache.Set(url, body, resp.Header.Get("ETag"))
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}
