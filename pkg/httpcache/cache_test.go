package httpcache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetSetExpiry(t *testing.T) {
	c := NewMemoryOnlyCache(time.Hour, slog.Default())
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Set("https://timeapi.io/api/TimeZone/AvailableTimeZones", []byte(`["UTC"]`), `"v1"`)

	data, etag, ok := c.Get("https://timeapi.io/api/TimeZone/AvailableTimeZones")
	if !ok {
		t.Fatal("Get() missed a fresh entry")
	}
	if string(data) != `["UTC"]` || etag != `"v1"` {
		t.Errorf("Get() = %q, %q", data, etag)
	}

	now = now.Add(2 * time.Hour)
	if _, _, ok := c.Get("https://timeapi.io/api/TimeZone/AvailableTimeZones"); ok {
		t.Error("Get() returned an expired entry")
	}
}

func TestDiskRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := NewOtterCache(ctx, dir, time.Hour, 0, slog.Default())
	if err != nil {
		t.Fatalf("NewOtterCache() error = %v", err)
	}
	first.Set("https://example.test/zones", []byte("zones"), "")
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	second, err := NewOtterCache(ctx, dir, time.Hour, 0, slog.Default())
	if err != nil {
		t.Fatalf("NewOtterCache() error = %v", err)
	}
	defer second.Close() //nolint:errcheck // test cleanup

	data, _, ok := second.Get("https://example.test/zones")
	if !ok || string(data) != "zones" {
		t.Errorf("reloaded Get() = %q, %v; want zones, true", data, ok)
	}
}

func TestCachedHTTPClient(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("ETag", fmt.Sprintf(`"%d"`, n))
		fmt.Fprint(w, `["Asia/Tokyo"]`)
	}))
	defer srv.Close()

	client := NewCachedHTTPClient(NewMemoryOnlyCache(time.Hour, nil), srv.Client(), nil)
	ctx := context.Background()

	get := func(path string) *http.Response {
		t.Helper()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+path, http.NoBody)
		if err != nil {
			t.Fatal(err)
		}
		resp, err := client.Do(ctx, req)
		if err != nil {
			t.Fatalf("Do(%s) error = %v", path, err)
		}
		return resp
	}

	for i := range 3 {
		resp := get("/zones")
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close() //nolint:errcheck // test
		if err != nil {
			t.Fatal(err)
		}
		if string(body) != `["Asia/Tokyo"]` {
			t.Errorf("body = %q", body)
		}
		fromCache := resp.Header.Get("X-From-Cache") == "true"
		if fromCache != (i > 0) {
			t.Errorf("request %d: X-From-Cache = %v", i, fromCache)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("upstream hits = %d, want 1", hits.Load())
	}

	for range 2 {
		resp := get("/broken")
		resp.Body.Close() //nolint:errcheck // test
		if resp.StatusCode != http.StatusBadGateway {
			t.Errorf("status = %d, want 502", resp.StatusCode)
		}
	}
	if hits.Load() != 3 {
		t.Errorf("upstream hits = %d, want 3 (errors must not be cached)", hits.Load())
	}
}

func TestCachedHTTPClientNilCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	client := NewCachedHTTPClient(nil, srv.Client(), nil)
	for range 2 {
		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, http.NoBody)
		if err != nil {
			t.Fatal(err)
		}
		resp, err := client.Do(context.Background(), req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close() //nolint:errcheck // test
	}
	if hits.Load() != 2 {
		t.Errorf("upstream hits = %d, want 2", hits.Load())
	}
}
