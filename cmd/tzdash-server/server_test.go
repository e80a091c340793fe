package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/codeGROOVE-dev/tzdash/pkg/board"
	"github.com/codeGROOVE-dev/tzdash/pkg/catalog"
	"github.com/codeGROOVE-dev/tzdash/pkg/dashboard"
	"github.com/codeGROOVE-dev/tzdash/pkg/tick"
	"github.com/codeGROOVE-dev/tzdash/pkg/timeapi"
	"github.com/google/go-cmp/cmp"
)

var instant = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type stubFetcher struct{}

func (stubFetcher) Fetch(_ context.Context, tz string) (timeapi.TimeRecord, error) {
	if tz == "Invalid/Zone" {
		return timeapi.TimeRecord{}, &timeapi.APIError{StatusCode: 400, Message: "Invalid Timezone"}
	}
	return timeapi.TimeRecord{Timezone: tz, Instant: instant, UTCOffset: "+00:00", Abbreviation: timeapi.Abbreviate(tz)}, nil
}

type stubLoader struct{}

func (stubLoader) Load(context.Context) (*catalog.Catalog, error) {
	return catalog.New([]string{"America/New_York", "Asia/Tokyo", "Europe/London"}), nil
}

func newTestServer(t *testing.T, zones []string) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := tick.NewManual(instant)
	m := dashboard.NewManager(stubFetcher{},
		dashboard.WithTimezones(zones),
		dashboard.WithCatalogLoader(stubLoader{}),
		dashboard.WithClock(clock),
		dashboard.WithLogger(logger))
	b := board.New(context.Background(), m, stubFetcher{}, board.WithClock(clock), board.WithLogger(logger))
	m.Initialize(context.Background())

	s := &server{manager: m, board: b, limiter: newRateLimiter(60, 2), logger: logger}
	ts := httptest.NewServer(s.routes())
	t.Cleanup(func() {
		ts.Close()
		b.Close()
	})
	return ts
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

type clocksJSON struct {
	Featured string   `json:"featured"`
	Active   []string `json:"active"`
	Clocks   []struct {
		Timezone string `json:"timezone"`
		City     string `json:"city"`
		Slot     string `json:"slot"`
		Status   string `json:"status"`
		Err      string `json:"error"`
	} `json:"clocks"`
	Loading bool `json:"loading"`
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestClocks(t *testing.T) {
	ts := newTestServer(t, []string{"America/New_York", "Invalid/Zone"})

	resp := do(t, http.MethodGet, ts.URL+"/api/v1/clocks", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" || resp.Header.Get("Cache-Control") == "" {
		t.Error("missing middleware headers")
	}
	got := decode[clocksJSON](t, resp)

	if got.Loading || len(got.Clocks) != 2 {
		t.Fatalf("response = %+v", got)
	}
	ny, bad := got.Clocks[0], got.Clocks[1]
	if ny.City != "New York" || ny.Status != "ready" || ny.Slot != "grid" {
		t.Errorf("New York = %+v", ny)
	}
	if bad.Status != "failed" || bad.Err != "API Error (400): Invalid Timezone" {
		t.Errorf("Invalid/Zone = %+v", bad)
	}
}

func TestAddAndRemove(t *testing.T) {
	ts := newTestServer(t, []string{"UTC", "Asia/Tokyo"})

	got := decode[clocksJSON](t, do(t, http.MethodPost, ts.URL+"/api/v1/timezones", `{"timezone":" Europe/London "}`))
	if got.Featured != "Europe/London" {
		t.Errorf("featured = %q", got.Featured)
	}
	if len(got.Clocks) == 0 || got.Clocks[0].Slot != "featured" {
		t.Errorf("featured clock not first: %+v", got.Clocks)
	}

	got = decode[clocksJSON](t, do(t, http.MethodDelete, ts.URL+"/api/v1/timezones/Europe/London", ""))
	if got.Featured != "" {
		t.Errorf("featured = %q after removal", got.Featured)
	}
	if diff := cmp.Diff([]string{"UTC", "Asia/Tokyo"}, got.Active); diff != "" {
		t.Errorf("Active mismatch (-want +got):\n%s", diff)
	}

	got = decode[clocksJSON](t, do(t, http.MethodDelete, ts.URL+"/api/v1/timezones/Asia/Tokyo?slot=grid", ""))
	if diff := cmp.Diff([]string{"UTC"}, got.Active); diff != "" {
		t.Errorf("Active mismatch (-want +got):\n%s", diff)
	}
}

func TestAddValidation(t *testing.T) {
	ts := newTestServer(t, nil)
	tests := []struct {
		name string
		body string
	}{
		{"blank", `{"timezone":"   "}`},
		{"missing", `{}`},
		{"not json", `timezone=UTC`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, http.MethodPost, ts.URL+"/api/v1/timezones", tt.body)
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}

	resp := do(t, http.MethodDelete, ts.URL+"/api/v1/timezones/UTC?slot=sidebar", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown slot status = %d, want 400", resp.StatusCode)
	}
}

func TestRefreshRateLimited(t *testing.T) {
	ts := newTestServer(t, []string{"UTC"})

	codes := make([]int, 3)
	for i := range codes {
		resp := do(t, http.MethodPost, ts.URL+"/api/v1/refresh", "")
		resp.Body.Close()
		codes[i] = resp.StatusCode
	}
	if diff := cmp.Diff([]int{200, 200, 429}, codes); diff != "" {
		t.Errorf("status codes mismatch (-want +got):\n%s", diff)
	}
}

func TestRefreshIgnoresForwardedForByDefault(t *testing.T) {
	ts := newTestServer(t, []string{"UTC"})

	codes := make([]int, 3)
	for i := range codes {
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/refresh", http.NoBody)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i+1))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		codes[i] = resp.StatusCode
	}
	if diff := cmp.Diff([]int{200, 200, 429}, codes); diff != "" {
		t.Errorf("status codes mismatch (-want +got):\n%s", diff)
	}
}

func TestRateLimiterZeroIsUnlimited(t *testing.T) {
	rl := newRateLimiter(0, 1)
	for i := range 100 {
		if !rl.allow("10.0.0.1") {
			t.Fatalf("request %d denied with no limit", i)
		}
	}

	rl = newRateLimiter(60, 1)
	if !rl.allow("10.0.0.1") || rl.allow("10.0.0.1") {
		t.Error("burst of 1 not enforced")
	}
	if !rl.allow("10.0.0.2") {
		t.Error("buckets shared across IPs")
	}
}

func TestSearch(t *testing.T) {
	ts := newTestServer(t, nil)

	got := decode[struct {
		Results []string `json:"results"`
	}](t, do(t, http.MethodGet, ts.URL+"/api/v1/search?q=TOK", ""))
	if diff := cmp.Diff([]string{"Asia/Tokyo"}, got.Results); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}

	got = decode[struct {
		Results []string `json:"results"`
	}](t, do(t, http.MethodGet, ts.URL+"/api/v1/search?q=", ""))
	if got.Results == nil || len(got.Results) != 0 {
		t.Errorf("blank query results = %v, want []", got.Results)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		xff    string
		trust  bool
		want   string
	}{
		{"remote addr", "10.0.0.1:5555", "", false, "10.0.0.1"},
		{"forwarded behind proxy", "10.0.0.1:5555", "203.0.113.9, 10.0.0.1", true, "203.0.113.9"},
		{"forwarded without proxy", "10.0.0.1:5555", "203.0.113.9", false, "10.0.0.1"},
		{"blank forwarded", "10.0.0.1:5555", " , 10.0.0.2", true, "10.0.0.1"},
		{"ipv6", "[::1]:80", "", false, "::1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := clientIP(r, tt.trust); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
