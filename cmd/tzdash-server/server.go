package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/tzdash/pkg/board"
	"github.com/codeGROOVE-dev/tzdash/pkg/dashboard"
	"golang.org/x/time/rate"
)

const maxRequestBody = 4 << 10

// rateLimiter keeps one token bucket per client IP. Buckets are dropped
// wholesale every cleanup interval. perMinute <= 0 means unlimited.
type rateLimiter struct {
	perIP       map[string]*rate.Limiter
	lastCleanup time.Time
	every       time.Duration
	limit       rate.Limit
	burst       int
	mu          sync.Mutex
}

func newRateLimiter(perMinute, burst int) *rateLimiter {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	return &rateLimiter{
		perIP:       make(map[string]*rate.Limiter),
		lastCleanup: time.Now(),
		every:       10 * time.Minute,
		limit:       limit,
		burst:       burst,
	}
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastCleanup) > rl.every {
		rl.perIP = make(map[string]*rate.Limiter)
		rl.lastCleanup = time.Now()
	}
	l, ok := rl.perIP[ip]
	if !ok {
		l = rate.NewLimiter(rl.limit, rl.burst)
		rl.perIP[ip] = l
	}
	return l.Allow()
}

// clientIP identifies the caller. X-Forwarded-For is only honored behind a
// trusted proxy; otherwise any client could pick its own address.
func clientIP(r *http.Request, trustProxy bool) string {
	if xff := r.Header.Get("X-Forwarded-For"); trustProxy && xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type server struct {
	manager    *dashboard.Manager
	board      *board.Board
	limiter    *rateLimiter
	logger     *slog.Logger
	trustProxy bool
}

// clocksResponse is the dashboard as served to API clients.
type clocksResponse struct {
	Featured   string            `json:"featured,omitempty"`
	Active     []string          `json:"active"`
	Clocks     []board.ClockView `json:"clocks"`
	Generation uint64            `json:"generation"`
	Loading    bool              `json:"loading"`
	Refreshing bool              `json:"refreshing"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/v1/clocks", s.handleClocks)
	mux.HandleFunc("POST /api/v1/timezones", s.handleAdd)
	mux.HandleFunc("DELETE /api/v1/timezones/{timezone...}", s.handleRemove)
	mux.HandleFunc("POST /api/v1/refresh", s.handleRefresh)
	mux.HandleFunc("GET /api/v1/search", s.handleSearch)
	return s.wrap(mux)
}

func (s *server) wrap(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := fmt.Sprintf("%d-%d", time.Now().Unix(), time.Now().Nanosecond())
		w.Header().Set("X-Request-ID", requestID)

		defer func() {
			if err := recover(); err != nil {
				const size = 64 << 10
				buf := make([]byte, size)
				buf = buf[:runtime.Stack(buf, false)]
				s.logger.Error("PANIC: Request handler crashed",
					"error", err,
					"path", r.URL.Path,
					"method", r.Method,
					"request_id", requestID,
					"client_ip", clientIP(r, s.trustProxy),
					"stack", string(buf))
				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}
		}()

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
		}

		handler.ServeHTTP(w, r)
	})
}

func (s *server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response",
			"request_id", w.Header().Get("X-Request-ID"),
			"path", r.URL.Path,
			"error", err)
	}
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	s.writeJSON(w, r, status, errorResponse{Error: msg})
}

func (s *server) snapshot(st dashboard.State) clocksResponse {
	return clocksResponse{
		Featured:   st.Featured,
		Active:     st.Active,
		Clocks:     s.board.Views(),
		Generation: st.Generation,
		Loading:    st.Loading,
		Refreshing: st.Refreshing,
	}
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleClocks(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.snapshot(s.manager.State()))
}

func (s *server) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Timezone string `json:"timezone"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	tz := strings.TrimSpace(req.Timezone)
	if tz == "" {
		s.writeError(w, r, http.StatusBadRequest, "timezone is required")
		return
	}

	st := s.manager.AddTimezone(tz)
	s.logger.Info("Timezone added",
		"request_id", w.Header().Get("X-Request-ID"),
		"timezone", tz,
		"in_catalog", st.Catalog.Contains(tz))
	s.writeJSON(w, r, http.StatusOK, s.snapshot(st))
}

func (s *server) handleRemove(w http.ResponseWriter, r *http.Request) {
	tz := r.PathValue("timezone")
	var st dashboard.State
	switch slot := r.URL.Query().Get("slot"); slot {
	case "":
		st = s.manager.RemoveTimezone(tz)
	case dashboard.SlotGrid.String():
		st = s.manager.RemoveFromSlot(dashboard.SlotGrid, tz)
	case dashboard.SlotFeatured.String():
		st = s.manager.RemoveFromSlot(dashboard.SlotFeatured, tz)
	default:
		s.writeError(w, r, http.StatusBadRequest, fmt.Sprintf("unknown slot %q", slot))
		return
	}
	s.writeJSON(w, r, http.StatusOK, s.snapshot(st))
}

func (s *server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r, s.trustProxy)
	if !s.limiter.allow(ip) {
		s.logger.Warn("Rate limit exceeded",
			"request_id", w.Header().Get("X-Request-ID"),
			"client_ip", ip)
		s.writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded, try again shortly")
		return
	}

	start := time.Now()
	st := s.manager.RefreshAll(r.Context())
	s.logger.Info("Refresh complete",
		"request_id", w.Header().Get("X-Request-ID"),
		"zones", len(st.Outcomes),
		"duration", time.Since(start))
	s.writeJSON(w, r, http.StatusOK, s.snapshot(st))
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	hits := s.manager.Suggest(q)
	if hits == nil {
		hits = []string{}
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{"query": q, "results": hits})
}
