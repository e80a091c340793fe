// Package main implements the tzdash web server, a JSON API over one shared
// world clock dashboard.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/codeGROOVE-dev/tzdash/pkg/board"
	"github.com/codeGROOVE-dev/tzdash/pkg/catalog"
	"github.com/codeGROOVE-dev/tzdash/pkg/dashboard"
	"github.com/codeGROOVE-dev/tzdash/pkg/httpcache"
	"github.com/codeGROOVE-dev/tzdash/pkg/timeapi"
)

const versionString = "tzdash Server v1.0.0"

var (
	port     = flag.String("port", "8080", "Port for web server (or set PORT)")
	apiURL   = flag.String("api-url", "", "Time API base URL (or set TZDASH_API_URL)")
	zones    = flag.String("zones", "", "Comma-separated starting timezones (or set TZDASH_ZONES)")
	cacheDir = flag.String("cache-dir", "", "Cache directory for the timezone catalog (or set CACHE_DIR)")
	perMin   = flag.Int("refresh-per-minute", 15, "Refresh requests allowed per client IP per minute (0 for unlimited)")
	trust    = flag.Bool("trust-proxy", false, "Use X-Forwarded-For for the client IP (only behind a trusted proxy)")
	verbose  = flag.Bool("verbose", false, "Enable verbose logging")
	version  = flag.Bool("version", false, "Show version")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Println(versionString)
		return
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if p := os.Getenv("PORT"); p != "" && *port == "8080" {
		*port = p
	}
	if *apiURL == "" {
		*apiURL = os.Getenv("TZDASH_API_URL")
	}
	if *zones == "" {
		*zones = os.Getenv("TZDASH_ZONES")
	}
	if *cacheDir == "" {
		*cacheDir = os.Getenv("CACHE_DIR")
	}

	if *perMin < 0 {
		logger.Error("Invalid -refresh-per-minute, must be 0 or more", "value", *perMin)
		os.Exit(2)
	}

	logger.Info("Server configuration",
		"port", *port,
		"verbose", *verbose,
		"cache_dir", *cacheDir,
		"api_url", *apiURL,
		"refresh_per_minute", *perMin,
		"trust_proxy", *trust)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cache *httpcache.OtterCache
	if *cacheDir != "" {
		var err error
		cache, err = httpcache.NewOtterCache(ctx, *cacheDir, 24*time.Hour, 10*time.Minute, logger)
		if err != nil {
			logger.Warn("Disk cache unavailable, using memory only", "error", err)
			cache = nil
		}
	}
	if cache == nil {
		cache = httpcache.NewMemoryOnlyCache(24*time.Hour, logger)
	}
	defer func() {
		if err := cache.Close(); err != nil {
			logger.Error("Failed to close cache", "error", err)
		}
	}()

	clientOpts := []timeapi.Option{
		timeapi.WithLogger(logger),
		timeapi.WithUserAgent(versionString),
		timeapi.WithCachedDo(httpcache.NewCachedHTTPClient(cache, &http.Client{Timeout: 15 * time.Second}, logger).Do),
	}
	if *apiURL != "" {
		clientOpts = append(clientOpts, timeapi.WithBaseURL(*apiURL))
	}
	client := timeapi.NewClient(clientOpts...)

	managerOpts := []dashboard.Option{
		dashboard.WithLogger(logger),
		dashboard.WithCatalogLoader(catalog.NewLoader(client, logger, 3, time.Second)),
	}
	if *zones != "" {
		managerOpts = append(managerOpts, dashboard.WithTimezones(strings.Split(*zones, ",")))
	}
	m := dashboard.NewManager(client, managerOpts...)
	b := board.New(ctx, m, client, board.WithLogger(logger))
	defer b.Close()
	go m.Initialize(ctx)

	s := &server{
		manager:    m,
		board:      b,
		limiter:    newRateLimiter(*perMin, 3),
		logger:     logger,
		trustProxy: *trust,
	}

	srv := &http.Server{
		Addr:              ":" + *port,
		Handler:           http.NewCrossOriginProtection().Handler(s.routes()),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("Server starting", "port", *port)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", "error", err)
	}
	logger.Info("Server stopped")
}
