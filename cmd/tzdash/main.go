// Package main implements the tzdash CLI, a live world clock for the terminal.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/codeGROOVE-dev/tzdash/pkg/board"
	"github.com/codeGROOVE-dev/tzdash/pkg/catalog"
	"github.com/codeGROOVE-dev/tzdash/pkg/dashboard"
	"github.com/codeGROOVE-dev/tzdash/pkg/httpcache"
	"github.com/codeGROOVE-dev/tzdash/pkg/render"
	"github.com/codeGROOVE-dev/tzdash/pkg/timeapi"
	"github.com/mattn/go-isatty"
)

const (
	versionString = "tzdash v1.0.0"
	catalogTTL    = 24 * time.Hour
	clearScreen   = "\033[H\033[2J"
)

var (
	apiURL   = flag.String("api-url", "", "Time API base URL (or set TZDASH_API_URL)")
	zones    = flag.String("zones", "", "Comma-separated starting timezones (or set TZDASH_ZONES)")
	timeout  = flag.Duration("timeout", 15*time.Second, "Per-request timeout")
	cacheDir = flag.String("cache-dir", "", "Cache directory for the timezone catalog (or set CACHE_DIR)")
	noCache  = flag.Bool("no-cache", false, "Disable caching")
	noColor  = flag.Bool("no-color", false, "Disable colors")
	once     = flag.Bool("once", false, "Print the clocks once and exit")
	verbose  = flag.Bool("verbose", false, "Enable verbose logging")
	version  = flag.Bool("version", false, "Show version")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Println(versionString)
		return
	}

	level := slog.LevelError
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	if *apiURL == "" {
		*apiURL = os.Getenv("TZDASH_API_URL")
	}
	if *zones == "" {
		*zones = os.Getenv("TZDASH_ZONES")
	}
	if *cacheDir == "" {
		*cacheDir = os.Getenv("CACHE_DIR")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clientOpts := []timeapi.Option{
		timeapi.WithLogger(logger),
		timeapi.WithHTTPClient(&http.Client{Timeout: *timeout}),
		timeapi.WithUserAgent(versionString),
	}
	if *apiURL != "" {
		clientOpts = append(clientOpts, timeapi.WithBaseURL(*apiURL))
	}

	// The catalog changes rarely; keep it across runs unless told not to.
	if !*noCache {
		cache, err := openCache(ctx, logger)
		if err != nil {
			logger.Warn("cache unavailable, continuing without it", "error", err)
		} else {
			defer func() {
				if err := cache.Close(); err != nil {
					logger.Error("Failed to close cache", "error", err)
				}
			}()
			cached := httpcache.NewCachedHTTPClient(cache, &http.Client{Timeout: *timeout}, logger)
			clientOpts = append(clientOpts, timeapi.WithCachedDo(cached.Do))
		}
	}
	client := timeapi.NewClient(clientOpts...)

	managerOpts := []dashboard.Option{
		dashboard.WithLogger(logger),
		dashboard.WithCatalogLoader(catalog.NewLoader(client, logger, 3, 500*time.Millisecond)),
	}
	if *zones != "" {
		managerOpts = append(managerOpts, dashboard.WithTimezones(strings.Split(*zones, ",")))
	}
	m := dashboard.NewManager(client, managerOpts...)

	tty := isatty.IsTerminal(os.Stdout.Fd())
	colorless := *noColor || !tty

	if *once {
		m.Initialize(ctx)
		b := board.New(ctx, m, client, board.WithLogger(logger))
		defer b.Close()
		fmt.Print(render.Frame(b.Views(), render.Options{NoColor: colorless}))
		return
	}

	b := board.New(ctx, m, client, board.WithLogger(logger))
	defer b.Close()
	go m.Initialize(ctx)

	ui := &session{
		out:     os.Stdout,
		manager: m,
		board:   b,
		tty:     tty,
		noColor: colorless,
	}
	ui.run(ctx, readLines(os.Stdin))
}

func openCache(ctx context.Context, logger *slog.Logger) (*httpcache.OtterCache, error) {
	dir := *cacheDir
	if dir == "" {
		userCache, err := os.UserCacheDir()
		if err != nil {
			return httpcache.NewMemoryOnlyCache(catalogTTL, logger), nil
		}
		dir = filepath.Join(userCache, "tzdash")
	}
	return httpcache.NewOtterCache(ctx, dir, catalogTTL, 10*time.Minute, logger)
}

// readLines feeds stdin lines to a channel until EOF.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

// session is the interactive loop: redraw on every board change, act on
// every command line.
type session struct {
	out     io.Writer
	manager *dashboard.Manager
	board   *board.Board
	message string
	tty     bool
	noColor bool
}

func (s *session) run(ctx context.Context, lines <-chan string) {
	s.draw()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.board.Changed():
			// Piped output only gets a frame per command.
			if s.tty {
				s.draw()
			}
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := s.command(ctx, line); quit {
				return
			}
			s.draw()
		}
	}
}

// command runs one input line and reports whether to exit.
func (s *session) command(ctx context.Context, line string) bool {
	verb, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(verb) {
	case "":
	case "q", "quit", "exit":
		return true
	case "add", "a":
		st := s.manager.AddTimezone(arg)
		s.message = ""
		if arg != "" && st.Catalog.Len() > 0 && !st.Catalog.Contains(arg) {
			s.message = fmt.Sprintf("%s is not in the catalog; the server will decide.", arg)
		}
	case "rm", "remove", "r":
		s.manager.RemoveTimezone(arg)
		s.message = ""
	case "refresh", "f":
		s.message = ""
		go s.manager.RefreshAll(ctx)
	case "search", "s", "/":
		s.message = render.Suggestions(arg, s.manager.Suggest(arg), s.noColor)
	default:
		s.message = "commands: add <tz>, rm <tz>, refresh, search <text>, quit"
	}
	return false
}

func (s *session) draw() {
	st := s.manager.State()
	status := ""
	switch {
	case st.Loading:
		status = "Loading timezones..."
	case st.Refreshing:
		status = "Refreshing..."
	}

	frame := render.Frame(s.board.Views(), render.Options{Status: status, NoColor: s.noColor})
	if s.tty {
		frame = clearScreen + frame
	}
	if s.message != "" {
		frame += "\n" + s.message
		if !strings.HasSuffix(s.message, "\n") {
			frame += "\n"
		}
	}
	frame += "> "
	if _, err := io.WriteString(s.out, frame); err != nil {
		slog.Debug("write failed", "error", err)
	}
}
