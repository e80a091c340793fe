// Package catalog loads the list of IANA timezone identifiers known to the
// remote time API and answers search-box suggestions from it.
package catalog

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/codeGROOVE-dev/tzdash/pkg/timeapi"
)

// DefaultSuggestions caps how many matches Suggest returns by default.
const DefaultSuggestions = 7

// Catalog is an immutable set of identifiers in the order the remote
// listed them. It is used for matching only: a zone missing from it may
// still be valid.
type Catalog struct {
	index map[string]struct{}
	names []string
}

// New builds a catalog, dropping blanks and duplicates.
func New(names []string) *Catalog {
	c := &Catalog{
		index: make(map[string]struct{}, len(names)),
		names: make([]string, 0, len(names)),
	}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, dup := c.index[n]; dup {
			continue
		}
		c.index[n] = struct{}{}
		c.names = append(c.names, n)
	}
	return c
}

// Len returns the number of identifiers. A nil catalog is empty.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.names)
}

// Contains reports whether id is listed.
func (c *Catalog) Contains(id string) bool {
	if c == nil {
		return false
	}
	_, ok := c.index[id]
	return ok
}

// All returns a copy of every identifier.
func (c *Catalog) All() []string {
	if c == nil {
		return nil
	}
	return slices.Clone(c.names)
}

// Suggest returns up to limit identifiers containing query,
// case-insensitively, in catalog order. A blank query matches nothing;
// limit <= 0 means DefaultSuggestions.
func (c *Catalog) Suggest(query string, limit int) []string {
	query = strings.ToLower(strings.TrimSpace(query))
	if c == nil || query == "" {
		return nil
	}
	if limit <= 0 {
		limit = DefaultSuggestions
	}

	var out []string
	for _, n := range c.names {
		if strings.Contains(strings.ToLower(n), query) {
			out = append(out, n)
			if len(out) == limit {
				break
			}
		}
	}
	return out
}

// Source lists timezone identifiers; *timeapi.Client satisfies it.
type Source interface {
	AvailableTimezones(ctx context.Context) ([]string, error)
}

// Loader fetches the catalog with a small retry budget.
type Loader struct {
	source   Source
	logger   *slog.Logger
	attempts uint
	delay    time.Duration
}

// NewLoader returns a loader that tries up to attempts times, backing off
// from delay with jitter between tries.
func NewLoader(source Source, logger *slog.Logger, attempts uint, delay time.Duration) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	if attempts == 0 {
		attempts = 1
	}
	return &Loader{source: source, logger: logger, attempts: attempts, delay: delay}
}

// Load fetches the catalog. Transport failures, 429 and 5xx are retried;
// anything else is returned at once. Errors are the timeapi error kinds.
func (l *Loader) Load(ctx context.Context) (*Catalog, error) {
	var names []string
	err := retry.Do(
		func() error {
			var err error
			names, err = l.source.AvailableTimezones(ctx)
			if err != nil && !timeapi.IsRetryable(err) {
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(l.attempts),
		retry.Delay(l.delay),
		retry.MaxDelay(5*time.Second),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			l.logger.Debug("retrying timezone catalog fetch", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return nil, err
	}

	c := New(names)
	l.logger.Debug("timezone catalog loaded", "zones", c.Len())
	return c, nil
}
