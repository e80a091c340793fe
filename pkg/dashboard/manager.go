package dashboard

import (
	"context"
	"log/slog"
	"sync"

	"github.com/codeGROOVE-dev/tzdash/pkg/batch"
	"github.com/codeGROOVE-dev/tzdash/pkg/catalog"
	"github.com/codeGROOVE-dev/tzdash/pkg/tick"
	"github.com/codeGROOVE-dev/tzdash/pkg/timeapi"
	"golang.org/x/sync/singleflight"
)

// Fetcher returns the current time for one timezone; *timeapi.Client
// satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, timezone string) (timeapi.TimeRecord, error)
}

// CatalogLoader loads the timezone catalog; *catalog.Loader satisfies it.
type CatalogLoader interface {
	Load(ctx context.Context) (*catalog.Catalog, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock sets the clock used to stamp when readings arrive.
func WithClock(clock tick.Clock) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithTimezones replaces DefaultTimezones as the starting set.
func WithTimezones(zones []string) Option {
	return func(m *Manager) {
		m.state = NewState(zones)
	}
}

// WithCatalogLoader sets where Initialize loads the catalog from. Without
// one the catalog stays empty.
func WithCatalogLoader(loader CatalogLoader) Option {
	return func(m *Manager) {
		m.loader = loader
	}
}

// Manager owns the dashboard State and is the only thing that changes it.
type Manager struct {
	fetcher Fetcher
	loader  CatalogLoader
	clock   tick.Clock
	logger  *slog.Logger
	subs    map[int]func(State)
	state   State
	group   singleflight.Group
	nextSub int
	mu      sync.Mutex // guards state, subs and nextSub
	pubMu   sync.Mutex // serializes transitions with their delivery
}

// NewManager returns a manager showing DefaultTimezones.
func NewManager(fetcher Fetcher, opts ...Option) *Manager {
	m := &Manager{
		fetcher: fetcher,
		clock:   tick.System{},
		logger:  slog.Default(),
		subs:    make(map[int]func(State)),
		state:   NewState(DefaultTimezones),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe calls fn with the current state and then with every state the
// manager publishes, in order. fn must not call back into the Manager's
// mutating methods. The returned func stops delivery.
func (m *Manager) Subscribe(fn func(State)) (cancel func()) {
	m.pubMu.Lock()
	defer m.pubMu.Unlock()

	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	current := m.state
	m.mu.Unlock()

	fn(current)

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// update applies a transition and delivers the result to subscribers
// before any later transition is applied.
func (m *Manager) update(transition func(State) State) State {
	m.pubMu.Lock()
	defer m.pubMu.Unlock()

	m.mu.Lock()
	next := transition(m.state)
	m.state = next
	subs := make([]func(State), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(next)
	}
	return next
}

// fetchAll runs one batch and stamps each success with its arrival time.
func (m *Manager) fetchAll(ctx context.Context, zones []string) []Outcome {
	return batch.FetchAll(ctx, zones, func(ctx context.Context, tz string) (Reading, error) {
		rec, err := m.fetcher.Fetch(ctx, tz)
		if err != nil {
			return Reading{}, err
		}
		return Reading{Record: rec, Received: m.clock.Now()}, nil
	})
}

// Initialize loads the catalog and fetches the starting timezones as one
// batch, concurrently. Loading is cleared as soon as the batch resolves;
// a catalog failure is logged and leaves the catalog empty. Initialize
// returns once both are done.
func (m *Manager) Initialize(ctx context.Context) {
	var wg sync.WaitGroup
	if m.loader != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := m.loader.Load(ctx)
			if err != nil {
				m.logger.Warn("could not load available timezones for search", "error", err)
				return
			}
			m.update(func(s State) State { return WithCatalog(s, c) })
		}()
	}

	start := m.State()
	zones := start.Active
	outcomes := m.fetchAll(ctx, zones)
	m.update(func(s State) State {
		// A refresh that finished first holds newer data.
		if s.Generation == start.Generation {
			s = ApplyOutcomes(s, zones, outcomes)
		}
		s.Loading = false
		return s
	})
	m.logFailures(zones, outcomes)

	wg.Wait()
}

// AddTimezone features id. It does not fetch: the featured display unit
// fetches for itself when no outcome is available. Blank ids are ignored.
func (m *Manager) AddTimezone(id string) State {
	return m.update(func(s State) State { return AddTimezone(s, id) })
}

// RemoveTimezone clears the featured slot if id is featured, otherwise
// removes id from the grid.
func (m *Manager) RemoveTimezone(id string) State {
	return m.update(func(s State) State { return RemoveTimezone(s, id) })
}

// RemoveFromSlot removes id from one slot only.
func (m *Manager) RemoveFromSlot(slot Slot, id string) State {
	return m.update(func(s State) State { return RemoveFromSlot(s, slot, id) })
}

// RefreshAll fetches every displayed timezone as one batch and replaces
// the outcome map. With nothing displayed it makes no requests. Calls
// made while a refresh is running share its result.
//
// The batch does not stop when ctx is canceled: it is shared by every
// caller and the per-request client timeout bounds it. A canceled caller
// returns the current state without waiting.
func (m *Manager) RefreshAll(ctx context.Context) State {
	if len(RefreshTargets(m.State())) == 0 {
		return m.State()
	}

	batchCtx := context.WithoutCancel(ctx)
	ch := m.group.DoChan("refresh", func() (any, error) {
		zones := RefreshTargets(m.State())
		if len(zones) == 0 {
			return m.State(), nil
		}
		m.update(func(s State) State {
			s.Refreshing = true
			return s
		})

		outcomes := m.fetchAll(batchCtx, zones)
		m.logFailures(zones, outcomes)
		return m.update(func(s State) State {
			s = ApplyOutcomes(s, zones, outcomes)
			s.Refreshing = false
			return s
		}), nil
	})

	select {
	case res := <-ch:
		return res.Val.(State) //nolint:forcetypeassert // only States are returned above
	case <-ctx.Done():
		m.logger.Debug("refresh caller gone, batch continues", "error", ctx.Err())
		return m.State()
	}
}

// Suggest returns catalog matches for a search query.
func (m *Manager) Suggest(query string) []string {
	return m.State().Catalog.Suggest(query, catalog.DefaultSuggestions)
}

func (m *Manager) logFailures(zones []string, outcomes []Outcome) {
	failed := 0
	for i, o := range outcomes {
		if !o.OK() {
			failed++
			m.logger.Debug("timezone fetch failed", "timezone", zones[i], "error", o.Err)
		}
	}
	m.logger.Info("timezone batch complete", "zones", len(zones), "failed", failed)
}
