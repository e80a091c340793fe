// Package board turns dashboard states into live clock displays.
//
// Each displayed timezone gets a display unit. A unit whose outcome is a
// success runs its own ticking engine; a unit whose outcome is replaced
// discards that engine and starts a new one; a unit with no outcome
// fetches for itself. Removing a unit releases its timer.
package board

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/tzdash/pkg/dashboard"
	"github.com/codeGROOVE-dev/tzdash/pkg/tick"
	"github.com/codeGROOVE-dev/tzdash/pkg/timeapi"
)

// Status is what a unit currently shows.
type Status int

const (
	// StatusLoading means no outcome has arrived yet.
	StatusLoading Status = iota
	// StatusReady means the unit is ticking.
	StatusReady
	// StatusFailed means the latest outcome was a failure.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "failed"
	default:
		return "loading"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ClockView is one unit as a renderer sees it.
type ClockView struct {
	Now      time.Time          `json:"now,omitzero"`
	Record   timeapi.TimeRecord `json:"record,omitzero"`
	Timezone string             `json:"timezone"`
	City     string             `json:"city"`
	Err      string             `json:"error,omitempty"`
	Slot     dashboard.Slot     `json:"slot"`
	Status   Status             `json:"status"`
}

// Source publishes dashboard states; *dashboard.Manager satisfies it.
type Source interface {
	Subscribe(fn func(dashboard.State)) (cancel func())
}

type unit struct {
	record   timeapi.TimeRecord
	timezone string
	err      string
	slot     dashboard.Slot
	status   Status
	// generation of the outcome the unit shows; 0 when self-fetched or waiting.
	generation uint64
	// epoch identifies one mount; a self-fetch for an older epoch is stale.
	epoch       uint64
	featuredSeq uint64
	fetching    bool
}

// Option configures a Board.
type Option func(*Board)

// WithClock sets the local clock for ticking and stamping self-fetches.
func WithClock(clock tick.Clock) Option {
	return func(b *Board) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// WithInterval sets how often clocks tick.
func WithInterval(d time.Duration) Option {
	return func(b *Board) {
		b.interval = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Board) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// Board keeps one display unit per displayed timezone.
type Board struct {
	ctx         context.Context
	clock       tick.Clock
	fetcher     dashboard.Fetcher
	logger      *slog.Logger
	scheduler   *tick.Scheduler
	units       map[string]*unit
	cancel      context.CancelFunc
	unsubscribe func()
	changed     chan struct{}
	order       []string
	fetchWg     sync.WaitGroup
	interval    time.Duration
	nextEpoch   uint64
	mu          sync.Mutex
	closed      bool
}

// New subscribes a board to source. fetcher serves units that have no
// outcome of their own. Call Close to release every timer.
func New(ctx context.Context, source Source, fetcher dashboard.Fetcher, opts ...Option) *Board {
	b := &Board{
		clock:    tick.System{},
		fetcher:  fetcher,
		logger:   slog.Default(),
		interval: tick.Interval,
		units:    make(map[string]*unit),
		changed:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.scheduler = tick.NewScheduler(b.clock, b.interval)
	b.unsubscribe = source.Subscribe(b.apply)
	return b
}

func unitKey(slot dashboard.Slot, tz string) string {
	return slot.String() + ":" + tz
}

// Changed fires, coalesced, whenever a view may have changed: a tick,
// a new state, or a finished self-fetch.
func (b *Board) Changed() <-chan struct{} {
	return b.changed
}

func (b *Board) notify() {
	select {
	case b.changed <- struct{}{}:
	default:
	}
}

func (b *Board) onTick(string, time.Time) {
	b.notify()
}

// apply reconciles units with a newly published state.
func (b *Board) apply(s dashboard.State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	type slotted struct {
		slot dashboard.Slot
		tz   string
	}
	var want []slotted
	if s.Featured != "" {
		want = append(want, slotted{dashboard.SlotFeatured, s.Featured})
	}
	for _, tz := range s.Active {
		want = append(want, slotted{dashboard.SlotGrid, tz})
	}

	keep := make(map[string]bool, len(want))
	order := make([]string, 0, len(want))
	for _, w := range want {
		key := unitKey(w.slot, w.tz)
		keep[key] = true
		order = append(order, key)
	}
	for key := range b.units {
		if !keep[key] {
			b.unmount(key)
		}
	}
	b.order = order

	for _, w := range want {
		key := unitKey(w.slot, w.tz)
		u, exists := b.units[key]
		outcome, hasOutcome := s.Outcomes[w.tz]

		switch {
		case !exists:
			u = b.mount(key, w.slot, w.tz, s.FeaturedSeq)
		case w.slot == dashboard.SlotFeatured && u.featuredSeq != s.FeaturedSeq:
			// Re-added: rebuild from scratch.
			b.unmount(key)
			u = b.mount(key, w.slot, w.tz, s.FeaturedSeq)
		case hasOutcome && u.generation != s.Generation:
		case !hasOutcome && !s.Loading && u.status == StatusLoading && !u.fetching:
		default:
			continue
		}

		if hasOutcome {
			b.show(key, u, outcome, s.Generation)
			continue
		}
		// Grid units wait for the initial batch; anything else without an
		// outcome fetches for itself.
		if w.slot == dashboard.SlotGrid && s.Loading {
			continue
		}
		if !u.fetching && u.status == StatusLoading {
			b.selfFetch(key, u)
		}
	}
	b.notify()
}

func (b *Board) mount(key string, slot dashboard.Slot, tz string, featuredSeq uint64) *unit {
	b.nextEpoch++
	u := &unit{
		timezone:    tz,
		slot:        slot,
		status:      StatusLoading,
		epoch:       b.nextEpoch,
		featuredSeq: featuredSeq,
	}
	b.units[key] = u
	return u
}

func (b *Board) unmount(key string) {
	b.scheduler.Cancel(key)
	delete(b.units, key)
}

// show replaces whatever the unit displayed with outcome. Any previous
// ticking state is discarded.
func (b *Board) show(key string, u *unit, outcome dashboard.Outcome, generation uint64) {
	u.generation = generation
	if !outcome.OK() {
		b.scheduler.Cancel(key)
		u.status = StatusFailed
		u.err = outcome.Message()
		u.record = timeapi.TimeRecord{}
		return
	}
	u.status = StatusReady
	u.err = ""
	u.record = outcome.Value.Record
	b.scheduler.Anchor(key, u.record.Instant, outcome.Value.Received, b.onTick)
}

// selfFetch fetches the unit's zone in the background. The result is
// dropped if the unit was removed, remounted or given an outcome meanwhile.
func (b *Board) selfFetch(key string, u *unit) {
	u.fetching = true
	epoch, tz := u.epoch, u.timezone

	b.fetchWg.Add(1)
	go func() {
		defer b.fetchWg.Done()
		rec, err := b.fetcher.Fetch(b.ctx, tz)
		received := b.clock.Now()

		b.mu.Lock()
		defer b.mu.Unlock()
		cur, ok := b.units[key]
		if b.closed || !ok || cur.epoch != epoch || cur.status != StatusLoading {
			b.logger.Debug("discarding stale timezone fetch", "timezone", tz)
			return
		}
		cur.fetching = false

		var outcome dashboard.Outcome
		if err != nil {
			outcome.Err = err
		} else {
			outcome.Value = dashboard.Reading{Record: rec, Received: received}
		}
		b.show(key, cur, outcome, 0)
		b.notify()
	}()
}

// Views returns every unit in display order, featured first.
func (b *Board) Views() []ClockView {
	b.mu.Lock()
	defer b.mu.Unlock()

	views := make([]ClockView, 0, len(b.order))
	for _, key := range b.order {
		u, ok := b.units[key]
		if !ok {
			continue
		}
		v := ClockView{
			Timezone: u.timezone,
			City:     timeapi.City(u.timezone),
			Slot:     u.slot,
			Status:   u.status,
			Record:   u.record,
			Err:      u.err,
		}
		if u.status == StatusReady {
			if now, ok := b.scheduler.Now(key); ok {
				v.Now = now
			}
		}
		views = append(views, v)
	}
	return views
}

// Timers reports how many ticking engines are live.
func (b *Board) Timers() int {
	return len(b.scheduler.Keys())
}

// Close stops following the source, waits for self-fetches and releases
// every timer.
func (b *Board) Close() {
	b.unsubscribe()

	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.fetchWg.Wait()
	b.scheduler.CancelAll()
}
