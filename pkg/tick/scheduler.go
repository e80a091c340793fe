package tick

import (
	"slices"
	"sync"
	"time"
)

// Scheduler owns one Engine per key, typically a timezone identifier.
type Scheduler struct {
	clock    Clock
	engines  map[string]*Engine
	interval time.Duration
	mu       sync.Mutex
}

// NewScheduler returns a scheduler whose engines tick every interval.
func NewScheduler(clock Clock, interval time.Duration) *Scheduler {
	if clock == nil {
		clock = System{}
	}
	if interval <= 0 {
		interval = Interval
	}
	return &Scheduler{
		clock:    clock,
		engines:  make(map[string]*Engine),
		interval: interval,
	}
}

// Anchor discards any engine running for key and starts a new one on
// anchor, received at local time base (zero means now). fn, if not nil, is
// called with every display instant; once Anchor or Cancel for the same
// key returns, the old fn is never called again.
func (s *Scheduler) Anchor(key string, anchor, base time.Time, fn func(key string, display time.Time)) {
	var cb func(time.Time)
	if fn != nil {
		cb = func(t time.Time) { fn(key, t) }
	}
	e := StartAt(s.clock, anchor, base, s.interval, cb)

	s.mu.Lock()
	old := s.engines[key]
	s.engines[key] = e
	s.mu.Unlock()

	if old != nil {
		old.Stop()
	}
}

// Cancel stops the engine for key. It reports whether one was running.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	e, ok := s.engines[key]
	delete(s.engines, key)
	s.mu.Unlock()

	if ok {
		e.Stop()
	}
	return ok
}

// CancelAll stops every engine.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	engines := s.engines
	s.engines = make(map[string]*Engine)
	s.mu.Unlock()

	for _, e := range engines {
		e.Stop()
	}
}

// Now returns the display instant for key.
func (s *Scheduler) Now(key string) (time.Time, bool) {
	s.mu.Lock()
	e, ok := s.engines[key]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return e.Now(), true
}

// Keys returns the keys with a running engine, sorted.
func (s *Scheduler) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.engines))
	for k := range s.engines {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
