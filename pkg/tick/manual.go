package tick

import (
	"sync"
	"time"
)

// Manual is a Clock that only moves when told to. Tickers created from it
// fire during Advance, dropping ticks the receiver is not ready for, the
// same way time.Ticker does.
type Manual struct {
	now     time.Time
	tickers map[*manualTicker]struct{}
	mu      sync.Mutex
}

// NewManual returns a Manual clock reading start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start, tickers: make(map[*manualTicker]struct{})}
}

// Now returns the manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// NewTicker returns a ticker driven by Advance.
func (m *Manual) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("tick: non-positive interval for NewTicker")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTicker{
		clock:  m,
		period: d,
		next:   m.now.Add(d),
		c:      make(chan time.Time, 1),
	}
	m.tickers[t] = struct{}{}
	return t
}

// Advance moves the clock forward by d and fires every ticker whose
// deadline has passed.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	for t := range m.tickers {
		fired := false
		for !t.next.After(m.now) {
			t.next = t.next.Add(t.period)
			fired = true
		}
		if fired {
			select {
			case t.c <- m.now:
			default:
			}
		}
	}
}

// Tickers returns how many tickers are live.
func (m *Manual) Tickers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tickers)
}

type manualTicker struct {
	next   time.Time
	clock  *Manual
	c      chan time.Time
	period time.Duration
}

func (t *manualTicker) C() <-chan time.Time {
	return t.c
}

func (t *manualTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	delete(t.clock.tickers, t)
}
