package tick

import (
	"sync"
	"time"
)

// Interval is how often a display clock advances.
const Interval = time.Second

// Engine advances one anchored instant in local time. It cannot be
// re-anchored or restarted: new network data means Stop and a new Engine.
type Engine struct {
	clock  Clock
	anchor time.Time
	base   time.Time
	fn     func(time.Time)
	c      chan time.Time
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// Start anchors a new engine on anchor, taking the current local time as
// the moment the anchor was accepted, and starts ticking every interval.
// Display instants are delivered on C; a slow reader misses ticks rather
// than falling behind.
func Start(clock Clock, anchor time.Time, interval time.Duration) *Engine {
	return start(clock, anchor, time.Time{}, interval, nil)
}

// StartAt is like Start with an explicit local reading base taken when
// anchor was received, so an anchor accepted earlier is not shown late.
// A zero base means now. fn, if not nil, is called with each display
// instant instead of sending on C; it runs on the engine's goroutine and
// must not call Stop.
func StartAt(clock Clock, anchor, base time.Time, interval time.Duration, fn func(time.Time)) *Engine {
	return start(clock, anchor, base, interval, fn)
}

func start(clock Clock, anchor, base time.Time, interval time.Duration, fn func(time.Time)) *Engine {
	if base.IsZero() {
		base = clock.Now()
	}
	e := &Engine{
		clock:  clock,
		anchor: anchor,
		base:   base,
		fn:     fn,
		c:      make(chan time.Time, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go e.run(clock.NewTicker(interval))
	return e
}

func (e *Engine) run(t Ticker) {
	defer close(e.done)
	defer close(e.c)
	defer t.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-t.C():
		}

		// A stop racing with a tick wins.
		select {
		case <-e.stop:
			return
		default:
		}

		v := e.Now()
		if e.fn != nil {
			e.fn(v)
			continue
		}
		select {
		case e.c <- v:
		default:
		}
	}
}

// C delivers display instants. It is closed once the engine stops.
func (e *Engine) C() <-chan time.Time {
	return e.c
}

// Now is the display instant at this moment: anchor plus local time
// elapsed since the engine started.
func (e *Engine) Now() time.Time {
	return e.anchor.Add(e.clock.Now().Sub(e.base))
}

// Anchor returns the instant the engine was started on.
func (e *Engine) Anchor() time.Time {
	return e.anchor
}

// Stop releases the ticker and waits for the engine goroutine to exit.
// No ticks are delivered once Stop returns. It is safe to call twice.
func (e *Engine) Stop() {
	e.once.Do(func() { close(e.stop) })
	<-e.done
}
