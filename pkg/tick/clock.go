// Package tick advances display clocks locally between network snapshots.
//
// An Engine is anchored on an instant received from the network and
// reports anchor + (local elapsed time) once per interval. Elapsed time is
// measured with the local monotonic clock, so irregular timer firings never
// accumulate drift. A Scheduler keeps one Engine per display key.
package tick

import "time"

// Clock is the source of local time and tickers.
type Clock interface {
	// Now returns the current local time, including a monotonic reading
	// where the implementation has one.
	Now() time.Time

	// NewTicker returns a ticker firing every d.
	NewTicker(d time.Duration) Ticker
}

// Ticker wraps time.Ticker.
type Ticker interface {
	// C returns the channel on which ticks are delivered.
	C() <-chan time.Time

	// Stop releases the ticker. No ticks are delivered after Stop.
	Stop()
}

// System is the Clock backed by the time package.
type System struct{}

// Now wraps time.Now.
func (System) Now() time.Time {
	return time.Now()
}

// NewTicker wraps time.NewTicker.
func (System) NewTicker(d time.Duration) Ticker {
	return systemTicker{time.NewTicker(d)}
}

type systemTicker struct {
	*time.Ticker
}

func (t systemTicker) C() <-chan time.Time {
	return t.Ticker.C
}
