// Package dashboard holds the set of displayed timezones and their latest
// fetch outcomes. State values are immutable: every transition returns a
// new State, and Manager publishes each one to subscribers.
package dashboard

import (
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/tzdash/pkg/batch"
	"github.com/codeGROOVE-dev/tzdash/pkg/catalog"
	"github.com/codeGROOVE-dev/tzdash/pkg/timeapi"
)

// DefaultTimezones is the set shown on a fresh dashboard.
var DefaultTimezones = []string{
	"America/New_York",
	"America/Los_Angeles",
	"Europe/London",
	"Europe/Paris",
	"Europe/Moscow",
	"Africa/Cairo",
	"Asia/Tokyo",
	"Asia/Shanghai",
	"Asia/Dubai",
	"Asia/Kolkata",
	"Australia/Sydney",
	"UTC",
}

// Reading is a fetched record plus the local clock reading taken when it
// arrived, which is what a ticking display measures elapsed time from.
type Reading struct {
	Received time.Time
	Record   timeapi.TimeRecord
}

// Outcome is the per-timezone result of a fetch.
type Outcome = batch.Outcome[Reading]

// Slot is where a timezone is displayed.
type Slot int

const (
	// SlotGrid is the ordered grid of active timezones.
	SlotGrid Slot = iota
	// SlotFeatured is the single most-recently-added timezone.
	SlotFeatured
)

func (s Slot) String() string {
	if s == SlotFeatured {
		return "featured"
	}
	return "grid"
}

func (s Slot) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// State is one immutable snapshot of the dashboard. Do not modify the
// slices or maps of a State you did not build.
type State struct {
	Outcomes map[string]Outcome
	Catalog  *catalog.Catalog
	Featured string
	Active   []string
	// Generation increases every time Outcomes is replaced; a display unit
	// whose outcome came from an older generation must discard its ticking state.
	Generation uint64
	// FeaturedSeq increases on every add, including re-adding the same zone.
	FeaturedSeq uint64
	Loading     bool
	Refreshing  bool
}

// NewState returns the state at application start: the given zones
// (trimmed and deduplicated), no outcomes, no featured entry, loading.
func NewState(zones []string) State {
	var active []string
	for _, z := range zones {
		if z = strings.TrimSpace(z); z != "" {
			active = append(active, z)
		}
	}
	return State{
		Active:   batch.Dedupe(active),
		Outcomes: map[string]Outcome{},
		Loading:  true,
	}
}

// AddTimezone makes id the featured timezone, replacing any previous one.
// Blank input is a no-op.
func AddTimezone(s State, id string) State {
	id = strings.TrimSpace(id)
	if id == "" {
		return s
	}
	s.Featured = id
	s.FeaturedSeq++
	return s
}

// RemoveTimezone removes id from whichever slot shows it: the featured slot
// if id is featured, otherwise the grid.
func RemoveTimezone(s State, id string) State {
	if id != "" && id == s.Featured {
		return RemoveFromSlot(s, SlotFeatured, id)
	}
	return RemoveFromSlot(s, SlotGrid, id)
}

// RemoveFromSlot removes id from one slot only. Outcomes are left alone.
func RemoveFromSlot(s State, slot Slot, id string) State {
	if slot == SlotFeatured {
		if s.Featured == id {
			s.Featured = ""
		}
		return s
	}
	i := slices.Index(s.Active, id)
	if i < 0 {
		return s
	}
	s.Active = slices.Delete(slices.Clone(s.Active), i, i+1)
	return s
}

// RefreshTargets lists every displayed timezone: the grid in order, then
// the featured zone if it is not already in the grid.
func RefreshTargets(s State) []string {
	targets := slices.Clone(s.Active)
	if s.Featured != "" {
		targets = append(targets, s.Featured)
	}
	return batch.Dedupe(targets)
}

// ApplyOutcomes replaces the whole outcome map with one batch result.
// keys and outcomes must be parallel slices.
func ApplyOutcomes(s State, keys []string, outcomes []Outcome) State {
	next := make(map[string]Outcome, len(keys))
	for i, k := range keys {
		next[k] = outcomes[i]
	}
	s.Outcomes = next
	s.Generation++
	return s
}

// WithCatalog records a loaded catalog.
func WithCatalog(s State, c *catalog.Catalog) State {
	s.Catalog = c
	return s
}

// Clone returns a deep copy whose slices and maps may be modified.
func (s State) Clone() State {
	s.Active = slices.Clone(s.Active)
	s.Outcomes = maps.Clone(s.Outcomes)
	return s
}
