package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/codeGROOVE-dev/tzdash/pkg/board"
	"github.com/codeGROOVE-dev/tzdash/pkg/catalog"
	"github.com/codeGROOVE-dev/tzdash/pkg/dashboard"
	"github.com/codeGROOVE-dev/tzdash/pkg/tick"
	"github.com/codeGROOVE-dev/tzdash/pkg/timeapi"
)

type stubFetcher struct{}

func (stubFetcher) Fetch(_ context.Context, tz string) (timeapi.TimeRecord, error) {
	return timeapi.TimeRecord{
		Timezone:     tz,
		Instant:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		UTCOffset:    "+00:00",
		Abbreviation: timeapi.Abbreviate(tz),
	}, nil
}

type stubLoader struct{}

func (stubLoader) Load(context.Context) (*catalog.Catalog, error) {
	return catalog.New([]string{"Asia/Tokyo", "Europe/London"}), nil
}

func TestSessionScript(t *testing.T) {
	clock := tick.NewManual(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))
	m := dashboard.NewManager(stubFetcher{},
		dashboard.WithTimezones([]string{"UTC"}),
		dashboard.WithCatalogLoader(stubLoader{}),
		dashboard.WithClock(clock))
	b := board.New(context.Background(), m, stubFetcher{}, board.WithClock(clock))
	defer b.Close()
	m.Initialize(context.Background())

	var out bytes.Buffer
	s := &session{out: &out, manager: m, board: b, noColor: true}

	lines := make(chan string, 8)
	for _, l := range []string{"search lon", "add Mars/Olympus", "rm UTC", "bogus", "quit"} {
		lines <- l
	}
	close(lines)
	s.run(context.Background(), lines)

	got := out.String()
	for _, want := range []string{
		"Europe/London  London",
		"Mars/Olympus is not in the catalog",
		"commands: add <tz>",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}

	st := m.State()
	if st.Featured != "Mars/Olympus" || len(st.Active) != 0 {
		t.Errorf("state = featured %q, active %v", st.Featured, st.Active)
	}
}

func TestCommandQuit(t *testing.T) {
	s := &session{}
	for _, verb := range []string{"q", "quit", "EXIT"} {
		if !s.command(context.Background(), verb) {
			t.Errorf("%q did not quit", verb)
		}
	}
}
