// Package render draws board views as terminal text.
package render

import (
	"fmt"
	"strings"

	"github.com/codeGROOVE-dev/tzdash/pkg/board"
	"github.com/codeGROOVE-dev/tzdash/pkg/dashboard"
	"github.com/codeGROOVE-dev/tzdash/pkg/timeapi"
	"github.com/fatih/color"
)

const (
	timeLayout = "15:04:05"
	dateLayout = "Monday, January 2, 2006"
	ruleWidth  = 50
)

// Options control a frame.
type Options struct {
	// Title is printed above the clocks.
	Title string
	// Status is printed under the title, e.g. "Refreshing...".
	Status string
	// NoColor disables ANSI colors regardless of the terminal.
	NoColor bool
}

type palette struct {
	title  *color.Color
	city   *color.Color
	clock  *color.Color
	dim    *color.Color
	failed *color.Color
	star   *color.Color
}

func newPalette(noColor bool) palette {
	p := palette{
		title:  color.New(color.Bold),
		city:   color.New(color.FgCyan, color.Bold),
		clock:  color.New(color.FgHiWhite, color.Bold),
		dim:    color.New(color.FgHiBlack),
		failed: color.New(color.FgRed),
		star:   color.New(color.FgYellow),
	}
	if noColor {
		for _, c := range []*color.Color{p.title, p.city, p.clock, p.dim, p.failed, p.star} {
			c.DisableColor()
		}
	}
	return p
}

// Frame renders one screenful: the featured clock as a card, then the grid.
func Frame(views []board.ClockView, opts Options) string {
	p := newPalette(opts.NoColor)
	var b strings.Builder

	title := opts.Title
	if title == "" {
		title = "World Clock"
	}
	b.WriteString(p.title.Sprint("🕐 "+title) + "\n")
	b.WriteString(strings.Repeat("─", ruleWidth) + "\n")
	if opts.Status != "" {
		b.WriteString(p.dim.Sprint(opts.Status) + "\n")
	}

	if len(views) == 0 {
		b.WriteString(p.dim.Sprint("No timezones. Type \"add <timezone>\" to add one.") + "\n")
		return b.String()
	}

	grid := false
	for _, v := range views {
		if v.Slot == dashboard.SlotFeatured {
			b.WriteString(card(p, v))
			b.WriteString(strings.Repeat("─", ruleWidth) + "\n")
			continue
		}
		grid = true
		b.WriteString(row(p, v) + "\n")
	}
	if !grid {
		b.WriteString(p.dim.Sprint("(grid is empty)") + "\n")
	}
	return b.String()
}

func card(p palette, v board.ClockView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s  %s\n", p.star.Sprint("★"), p.city.Sprint(v.City), p.dim.Sprint(v.Timezone))
	switch v.Status {
	case board.StatusReady:
		fmt.Fprintf(&b, "  %s\n", p.clock.Sprint(v.Now.Format(timeLayout)))
		fmt.Fprintf(&b, "  %s\n", v.Now.Format(dateLayout))
		fmt.Fprintf(&b, "  %s\n", p.dim.Sprint(offsetLine(v)))
	case board.StatusFailed:
		fmt.Fprintf(&b, "  %s\n", p.failed.Sprint("Error: "+v.Err))
		fmt.Fprintf(&b, "  %s\n", p.dim.Sprintf("rm %s to remove", v.Timezone))
	default:
		fmt.Fprintf(&b, "  %s\n", p.dim.Sprint("Loading..."))
	}
	return b.String()
}

func row(p palette, v board.ClockView) string {
	name := fmt.Sprintf("%-16s", v.City)
	switch v.Status {
	case board.StatusReady:
		return fmt.Sprintf("%s %s  %s  %s",
			p.city.Sprint(name),
			p.clock.Sprint(v.Now.Format(timeLayout)),
			v.Now.Format(dateLayout),
			p.dim.Sprint(offsetLine(v)))
	case board.StatusFailed:
		return fmt.Sprintf("%s %s  %s",
			p.city.Sprint(name),
			p.failed.Sprint("Error: "+v.Err),
			p.dim.Sprintf("(rm %s to remove)", v.Timezone))
	default:
		return fmt.Sprintf("%s %s", p.city.Sprint(name), p.dim.Sprint("Loading..."))
	}
}

func offsetLine(v board.ClockView) string {
	return fmt.Sprintf("UTC %s (%s)", v.Record.UTCOffset, v.Record.Abbreviation)
}

// Suggestions renders search hits for query.
func Suggestions(query string, hits []string, noColor bool) string {
	p := newPalette(noColor)
	if len(hits) == 0 {
		return p.dim.Sprintf("No timezones match %q", query) + "\n"
	}
	var b strings.Builder
	for _, h := range hits {
		fmt.Fprintf(&b, "  %s  %s\n", h, p.dim.Sprint(timeapi.City(h)))
	}
	return b.String()
}
