package timeapi

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/tzdash/pkg/tzconvert"
)

// TimeRecord is one snapshot of "now" for a timezone.
type TimeRecord struct {
	Instant      time.Time `json:"instant"`
	Timezone     string    `json:"timezone"`
	UTCOffset    string    `json:"utc_offset"`
	Abbreviation string    `json:"abbreviation"`
	DST          bool      `json:"dst"`
	// WallClockOnly is set when the source sent a local date-time without
	// an offset. Instant then holds that wall clock in the UTC location and
	// is not a true absolute instant; UTCOffset is tzconvert.Unavailable.
	WallClockOnly bool `json:"wall_clock_only,omitempty"`
}

// City returns the display name for the record's timezone.
func (r TimeRecord) City() string {
	return City(r.Timezone)
}

// City derives a display name from an IANA identifier: the last path
// segment with underscores replaced, e.g. "America/New_York" -> "New York".
func City(timezone string) string {
	last := timezone[strings.LastIndex(timezone, "/")+1:]
	if last == "" {
		return timezone
	}
	return strings.ReplaceAll(last, "_", " ")
}

var wordInitialRegex = regexp.MustCompile(`\b\w`)

// Abbreviate synthesizes a display abbreviation from an identifier by
// taking the first character of every word in every path segment:
// "Asia/Kolkata" -> "A/K", "UTC" -> "U", "America/Port-au-Prince" -> "A/PaP".
// The remote does not supply a real abbreviation; this is display-only.
func Abbreviate(timezone string) string {
	parts := strings.Split(timezone, "/")
	for i, part := range parts {
		parts[i] = strings.Join(wordInitialRegex.FindAllString(part, -1), "")
	}
	abbr := strings.Join(parts, "/")
	if abbr == "" {
		return tzconvert.Unavailable
	}
	return abbr
}

// currentTimePayload is the subset of the remote "current time" response we use.
type currentTimePayload struct {
	DateTime  *string `json:"dateTime"`
	DSTActive *bool   `json:"dstActive"`
	TimeZone  string  `json:"timeZone"`
}

// wallClockLayout matches offset-less ISO 8601 values such as
// "2025-01-02T15:04:05.1234567"; fractional seconds are accepted when parsing.
const wallClockLayout = "2006-01-02T15:04:05"

func parseRecord(body []byte, requested string) (TimeRecord, error) {
	var p currentTimePayload
	if err := json.Unmarshal(body, &p); err != nil {
		return TimeRecord{}, &SchemaError{Err: err}
	}
	if p.DateTime == nil || strings.TrimSpace(*p.DateTime) == "" {
		return TimeRecord{}, &SchemaError{Field: "dateTime", Err: errMissing}
	}

	tz := p.TimeZone
	if tz == "" {
		tz = requested
	}
	rec := TimeRecord{
		Timezone:     tz,
		Abbreviation: Abbreviate(tz),
		UTCOffset:    tzconvert.Unavailable,
	}
	if p.DSTActive != nil {
		rec.DST = *p.DSTActive
	}

	raw := strings.TrimSpace(*p.DateTime)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		rec.Instant = t
		rec.UTCOffset = tzconvert.OffsetLabel(t)
		return rec, nil
	}
	t, err := time.Parse(wallClockLayout, raw)
	if err != nil {
		return TimeRecord{}, &SchemaError{Field: "dateTime", Err: fmt.Errorf("unparseable %q: %w", raw, err)}
	}
	rec.Instant = t
	rec.WallClockOnly = true
	return rec, nil
}
