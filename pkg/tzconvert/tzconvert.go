// Package tzconvert formats UTC offsets that a remote time source already
// computed. It never consults the local timezone database: offsets and DST
// rules are the remote API's business.
package tzconvert

import (
	"fmt"
	"time"
)

// Unavailable is the label shown when the source did not supply an offset.
const Unavailable = "N/A"

// FormatOffset renders an offset in seconds east of UTC as ±HH:MM.
// Example: FormatOffset(-4*3600) returns "-04:00"
// Example: FormatOffset(5*3600+30*60) returns "+05:30"
func FormatOffset(seconds int) string {
	sign := '+'
	if seconds < 0 {
		sign = '-'
		seconds = -seconds
	}
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	return fmt.Sprintf("%c%02d:%02d", sign, hours, minutes)
}

// OffsetLabel returns the offset carried by t's location as ±HH:MM.
// Only meaningful when t was parsed from a string with an explicit offset.
func OffsetLabel(t time.Time) string {
	_, offset := t.Zone()
	return FormatOffset(offset)
}
