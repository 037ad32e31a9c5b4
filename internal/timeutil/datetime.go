// Package timeutil parses the wire datetime format and floors it to
// minute/hour boundaries for aggregation.
package timeutil

import (
	"fmt"
	"time"
)

// WireLayout is the datetime format meters report: "DD-MM-YYYY HH:MM:SS".
const WireLayout = "02-01-2006 15:04:05"

// ParseSampleTime parses the wire datetime format. No timezone conversion
// is applied; the caller's deployment decides whether the server treats
// these as local or UTC wall-clock times.
func ParseSampleTime(value string) (time.Time, error) {
	t, err := time.Parse(WireLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse sample datetime %q: %w", value, err)
	}
	return t, nil
}

// FloorMinute truncates to the start of the wall-clock minute.
func FloorMinute(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, t.Location())
}

// FloorHour truncates to the start of the wall-clock hour.
func FloorHour(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
}
