// Package timeutil holds the canonical-time rules shared by the store and the
// history queries. Every persisted timestamp and every query bound passes
// through Canonical, so both sides compare in UTC.
package timeutil

import (
	"fmt"
	"strings"
	"time"
)

// StorageLayout is the fixed-width text layout used in sensor_data.timestamp.
// SQLite's CURRENT_TIMESTAMP produces the same prefix without milliseconds,
// and both sort lexically in chronological order.
const StorageLayout = "2006-01-02 15:04:05.000"

const (
	layoutDateTime  = "2006-01-02 15:04:05"
	layoutISOLocal  = "2006-01-02T15:04:05"
	layoutDate      = "2006-01-02"
	layoutISOOffset = "2006-01-02T15:04:05Z07:00"
)

// zonedLayouts carry their own offset; the parsed instant is converted.
var zonedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	layoutISOOffset,
}

// localLayouts have no zone suffix and are read in the canonical zone.
var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	layoutISOLocal,
	"2006-01-02 15:04:05.999999999",
	layoutDateTime,
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// Canonical converts t to the canonical zone (UTC). Zero stays zero.
func Canonical(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

// Format renders t in the storage layout after canonicalization.
func Format(t time.Time) string {
	return Canonical(t).Format(StorageLayout)
}

// FormatLowerBound renders t for a ">=" comparison against stored text.
// Whole seconds drop the ".000" suffix: CURRENT_TIMESTAMP rows carry no
// milliseconds and "10:00:00" sorts below "10:00:00.000", so the full form
// would exclude a row stamped exactly at the bound.
func FormatLowerBound(t time.Time) string {
	return strings.TrimSuffix(Format(t), ".000")
}

// ParseStored parses a value read back from sensor_data.timestamp. It accepts
// the storage layout and the plain CURRENT_TIMESTAMP layout.
func ParseStored(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{StorageLayout, layoutDateTime, time.RFC3339Nano} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return Canonical(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized stored timestamp %q", s)
}

// ParseBound parses a caller-supplied query bound. Inputs with an explicit
// offset (or Z) are converted; inputs without one are taken as UTC. A
// date-only value maps to the start of the day, or to the last nanosecond of
// the day when endOfDay is set.
func ParseBound(s string, endOfDay bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Canonical(t), nil
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	if t, err := time.ParseInLocation(layoutDate, s, time.UTC); err == nil {
		if endOfDay {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf(
		"invalid time %q, expected YYYY-MM-DDTHH:MM:SS, 'YYYY-MM-DD HH:MM:SS', RFC3339 or YYYY-MM-DD", s)
}
