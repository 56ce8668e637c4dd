package domain

import (
	"fmt"
	"strings"
	"time"
)

// TimeZone selects the representation timestamps are stored in
type TimeZone string

const (
	TimeZoneLocal TimeZone = "local"
	TimeZoneUTC   TimeZone = "utc"
)

// ParseTimeZone converts a case-insensitive name to a TimeZone
func ParseTimeZone(s string) (TimeZone, error) {
	switch TimeZone(strings.ToLower(strings.TrimSpace(s))) {
	case TimeZoneLocal:
		return TimeZoneLocal, nil
	case TimeZoneUTC, "":
		return TimeZoneUTC, nil
	}
	return "", fmt.Errorf("unknown time zone mode %q", s)
}

// Location returns the time.Location for the zone mode
func (z TimeZone) Location() *time.Location {
	if z == TimeZoneLocal {
		return time.Local
	}
	return time.UTC
}

// Convert expresses t in the zone
func (z TimeZone) Convert(t time.Time) time.Time {
	return t.In(z.Location())
}

// WallClock returns the wall-clock reading of t in the zone, labelled UTC.
// Spreadsheet cells carry no zone, so values are written and compared in
// this form.
func (z TimeZone) WallClock(t time.Time) time.Time {
	t = t.In(z.Location())
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}
