package email

import (
	"fmt"
	"strings"
	"time"

	// IANA zone data for hosts without /usr/share/zoneinfo
	_ "time/tzdata"
)

// localLayouts are wall-clock forms without an offset.
var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseScheduledAt turns a user-supplied date-time into a UTC instant.
// A value carrying its own offset (RFC 3339) is taken as-is. A wall-clock
// value is read in timeZone, an IANA name; without one it is read as UTC.
func ParseScheduledAt(value, timeZone string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: scheduledAt is required", ErrValidation)
	}

	loc := time.UTC
	if tz := strings.TrimSpace(timeZone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: unknown time zone %q", ErrValidation, tz)
		}
		loc = l
	}

	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: scheduledAt %q is not a valid date-time", ErrValidation, value)
}

// delayUntil is the wait before at, never negative.
func delayUntil(at, now time.Time) time.Duration {
	if d := at.Sub(now); d > 0 {
		return d
	}
	return 0
}
