package market

import (
	"fmt"
	"time"
)

// The exchange session runs on New York time; every "now" comparison in the
// engine happens in this zone.
var exchangeTZ *time.Location

func init() {
	tz, err := time.LoadLocation("America/New_York")
	if err != nil {
		panic(fmt.Sprintf("market: load exchange timezone: %v", err))
	}
	exchangeTZ = tz
}

// ExchangeTZ returns the exchange trading timezone.
func ExchangeTZ() *time.Location {
	return exchangeTZ
}

// Now returns the current time in the exchange timezone. Components take a
// clock function so tests can pin it; this is the default.
func Now() time.Time {
	return time.Now().In(exchangeTZ)
}

// ParseClock parses "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// MinuteOfDay returns t's minutes since midnight in the exchange timezone.
func MinuteOfDay(t time.Time) int {
	t = t.In(exchangeTZ)
	return t.Hour()*60 + t.Minute()
}

// SessionDay returns the start and end (exclusive) of t's trading day in the
// exchange timezone.
func SessionDay(t time.Time) (time.Time, time.Time) {
	t = t.In(exchangeTZ)
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, exchangeTZ)
	return start, start.AddDate(0, 0, 1)
}

// ZeroDTEExpiry returns the same-day expiry date for t, rolled forward to the
// next weekday when t falls on a weekend.
func ZeroDTEExpiry(t time.Time) time.Time {
	t = t.In(exchangeTZ)
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, exchangeTZ)
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, 1)
	}
	return d
}
