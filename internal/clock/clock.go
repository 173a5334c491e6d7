// Package clock provides timezone-aware time predicates for the warmup
// engine. All scheduling decisions depend on the sender's own zone; there
// is no global notion of business hours.
package clock

import (
	"fmt"
	"time"
)

// Clock abstracts time.Now so workers and the planner can be tested
// against a fixed instant.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock is a Clock pinned to one instant, for tests.
type FixedClock struct {
	T time.Time
}

// Now returns the pinned instant.
func (c FixedClock) Now() time.Time { return c.T }

// Band is a time-of-day activity bucket. Each business day is carved into
// bands that receive a fixed share of the daily plan.
type Band string

const (
	BandPeak   Band = "peak"   // 9-11 AM, 2-4 PM
	BandNormal Band = "normal" // 11-12 PM, 4-6 PM
	BandLow    Band = "low"    // 12-2 PM (lunch)
)

// HourRange is a half-open [Start, End) range of local hours.
type HourRange struct {
	Start int
	End   int
}

// BusinessHours holds the local business-hours window (24-hour format).
type BusinessHours struct {
	StartHour int // default 9
	EndHour   int // default 18
}

// DefaultBusinessHours is the 9 AM - 6 PM window used when no override
// is configured.
var DefaultBusinessHours = BusinessHours{StartHour: 9, EndHour: 18}

// BandRanges returns the hour ranges belonging to each band.
func BandRanges(b Band) []HourRange {
	switch b {
	case BandPeak:
		return []HourRange{{9, 11}, {14, 16}}
	case BandNormal:
		return []HourRange{{11, 12}, {16, 18}}
	case BandLow:
		return []HourRange{{12, 14}}
	}
	return nil
}

// NowIn projects an absolute instant into the given IANA zone.
func NowIn(c Clock, tz string) (time.Time, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Time{}, fmt.Errorf("load location %q: %w", tz, err)
	}
	return c.Now().In(loc), nil
}

// IsWeekend reports whether the local datetime falls on Saturday or Sunday.
func IsWeekend(local time.Time) bool {
	wd := local.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// IsBusinessHours reports whether the local datetime is a weekday within
// the business-hours window.
func IsBusinessHours(local time.Time, bh BusinessHours) bool {
	if IsWeekend(local) {
		return false
	}
	h := local.Hour()
	return h >= bh.StartHour && h < bh.EndHour
}

// BandFor maps a local hour to its activity band. ok is false outside all
// band ranges (before 9, after 18, or mid-range gaps if configured).
func BandFor(localHour int) (Band, bool) {
	for _, b := range []Band{BandPeak, BandNormal, BandLow} {
		for _, r := range BandRanges(b) {
			if localHour >= r.Start && localHour < r.End {
				return b, true
			}
		}
	}
	return "", false
}

// NextBusinessDay returns the start of the next weekday's business hours
// in the same location as from.
func NextBusinessDay(from time.Time, bh BusinessHours) time.Time {
	next := from.AddDate(0, 0, 1)
	for IsWeekend(next) {
		next = next.AddDate(0, 0, 1)
	}
	return time.Date(next.Year(), next.Month(), next.Day(), bh.StartHour, 0, 0, 0, next.Location())
}
