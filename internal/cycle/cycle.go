// Package cycle contains pure cycle-boundary arithmetic for accounting periods.
// This package has NO external dependencies. Time is always injectable via
// time.Time parameters.
package cycle

import "time"

// Type selects the accounting period length.
type Type string

const (
	// Hourly tracks one average per clock hour.
	Hourly Type = "hourly"
	// Quarterly tracks one average per quarter hour.
	Quarterly Type = "quarterly"
)

// Valid reports whether t is a known cycle type.
func (t Type) Valid() bool {
	return t == Hourly || t == Quarterly
}

// Duration returns the length of one cycle.
func (t Type) Duration() time.Duration {
	if t == Quarterly {
		return 15 * time.Minute
	}
	return time.Hour
}

// Granularity returns the statistics bucket label for this cycle type.
// It must match the bucket size of the statistics backend exactly or
// queries return no data.
func (t Type) Granularity() string {
	if t == Quarterly {
		return "15min"
	}
	return "hour"
}

// ScheduleMinutes returns the minute-of-hour offsets at which the periodic
// update should fire. Updates run 1 minute after each cycle boundary so the
// statistics backend has settled data for the just-completed cycle.
func (t Type) ScheduleMinutes() []int {
	if t == Quarterly {
		return []int{1, 16, 31, 46}
	}
	return []int{1}
}

// Window is a half-open accounting interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Floor truncates now to the start of the cycle containing it.
func Floor(now time.Time, t Type) time.Time {
	minute := 0
	if t == Quarterly {
		minute = (now.Minute() / 15) * 15
	}
	return time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), minute, 0, 0, now.Location())
}

// PreviousCompleted returns the window of the cycle that finished most
// recently before now. This is the canonical mapping from "now" to the
// period that should be queried.
func PreviousCompleted(now time.Time, t Type) Window {
	end := Floor(now, t)
	return Window{Start: end.Add(-t.Duration()), End: end}
}
