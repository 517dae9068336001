// Package sample validates, scales, and gates raw statistics results before
// they are offered to the peak ledger.
package sample

import "time"

// WattsPerKilowatt converts base watts to the kilowatts stored in the ledger.
const WattsPerKilowatt = 1000.0

// ValidateAndScale checks a raw mean from the statistics backend and converts
// it to kilowatts. A nil mean (no data for the cycle) and a negative mean
// (sensor glitch) are both rejected; neither is an error, the cycle is simply
// skipped. The scaling factor converts the source's native unit to watts.
func ValidateAndScale(mean *float64, scaling float64) (float64, bool) {
	if mean == nil {
		return 0, false
	}
	if *mean < 0 {
		return 0, false
	}
	return *mean * scaling / WattsPerKilowatt, true
}

// Allowed reports whether a gate sensor state permits recording a sample.
// Only the exact state "on" allows it; a missing or unavailable state does
// not. A suppressed sample is still "processed", not an error.
func Allowed(state string, found bool) bool {
	return found && state == "on"
}

// Window is an optional daily active window with a scaling factor applied to
// samples recorded inside it. Start and Stop are clock times; a window that
// crosses midnight (Stop before Start) wraps around.
type Window struct {
	Start   ClockTime
	Stop    ClockTime
	Scaling float64
}

// ClockTime is a wall-clock time of day.
type ClockTime struct {
	Hour   int
	Minute int
}

func (c ClockTime) minutes() int { return c.Hour*60 + c.Minute }

// Contains reports whether ts falls inside the window.
func (w Window) Contains(ts time.Time) bool {
	t := ts.Hour()*60 + ts.Minute()
	start, stop := w.Start.minutes(), w.Stop.minutes()
	if start == stop {
		return false
	}
	if start < stop {
		return t >= start && t < stop
	}
	// Crosses midnight.
	return t >= start || t < stop
}

// Apply scales a kilowatt value by the window factor when ts is inside the
// window. A nil window or a zero factor leaves the value unchanged.
func (w *Window) Apply(value float64, ts time.Time) float64 {
	if w == nil || w.Scaling == 0 || w.Scaling == 1 {
		return value
	}
	if !w.Contains(ts) {
		return value
	}
	return value * w.Scaling
}
