// Package live tracks the running average power of the current cycle from
// live source readings. Pure accumulation logic; time is always injectable.
package live

import (
	"time"

	"github.com/sweeney/peak-tracker/internal/cycle"
)

// Accumulator integrates live power readings (trapezoidal rule) into energy
// for the current cycle and reports the running average. It resets itself
// when a reading falls into a new cycle. Not safe for concurrent use —
// caller must synchronize.
type Accumulator struct {
	cycleType  cycle.Type
	cycleStart time.Time
	energyKWh  float64
	lastPowerW float64
	lastTime   time.Time
}

// NewAccumulator creates an empty accumulator for the given cycle type.
func NewAccumulator(t cycle.Type) *Accumulator {
	return &Accumulator{cycleType: t}
}

// Add records a live power reading in watts. Negative readings are clamped
// to zero. The first reading of a cycle only anchors the integration; energy
// accrues from the second reading on.
func (a *Accumulator) Add(powerW float64, now time.Time) {
	if powerW < 0 {
		powerW = 0
	}

	start := cycle.Floor(now, a.cycleType)
	if a.cycleStart.IsZero() || !start.Equal(a.cycleStart) {
		a.cycleStart = start
		a.energyKWh = 0
		a.lastPowerW = powerW
		a.lastTime = now
		return
	}

	dt := now.Sub(a.lastTime).Hours()
	if dt > 0 {
		avgW := (a.lastPowerW + powerW) / 2
		a.energyKWh += avgW * dt / 1000
	}
	a.lastPowerW = powerW
	a.lastTime = now
}

// Suppress records that the source is gated or unavailable: the next
// reading integrates from zero power rather than the stale last value.
func (a *Accumulator) Suppress() {
	a.lastPowerW = 0
}

// AverageKW returns the running average power of the current cycle in kW.
func (a *Accumulator) AverageKW(now time.Time) float64 {
	if a.cycleStart.IsZero() {
		return 0.0
	}
	elapsed := now.Sub(a.cycleStart).Hours()
	if elapsed <= 0 {
		return 0.0
	}
	return a.energyKWh / elapsed
}

// EnergyKWh returns the energy accumulated so far in the current cycle.
func (a *Accumulator) EnergyKWh() float64 {
	return a.energyKWh
}

// State is the serialized form of an accumulator.
type State struct {
	CycleStart string  `json:"cycle_start"`
	EnergyKWh  float64 `json:"energy_kwh"`
	LastPowerW float64 `json:"last_power_w"`
	LastTime   string  `json:"last_time"`
}

// Snapshot captures the accumulator state for persistence.
func (a *Accumulator) Snapshot() State {
	s := State{
		EnergyKWh:  a.energyKWh,
		LastPowerW: a.lastPowerW,
	}
	if !a.cycleStart.IsZero() {
		s.CycleStart = a.cycleStart.Format(time.RFC3339Nano)
	}
	if !a.lastTime.IsZero() {
		s.LastTime = a.lastTime.Format(time.RFC3339Nano)
	}
	return s
}

// Restore loads persisted state. A snapshot from a different cycle than the
// one containing now is discarded: the daemon was down across a boundary and
// the accumulation must start fresh.
func (a *Accumulator) Restore(s State, now time.Time) {
	start, err := time.Parse(time.RFC3339Nano, s.CycleStart)
	if err != nil {
		return
	}
	if !start.Equal(cycle.Floor(now, a.cycleType)) {
		return
	}

	a.cycleStart = start
	a.energyKWh = s.EnergyKWh
	a.lastPowerW = s.LastPowerW
	if last, err := time.Parse(time.RFC3339Nano, s.LastTime); err == nil {
		a.lastTime = last
	} else {
		a.lastTime = now
	}
}
