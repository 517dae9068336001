// Package status provides a thread-safe status tracker for the peak-tracker
// daemon. It is designed to be read by HTTP handlers and event publishers.
package status

import (
	"sync"
	"time"
)

// Config contains daemon configuration for display.
type Config struct {
	SourceEntity string
	SourceTopic  string
	GateTopic    string
	CycleType    string
	NumPeaks     int
	MonthlyReset bool
	OnePerDay    bool
	PricePerKW   float64
	Broker       string
	HTTPAddr     string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type — safe to use after the lock is released.
type Snapshot struct {
	Peaks            []float64
	PeakTimes        []time.Time
	AverageKW        float64
	EstimatedCost    float64
	PrevMonth        []float64
	PrevMonthAverage float64
	LiveAverageKW    float64
	LastUpdate       time.Time
	LastReason       string
	MQTTConnected    bool
	StartTime        time.Time
	Now              time.Time
	Config           Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// UpdatePeaks sets the ledger view after a committed mutation.
func (t *Tracker) UpdatePeaks(peaks []float64, times []time.Time, averageKW, cost float64, prevMonth []float64, prevMonthAvg float64, reason string, now time.Time) {
	t.mu.Lock()
	t.snap.Peaks = peaks
	t.snap.PeakTimes = times
	t.snap.AverageKW = averageKW
	t.snap.EstimatedCost = cost
	t.snap.PrevMonth = prevMonth
	t.snap.PrevMonthAverage = prevMonthAvg
	t.snap.LastReason = reason
	t.snap.LastUpdate = now
	t.mu.Unlock()
}

// SetLiveAverage sets the running average of the current cycle.
func (t *Tracker) SetLiveAverage(kw float64) {
	t.mu.Lock()
	t.snap.LiveAverageKW = kw
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
