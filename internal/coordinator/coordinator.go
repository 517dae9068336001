// Package coordinator drives the peak ledger: periodic cycle updates,
// historical backfill, and the monthly reset. All collaborators are injected
// so the accounting logic can be exercised against fakes.
package coordinator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sweeney/peak-tracker/internal/cycle"
	"github.com/sweeney/peak-tracker/internal/ledger"
	"github.com/sweeney/peak-tracker/internal/mqtt"
	"github.com/sweeney/peak-tracker/internal/sample"
	"github.com/sweeney/peak-tracker/internal/stats"
	"github.com/sweeney/peak-tracker/internal/store"
)

// Config holds the accounting settings for one tracked source.
type Config struct {
	// SourceEntity is the entity id of the source sensor in the statistics
	// backend. Empty means the source is not resolved yet; every operation
	// is then a logged no-op.
	SourceEntity string

	// GateTopic is an optional MQTT topic whose state gates sample
	// acceptance. Empty means samples are always allowed.
	GateTopic string

	// AttrsTopic is an optional MQTT topic carrying the source sensor's
	// attributes JSON, used to auto-detect the scaling factor from its unit.
	AttrsTopic string

	Cycle        cycle.Type
	MonthlyReset bool
	PricePerKW   float64

	// Scaling converts source readings to base watts. 0 means auto-detect
	// from the source unit.
	Scaling float64

	// ActiveWindow optionally scales samples recorded inside a daily
	// clock-time window.
	ActiveWindow *sample.Window
}

// Coordinator owns a peak ledger and applies the accounting operations to it.
type Coordinator struct {
	cfg    Config
	ledger *ledger.Ledger
	stats  stats.Querier
	states mqtt.StateSource
	store  *store.Store
	notify func(reason string, now time.Time)

	mu        sync.Mutex
	prevMonth []float64
	scaling   float64 // cached auto-detected factor, 0 until detected
}

// New creates a Coordinator around the given ledger and collaborators.
func New(cfg Config, l *ledger.Ledger, q stats.Querier, states mqtt.StateSource, st *store.Store) *Coordinator {
	return &Coordinator{
		cfg:    cfg,
		ledger: l,
		stats:  q,
		states: states,
		store:  st,
	}
}

// SetNotify installs the hook fired after every committed mutation.
func (c *Coordinator) SetNotify(fn func(reason string, now time.Time)) {
	c.notify = fn
}

// Setup restores persisted state. Malformed or missing fields keep the
// zero-initialized defaults; startup never fails on bad stored data.
func (c *Coordinator) Setup() error {
	rec, err := c.store.Load()
	if err != nil {
		return fmt.Errorf("load persisted peaks: %w", err)
	}
	if rec == nil {
		return nil
	}

	timestamps := make([]string, len(rec.MaxValueTimestamps))
	for i, ts := range rec.MaxValueTimestamps {
		if ts != nil {
			timestamps[i] = *ts
		}
	}
	c.ledger.Restore(ledger.Snapshot{Values: rec.MaxValues, Timestamps: timestamps})

	c.mu.Lock()
	c.prevMonth = append([]float64(nil), rec.PreviousMonthValues...)
	c.mu.Unlock()
	return nil
}

// RunPeriodicUpdate queries the mean of the previous completed cycle and
// offers it to the ledger. Fired by the scheduler shortly after each cycle
// boundary.
func (c *Coordinator) RunPeriodicUpdate(ctx context.Context, now time.Time) error {
	if c.cfg.SourceEntity == "" {
		log.Printf("coordinator: source entity not resolved, skipping period update")
		return nil
	}

	win := cycle.PreviousCompleted(now, c.cfg.Cycle)
	mean, err := c.stats.Mean(ctx, c.cfg.SourceEntity, win.Start, win.End, c.cfg.Cycle.Granularity())
	if err != nil {
		return fmt.Errorf("period update: %w", err)
	}

	kw, ok := sample.ValidateAndScale(mean, c.ScalingFactor())
	if !ok {
		log.Printf("coordinator: no usable mean for %s cycle %v to %v", c.cfg.SourceEntity, win.Start, win.End)
		return nil
	}
	if !c.GateAllowed() {
		log.Printf("coordinator: gate %s not on, sample suppressed", c.cfg.GateTopic)
		return nil
	}
	kw = c.cfg.ActiveWindow.Apply(kw, now)

	if !c.ledger.Offer(kw, now) {
		return nil
	}
	if err := c.persist(); err != nil {
		return fmt.Errorf("period update: %w", err)
	}
	c.notifyDependents("period update", now)
	return nil
}

// Backfill replays whole cycles in [start, end) in chronological order.
// A trailing partial cycle is dropped, not partially queried. Gating is not
// applied: the gate reflects the current state, which says nothing about
// historical cycles. The ledger is persisted once at the end.
func (c *Coordinator) Backfill(ctx context.Context, start, end time.Time, resetFirst bool) error {
	if c.cfg.SourceEntity == "" {
		log.Printf("coordinator: source entity not resolved, skipping backfill")
		return nil
	}

	if resetFirst {
		c.ledger.Reset()
	}

	d := c.cfg.Cycle.Duration()
	cycles := int(end.Sub(start) / d)
	if cycles == 0 {
		return nil
	}

	scaling := c.ScalingFactor()
	for i := 0; i < cycles; i++ {
		winStart := start.Add(time.Duration(i) * d)
		winEnd := winStart.Add(d)

		mean, err := c.stats.Mean(ctx, c.cfg.SourceEntity, winStart, winEnd, c.cfg.Cycle.Granularity())
		if err != nil {
			return fmt.Errorf("backfill cycle %d: %w", i, err)
		}
		kw, ok := sample.ValidateAndScale(mean, scaling)
		if !ok {
			continue
		}
		kw = c.cfg.ActiveWindow.Apply(kw, winEnd)
		c.ledger.Offer(kw, winEnd)
	}

	if err := c.persist(); err != nil {
		return fmt.Errorf("backfill: %w", err)
	}
	c.notifyDependents("range update", end)
	return nil
}

// CatchUpFromMidnight replays today's completed cycles without clearing the
// ledger. Used at startup to recover cycles missed while down.
func (c *Coordinator) CatchUpFromMidnight(ctx context.Context, now time.Time) error {
	end := cycle.Floor(now, c.cfg.Cycle)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return c.Backfill(ctx, start, end, false)
}

// ResyncCurrentMonth clears the ledger and rebuilds it from the start of the
// current month, restoring the month's true peaks.
func (c *Coordinator) ResyncCurrentMonth(ctx context.Context, now time.Time) error {
	log.Printf("coordinator: resyncing peaks to current month")
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return c.Backfill(ctx, start, now, true)
}

// MonthlyReset snapshots the ledger as the previous month and clears it.
// Invoked daily; a no-op unless monthly reset is enabled and it is the first
// of the month.
func (c *Coordinator) MonthlyReset(now time.Time) error {
	if !c.cfg.MonthlyReset || now.Day() != 1 {
		return nil
	}

	log.Printf("coordinator: monthly reset of %d peak values", c.ledger.Capacity())
	snapshot := c.ledger.Reset()
	c.mu.Lock()
	c.prevMonth = snapshot
	c.mu.Unlock()

	if err := c.persist(); err != nil {
		return fmt.Errorf("monthly reset: %w", err)
	}
	c.notifyDependents("monthly reset", now)
	return nil
}

// GateAllowed reports whether the gate sensor currently permits samples.
func (c *Coordinator) GateAllowed() bool {
	if c.cfg.GateTopic == "" {
		return true
	}
	state, ok := c.states.State(c.cfg.GateTopic)
	return sample.Allowed(state, ok)
}

// ScalingFactor returns the factor converting source readings to watts.
// A configured factor wins; otherwise it is detected once from the source
// unit, falling back to 1.0 until a unit is seen.
func (c *Coordinator) ScalingFactor() float64 {
	if c.cfg.Scaling > 0 {
		return c.cfg.Scaling
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scaling > 0 {
		return c.scaling
	}
	if c.cfg.AttrsTopic != "" && c.states != nil {
		if payload, ok := c.states.State(c.cfg.AttrsTopic); ok {
			if unit := mqtt.ParseUnit(payload); unit != "" {
				c.scaling = sample.ScalingForUnit(unit)
				log.Printf("coordinator: detected source unit %q, scaling factor %v", unit, c.scaling)
				return c.scaling
			}
		}
	}
	return 1.0
}

// persist writes the ledger and previous-month snapshot to the store.
func (c *Coordinator) persist() error {
	snap := c.ledger.Snapshot()
	timestamps := make([]*string, len(snap.Timestamps))
	for i := range snap.Timestamps {
		if snap.Timestamps[i] != "" {
			timestamps[i] = &snap.Timestamps[i]
		}
	}

	c.mu.Lock()
	prev := append([]float64(nil), c.prevMonth...)
	c.mu.Unlock()

	return c.store.Save(store.Record{
		MaxValues:           snap.Values,
		MaxValueTimestamps:  timestamps,
		PreviousMonthValues: prev,
	})
}

func (c *Coordinator) notifyDependents(reason string, now time.Time) {
	if c.notify != nil {
		c.notify(reason, now)
	}
}

// Values returns the current peak values, sorted descending.
func (c *Coordinator) Values() []float64 { return c.ledger.Values() }

// Timestamps returns the timestamps aligned with Values.
func (c *Coordinator) Timestamps() []time.Time { return c.ledger.Timestamps() }

// Average returns the mean of the populated peaks in kW.
func (c *Coordinator) Average() float64 { return c.ledger.Average() }

// EstimatedCost returns the average peak multiplied by the configured price
// per kW.
func (c *Coordinator) EstimatedCost() float64 {
	return c.ledger.Average() * c.cfg.PricePerKW
}

// PreviousMonth returns the peak values snapshotted at the last monthly
// reset.
func (c *Coordinator) PreviousMonth() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]float64(nil), c.prevMonth...)
}

// PreviousMonthAverage returns the mean of the populated previous-month
// peaks.
func (c *Coordinator) PreviousMonthAverage() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	sum := 0.0
	n := 0
	for _, v := range c.prevMonth {
		if v > 0 {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0.0
	}
	return sum / float64(n)
}
