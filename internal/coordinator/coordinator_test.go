package coordinator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sweeney/peak-tracker/internal/cycle"
	"github.com/sweeney/peak-tracker/internal/ledger"
	"github.com/sweeney/peak-tracker/internal/mqtt"
	"github.com/sweeney/peak-tracker/internal/sample"
	"github.com/sweeney/peak-tracker/internal/stats"
	"github.com/sweeney/peak-tracker/internal/store"
)

type fixture struct {
	coord  *Coordinator
	ledger *ledger.Ledger
	stats  *stats.FakeQuerier
	client *mqtt.FakeClient
	store  *store.Store
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	if cfg.SourceEntity == "" {
		cfg.SourceEntity = "sensor.house_power"
	}
	if cfg.Cycle == "" {
		cfg.Cycle = cycle.Hourly
	}

	l, err := ledger.New(2, ledger.MultiPeak)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	st, err := store.New(filepath.Join(t.TempDir(), "peaks.json"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	q := stats.NewFakeQuerier()
	client := mqtt.NewFakeClient()

	return &fixture{
		coord:  New(cfg, l, q, client, st),
		ledger: l,
		stats:  q,
		client: client,
		store:  st,
	}
}

func at(d, h, m int) time.Time {
	return time.Date(2026, 2, d, h, m, 0, 0, time.UTC)
}

func TestPeriodicUpdateHappyPath(t *testing.T) {
	fx := newFixture(t, Config{Scaling: 1.0})

	// Mean of the 09:00-10:00 cycle is 2500 W.
	fx.stats.SetMean(at(3, 9, 0), 2500)

	now := at(3, 10, 1)
	if err := fx.coord.RunPeriodicUpdate(context.Background(), now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// One query for the previous completed cycle.
	if len(fx.stats.Queries) != 1 {
		t.Fatalf("expected 1 query, got %d", len(fx.stats.Queries))
	}
	q := fx.stats.Queries[0]
	if !q.Start.Equal(at(3, 9, 0)) || !q.End.Equal(at(3, 10, 0)) {
		t.Errorf("queried window %v to %v", q.Start, q.End)
	}
	if q.Granularity != "hour" {
		t.Errorf("granularity: got %s", q.Granularity)
	}

	// 2500 W becomes 2.5 kW in the ledger, stamped with the update time.
	values := fx.coord.Values()
	if values[0] != 2.5 {
		t.Errorf("unexpected top value: %f", values[0])
	}
	if !fx.coord.Timestamps()[0].Equal(now) {
		t.Errorf("unexpected timestamp: %v", fx.coord.Timestamps()[0])
	}

	// Committed mutation is persisted.
	rec, err := fx.store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rec == nil || rec.MaxValues[0] != 2.5 {
		t.Errorf("store not updated: %+v", rec)
	}
}

func TestPeriodicUpdateNotifiesOnCommit(t *testing.T) {
	fx := newFixture(t, Config{Scaling: 1.0})
	fx.stats.SetMean(at(3, 9, 0), 2500)

	var gotReason string
	var gotNow time.Time
	fx.coord.SetNotify(func(reason string, now time.Time) {
		gotReason = reason
		gotNow = now
	})

	now := at(3, 10, 1)
	if err := fx.coord.RunPeriodicUpdate(context.Background(), now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotReason != "period update" {
		t.Errorf("reason: got %q", gotReason)
	}
	if !gotNow.Equal(now) {
		t.Errorf("notify time: got %v", gotNow)
	}
}

func TestPeriodicUpdateNoDataIsNoop(t *testing.T) {
	fx := newFixture(t, Config{Scaling: 1.0})

	notified := false
	fx.coord.SetNotify(func(string, time.Time) { notified = true })

	if err := fx.coord.RunPeriodicUpdate(context.Background(), at(3, 10, 1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if fx.coord.Values()[0] != 0 {
		t.Error("ledger should be untouched without data")
	}
	if notified {
		t.Error("no notification without a committed mutation")
	}
	rec, _ := fx.store.Load()
	if rec != nil {
		t.Error("nothing should be persisted without a committed mutation")
	}
}

func TestPeriodicUpdateNegativeMeanRejected(t *testing.T) {
	fx := newFixture(t, Config{Scaling: 1.0})
	fx.stats.SetMean(at(3, 9, 0), -120)

	if err := fx.coord.RunPeriodicUpdate(context.Background(), at(3, 10, 1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fx.coord.Values()[0] != 0 {
		t.Error("negative mean should not enter the ledger")
	}
}

func TestPeriodicUpdateQueryErrorPropagates(t *testing.T) {
	fx := newFixture(t, Config{Scaling: 1.0})
	fx.stats.Err = errors.New("backend down")

	err := fx.coord.RunPeriodicUpdate(context.Background(), at(3, 10, 1))
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, fx.stats.Err) {
		t.Errorf("error not wrapped: %v", err)
	}
}

func TestPeriodicUpdateGateSuppresses(t *testing.T) {
	fx := newFixture(t, Config{Scaling: 1.0, GateTopic: "binary_sensor/grid"})
	fx.stats.SetMean(at(3, 9, 0), 2500)
	fx.client.SetState("binary_sensor/grid", "off")

	if err := fx.coord.RunPeriodicUpdate(context.Background(), at(3, 10, 1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fx.coord.Values()[0] != 0 {
		t.Error("gated sample should not enter the ledger")
	}

	// Gate opens, the next cycle is recorded.
	fx.client.SetState("binary_sensor/grid", "on")
	fx.stats.SetMean(at(3, 10, 0), 3000)
	if err := fx.coord.RunPeriodicUpdate(context.Background(), at(3, 11, 1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fx.coord.Values()[0] != 3.0 {
		t.Errorf("expected 3.0 after gate opened, got %f", fx.coord.Values()[0])
	}
}

func TestPeriodicUpdateGateUnknownStateSuppresses(t *testing.T) {
	fx := newFixture(t, Config{Scaling: 1.0, GateTopic: "binary_sensor/grid"})
	fx.stats.SetMean(at(3, 9, 0), 2500)
	// No state was ever seen on the gate topic.

	if err := fx.coord.RunPeriodicUpdate(context.Background(), at(3, 10, 1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fx.coord.Values()[0] != 0 {
		t.Error("unknown gate state should suppress the sample")
	}
}

func TestPeriodicUpdateUnresolvedSourceIsNoop(t *testing.T) {
	l, _ := ledger.New(2, ledger.MultiPeak)
	st, _ := store.New(filepath.Join(t.TempDir(), "peaks.json"))
	q := stats.NewFakeQuerier()
	coord := New(Config{Cycle: cycle.Hourly, Scaling: 1.0}, l, q, nil, st)

	if err := coord.RunPeriodicUpdate(context.Background(), at(3, 10, 1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(q.Queries) != 0 {
		t.Error("no query should be issued without a resolved source")
	}
}

func TestPeriodicUpdateActiveWindowScales(t *testing.T) {
	fx := newFixture(t, Config{
		Scaling:      1.0,
		ActiveWindow: &sample.Window{Start: sample.ClockTime{Hour: 8}, Stop: sample.ClockTime{Hour: 20}, Scaling: 0.5},
	})
	fx.stats.SetMean(at(3, 9, 0), 2500)

	if err := fx.coord.RunPeriodicUpdate(context.Background(), at(3, 10, 1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fx.coord.Values()[0] != 1.25 {
		t.Errorf("expected window-scaled 1.25, got %f", fx.coord.Values()[0])
	}
}

func TestBackfillReplaysWholeCycles(t *testing.T) {
	fx := newFixture(t, Config{Scaling: 1.0})

	fx.stats.SetMean(at(3, 0, 0), 1000)
	fx.stats.SetMean(at(3, 1, 0), 4000)
	fx.stats.SetMean(at(3, 2, 0), 2000)

	// [00:00, 03:30): the trailing partial cycle 03:00-03:30 is dropped.
	if err := fx.coord.Backfill(context.Background(), at(3, 0, 0), at(3, 3, 30), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(fx.stats.Queries) != 3 {
		t.Fatalf("expected 3 whole-cycle queries, got %d", len(fx.stats.Queries))
	}
	last := fx.stats.Queries[2]
	if !last.End.Equal(at(3, 3, 0)) {
		t.Errorf("last query end: got %v, want %v", last.End, at(3, 3, 0))
	}

	// Top two peaks, stamped with their cycle ends.
	values := fx.coord.Values()
	if values[0] != 4.0 || values[1] != 2.0 {
		t.Errorf("unexpected values: %v", values)
	}
	times := fx.coord.Timestamps()
	if !times[0].Equal(at(3, 2, 0)) {
		t.Errorf("top timestamp: got %v, want cycle end %v", times[0], at(3, 2, 0))
	}
}

func TestBackfillEmptyRangeDoesNotPersist(t *testing.T) {
	fx := newFixture(t, Config{Scaling: 1.0})

	notified := false
	fx.coord.SetNotify(func(string, time.Time) { notified = true })

	// Less than one whole cycle.
	if err := fx.coord.Backfill(context.Background(), at(3, 10, 0), at(3, 10, 30), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(fx.stats.Queries) != 0 {
		t.Error("no queries expected for an empty range")
	}
	if notified {
		t.Error("no notification expected for an empty range")
	}
	rec, _ := fx.store.Load()
	if rec != nil {
		t.Error("nothing should be persisted for an empty range")
	}
}

func TestBackfillResetFirstClearsLedger(t *testing.T) {
	fx := newFixture(t, Config{Scaling: 1.0})
	fx.ledger.Offer(9.0, at(1, 10, 0))

	fx.stats.SetMean(at(3, 0, 0), 1000)
	if err := fx.coord.Backfill(context.Background(), at(3, 0, 0), at(3, 1, 0), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	values := fx.coord.Values()
	if values[0] != 1.0 {
		t.Errorf("old peak survived reset: %v", values)
	}
}

func TestBackfillWithoutResetKeepsExisting(t *testing.T) {
	fx := newFixture(t, Config{Scaling: 1.0})
	fx.ledger.Offer(9.0, at(1, 10, 0))

	fx.stats.SetMean(at(3, 0, 0), 1000)
	if err := fx.coord.Backfill(context.Background(), at(3, 0, 0), at(3, 1, 0), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	values := fx.coord.Values()
	if values[0] != 9.0 || values[1] != 1.0 {
		t.Errorf("unexpected values: %v", values)
	}
}

func TestBackfillSkipsCyclesWithoutData(t *testing.T) {
	fx := newFixture(t, Config{Scaling: 1.0})

	// Only the middle cycle has data.
	fx.stats.SetMean(at(3, 1, 0), 4000)

	if err := fx.coord.Backfill(context.Background(), at(3, 0, 0), at(3, 3, 0), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(fx.stats.Queries) != 3 {
		t.Fatalf("all cycles should still be queried, got %d", len(fx.stats.Queries))
	}
	values := fx.coord.Values()
	if values[0] != 4.0 || values[1] != 0 {
		t.Errorf("unexpected values: %v", values)
	}
}

func TestBackfillQueryErrorAborts(t *testing.T) {
	fx := newFixture(t, Config{Scaling: 1.0})
	fx.stats.Err = errors.New("backend down")

	err := fx.coord.Backfill(context.Background(), at(3, 0, 0), at(3, 2, 0), false)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, fx.stats.Err) {
		t.Errorf("error not wrapped: %v", err)
	}
}

func TestBackfillIgnoresGate(t *testing.T) {
	fx := newFixture(t, Config{Scaling: 1.0, GateTopic: "binary_sensor/grid"})
	fx.client.SetState("binary_sensor/grid", "off")
	fx.stats.SetMean(at(3, 0, 0), 1000)

	if err := fx.coord.Backfill(context.Background(), at(3, 0, 0), at(3, 1, 0), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fx.coord.Values()[0] != 1.0 {
		t.Error("historical cycles must not be gated by current state")
	}
}

func TestBackfillNotifiesRangeUpdate(t *testing.T) {
	fx := newFixture(t, Config{Scaling: 1.0})
	fx.stats.SetMean(at(3, 0, 0), 1000)

	var gotReason string
	fx.coord.SetNotify(func(reason string, _ time.Time) { gotReason = reason })

	if err := fx.coord.Backfill(context.Background(), at(3, 0, 0), at(3, 1, 0), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotReason != "range update" {
		t.Errorf("reason: got %q", gotReason)
	}
}

func TestCatchUpFromMidnight(t *testing.T) {
	fx := newFixture(t, Config{Scaling: 1.0})
	fx.stats.SetMean(at(3, 0, 0), 1000)
	fx.stats.SetMean(at(3, 1, 0), 3000)

	// At 02:30, cycles 00:00-01:00 and 01:00-02:00 are complete.
	if err := fx.coord.CatchUpFromMidnight(context.Background(), at(3, 2, 30)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(fx.stats.Queries) != 2 {
		t.Fatalf("expected 2 queries, got %d", len(fx.stats.Queries))
	}
	values := fx.coord.Values()
	if values[0] != 3.0 || values[1] != 1.0 {
		t.Errorf("unexpected values: %v", values)
	}
}

func TestResyncCurrentMonthResetsAndReplays(t *testing.T) {
	fx := newFixture(t, Config{Scaling: 1.0})
	fx.ledger.Offer(9.0, at(1, 10, 0))

	fx.stats.SetMean(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), 2000)

	if err := fx.coord.ResyncCurrentMonth(context.Background(), at(1, 2, 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Queries start at the first of the month.
	if !fx.stats.Queries[0].Start.Equal(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("first query start: got %v", fx.stats.Queries[0].Start)
	}
	values := fx.coord.Values()
	if values[0] != 2.0 {
		t.Errorf("unexpected values after resync: %v", values)
	}
	for _, v := range values[1:] {
		if v == 9.0 {
			t.Error("stale peak survived resync")
		}
	}
}

func TestMonthlyResetOnFirstOfMonth(t *testing.T) {
	fx := newFixture(t, Config{Scaling: 1.0, MonthlyReset: true})
	fx.ledger.Offer(5.0, time.Date(2026, 1, 20, 10, 0, 0, 0, time.UTC))
	fx.ledger.Offer(3.0, time.Date(2026, 1, 25, 14, 0, 0, 0, time.UTC))

	var gotReason string
	fx.coord.SetNotify(func(reason string, _ time.Time) { gotReason = reason })

	if err := fx.coord.MonthlyReset(at(1, 0, 2)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The ledger is cleared and the old peaks become the previous month.
	if fx.coord.Values()[0] != 0 {
		t.Errorf("ledger not cleared: %v", fx.coord.Values())
	}
	prev := fx.coord.PreviousMonth()
	if len(prev) != 2 || prev[0] != 5.0 || prev[1] != 3.0 {
		t.Errorf("unexpected previous month: %v", prev)
	}
	if fx.coord.PreviousMonthAverage() != 4.0 {
		t.Errorf("previous month average: got %f", fx.coord.PreviousMonthAverage())
	}
	if gotReason != "monthly reset" {
		t.Errorf("reason: got %q", gotReason)
	}

	// The snapshot is persisted.
	rec, err := fx.store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rec == nil || len(rec.PreviousMonthValues) != 2 || rec.PreviousMonthValues[0] != 5.0 {
		t.Errorf("previous month not persisted: %+v", rec)
	}
}

func TestMonthlyResetSkippedMidMonth(t *testing.T) {
	fx := newFixture(t, Config{Scaling: 1.0, MonthlyReset: true})
	fx.ledger.Offer(5.0, at(3, 10, 0))

	if err := fx.coord.MonthlyReset(at(15, 0, 2)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fx.coord.Values()[0] != 5.0 {
		t.Error("reset must only run on the first of the month")
	}
}

func TestMonthlyResetSkippedWhenDisabled(t *testing.T) {
	fx := newFixture(t, Config{Scaling: 1.0, MonthlyReset: false})
	fx.ledger.Offer(5.0, at(3, 10, 0))

	if err := fx.coord.MonthlyReset(at(1, 0, 2)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fx.coord.Values()[0] != 5.0 {
		t.Error("reset must be a no-op when disabled")
	}
}

func TestSetupRestoresPersistedState(t *testing.T) {
	fx := newFixture(t, Config{Scaling: 1.0})
	fx.stats.SetMean(at(3, 9, 0), 2500)
	if err := fx.coord.RunPeriodicUpdate(context.Background(), at(3, 10, 1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// A fresh coordinator over the same store picks up where we left off.
	l2, _ := ledger.New(2, ledger.MultiPeak)
	coord2 := New(Config{SourceEntity: "sensor.house_power", Cycle: cycle.Hourly, Scaling: 1.0}, l2, fx.stats, fx.client, fx.store)
	if err := coord2.Setup(); err != nil {
		t.Fatalf("setup: %v", err)
	}

	if coord2.Values()[0] != 2.5 {
		t.Errorf("restored values: %v", coord2.Values())
	}
	if !coord2.Timestamps()[0].Equal(at(3, 10, 1)) {
		t.Errorf("restored timestamp: %v", coord2.Timestamps()[0])
	}
}

func TestSetupWithEmptyStore(t *testing.T) {
	fx := newFixture(t, Config{Scaling: 1.0})
	if err := fx.coord.Setup(); err != nil {
		t.Fatalf("setup on empty store: %v", err)
	}
	if fx.coord.Values()[0] != 0 {
		t.Error("empty store should leave the ledger zeroed")
	}
}

func TestEstimatedCost(t *testing.T) {
	fx := newFixture(t, Config{Scaling: 1.0, PricePerKW: 3.0})
	fx.ledger.Offer(4.0, at(3, 10, 0))
	fx.ledger.Offer(2.0, at(3, 11, 0))

	if got := fx.coord.Average(); got != 3.0 {
		t.Errorf("average: got %f", got)
	}
	if got := fx.coord.EstimatedCost(); got != 9.0 {
		t.Errorf("estimated cost: got %f", got)
	}
}

func TestScalingFactorConfiguredWins(t *testing.T) {
	fx := newFixture(t, Config{Scaling: 1000.0, AttrsTopic: "sensor/power/attrs"})
	fx.client.SetState("sensor/power/attrs", `{"unit_of_measurement":"W"}`)

	if got := fx.coord.ScalingFactor(); got != 1000.0 {
		t.Errorf("configured scaling should win, got %f", got)
	}
}

func TestScalingFactorAutoDetected(t *testing.T) {
	fx := newFixture(t, Config{AttrsTopic: "sensor/power/attrs"})

	// No attributes seen yet: fall back to 1.0 without caching.
	if got := fx.coord.ScalingFactor(); got != 1.0 {
		t.Errorf("fallback scaling: got %f", got)
	}

	fx.client.SetState("sensor/power/attrs", `{"unit_of_measurement":"kW"}`)
	if got := fx.coord.ScalingFactor(); got != 1000.0 {
		t.Errorf("detected scaling: got %f", got)
	}

	// The detection is cached; a later unit change does not flip it.
	fx.client.SetState("sensor/power/attrs", `{"unit_of_measurement":"W"}`)
	if got := fx.coord.ScalingFactor(); got != 1000.0 {
		t.Errorf("cached scaling: got %f", got)
	}
}
