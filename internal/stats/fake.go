package stats

import (
	"context"
	"time"
)

// FakeQuerier serves canned means for test assertions.
type FakeQuerier struct {
	// Means maps window start (UTC, RFC3339) to the mean returned for that
	// window. Windows with no entry return nil (no data).
	Means map[string]float64

	// Err, if set, is returned by every Mean call.
	Err error

	// Queries records every window that was requested, in order.
	Queries []Query

	// Closed tracks if Close was called.
	Closed bool
}

// Query records one Mean call.
type Query struct {
	Entity      string
	Start       time.Time
	End         time.Time
	Granularity string
}

// NewFakeQuerier creates a FakeQuerier for testing.
func NewFakeQuerier() *FakeQuerier {
	return &FakeQuerier{Means: make(map[string]float64)}
}

// SetMean registers the mean returned for the window starting at start.
func (f *FakeQuerier) SetMean(start time.Time, mean float64) {
	f.Means[start.UTC().Format(time.RFC3339)] = mean
}

// Mean returns the canned mean for the window, or nil if none was set.
func (f *FakeQuerier) Mean(_ context.Context, entity string, start, end time.Time, granularity string) (*float64, error) {
	f.Queries = append(f.Queries, Query{Entity: entity, Start: start, End: end, Granularity: granularity})
	if f.Err != nil {
		return nil, f.Err
	}
	if v, ok := f.Means[start.UTC().Format(time.RFC3339)]; ok {
		mean := v
		return &mean, nil
	}
	return nil, nil
}

// Close marks the querier as closed.
func (f *FakeQuerier) Close() {
	f.Closed = true
}
