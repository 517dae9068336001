// Package ledger implements the ranked top-N container of peak cycle
// averages. It is pure accounting state: no clocks, no IO. Time is always
// injectable via time.Time parameters.
package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Mode selects the eviction policy for the ledger.
type Mode string

const (
	// MultiPeak keeps the top-N cycle averages regardless of date.
	MultiPeak Mode = "multi_peak"
	// OnePerDay keeps at most one peak (the highest) per calendar date.
	OnePerDay Mode = "one_per_day"
)

// MinCapacity and MaxCapacity bound the number of tracked peaks.
const (
	MinCapacity = 1
	MaxCapacity = 10
)

// Ledger holds the top-N peak values with their timestamps, sorted by value
// descending. A zero value in a slot means the slot has never been filled;
// its timestamp is the zero time. Safe for concurrent use.
type Ledger struct {
	mu         sync.Mutex
	values     []float64
	timestamps []time.Time
	capacity   int
	mode       Mode
}

// New creates a Ledger with the given capacity, initialized to zeros.
// Capacity outside [MinCapacity, MaxCapacity] is a configuration error.
func New(capacity int, mode Mode) (*Ledger, error) {
	if capacity < MinCapacity || capacity > MaxCapacity {
		return nil, fmt.Errorf("ledger: capacity must be between %d and %d, got %d", MinCapacity, MaxCapacity, capacity)
	}
	return &Ledger{
		values:     make([]float64, capacity),
		timestamps: make([]time.Time, capacity),
		capacity:   capacity,
		mode:       mode,
	}, nil
}

// Capacity returns the fixed number of slots.
func (l *Ledger) Capacity() int { return l.capacity }

// Mode returns the eviction policy.
func (l *Ledger) Mode() Mode { return l.mode }

// Offer presents a new cycle average to the ledger. It returns true if the
// ledger changed. The value and timestamp are committed together or not at
// all.
func (l *Ledger) Offer(value float64, ts time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.mode == OnePerDay {
		return l.offerDaily(value, ts)
	}
	return l.offerMulti(value, ts)
}

// offerMulti implements the multi-peak policy: duplicate values are
// rejected so a flat signal does not thrash timestamps every cycle.
func (l *Ledger) offerMulti(value float64, ts time.Time) bool {
	for _, v := range l.values {
		if v == value {
			return false
		}
	}

	candidate := make([]float64, 0, l.capacity+1)
	candidate = append(candidate, l.values...)
	candidate = append(candidate, value)
	sort.Sort(sort.Reverse(sort.Float64Slice(candidate)))
	candidate = candidate[:l.capacity]

	if equalValues(candidate, l.values) {
		return false
	}

	// The value is not a duplicate, so it occupies exactly one slot in the
	// candidate: the first index where the sequences differ.
	insert := 0
	for i, v := range candidate {
		if v == value && l.values[i] != value {
			insert = i
			break
		}
	}

	timestamps := make([]time.Time, 0, l.capacity+1)
	timestamps = append(timestamps, l.timestamps[:insert]...)
	timestamps = append(timestamps, ts)
	timestamps = append(timestamps, l.timestamps[insert:]...)

	l.values = candidate
	l.timestamps = timestamps[:l.capacity]
	return true
}

// offerDaily implements the one-peak-per-day policy: at most one populated
// slot per calendar date, holding the highest value seen that day.
func (l *Ledger) offerDaily(value float64, ts time.Time) bool {
	existing := -1
	for i, t := range l.timestamps {
		if !t.IsZero() && sameDate(t, ts) {
			existing = i
			break
		}
	}

	if existing >= 0 {
		if value <= l.values[existing] {
			return false
		}
		l.values[existing] = value
		l.timestamps[existing] = ts
		l.sortPairs(l.values, l.timestamps)
		return true
	}

	values := make([]float64, 0, l.capacity+1)
	values = append(values, l.values...)
	values = append(values, value)
	timestamps := make([]time.Time, 0, l.capacity+1)
	timestamps = append(timestamps, l.timestamps...)
	timestamps = append(timestamps, ts)
	l.sortPairs(values, timestamps)

	values = values[:l.capacity]
	timestamps = timestamps[:l.capacity]
	if equalValues(values, l.values) {
		return false
	}

	l.values = values
	l.timestamps = timestamps
	return true
}

// sortPairs sorts aligned value/timestamp slices by value descending,
// keeping the original order of equal values.
func (l *Ledger) sortPairs(values []float64, timestamps []time.Time) {
	sort.Stable(pairSlice{values, timestamps})
}

// pairSlice lets sort.Stable swap the two aligned slices together.
type pairSlice struct {
	values     []float64
	timestamps []time.Time
}

func (p pairSlice) Len() int { return len(p.values) }
func (p pairSlice) Swap(i, j int) {
	p.values[i], p.values[j] = p.values[j], p.values[i]
	p.timestamps[i], p.timestamps[j] = p.timestamps[j], p.timestamps[i]
}
func (p pairSlice) Less(i, j int) bool { return p.values[i] > p.values[j] }

// Values returns a copy of the current peak values, sorted descending.
func (l *Ledger) Values() []float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]float64, len(l.values))
	copy(out, l.values)
	return out
}

// Timestamps returns a copy of the timestamps aligned with Values.
// A zero time means the slot has never been filled.
func (l *Ledger) Timestamps() []time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]time.Time, len(l.timestamps))
	copy(out, l.timestamps)
	return out
}

// Average returns the mean of the populated peak values. Zero and negative
// entries are unfilled-slot sentinels, not samples, and are excluded.
// Returns 0 if no slot is populated.
func (l *Ledger) Average() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	sum := 0.0
	n := 0
	for _, v := range l.values {
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

// Reset clears all slots and returns the pre-reset values. A second Reset
// returns an all-zero snapshot.
func (l *Ledger) Reset() []float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	snapshot := make([]float64, len(l.values))
	copy(snapshot, l.values)
	l.values = make([]float64, l.capacity)
	l.timestamps = make([]time.Time, l.capacity)
	return snapshot
}

func equalValues(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
