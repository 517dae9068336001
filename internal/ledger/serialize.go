package ledger

import (
	"log"
	"time"
)

// Snapshot is the serialized form of a ledger, independent of mode.
// Timestamps are RFC3339 strings; an empty string marks an unfilled slot.
type Snapshot struct {
	Values     []float64
	Timestamps []string
}

// Snapshot captures the current ledger state for persistence.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := Snapshot{
		Values:     make([]float64, len(l.values)),
		Timestamps: make([]string, len(l.timestamps)),
	}
	copy(snap.Values, l.values)
	for i, ts := range l.timestamps {
		if !ts.IsZero() {
			snap.Timestamps[i] = ts.Format(time.RFC3339Nano)
		}
	}
	return snap
}

// Restore loads a previously persisted snapshot. Slots beyond the ledger
// capacity are dropped; missing slots keep their zero-initialized default.
// A malformed timestamp string degrades that slot's timestamp only, never
// the whole restore.
func (l *Ledger) Restore(snap Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := 0; i < l.capacity && i < len(snap.Values); i++ {
		l.values[i] = snap.Values[i]
	}
	for i := 0; i < l.capacity && i < len(snap.Timestamps); i++ {
		if snap.Timestamps[i] == "" {
			l.timestamps[i] = time.Time{}
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, snap.Timestamps[i])
		if err != nil {
			log.Printf("ledger: ignoring malformed stored timestamp %q: %v", snap.Timestamps[i], err)
			l.timestamps[i] = time.Time{}
			continue
		}
		l.timestamps[i] = ts
	}
}
