// Package stats queries cycle-average power from the historical statistics
// backend, with abstraction for testing.
package stats

import (
	"context"
	"time"
)

// Querier returns the mean of a source entity over one accounting window.
type Querier interface {
	// Mean returns the average reading of entity over [start, end) at the
	// given bucket granularity ("hour" or "15min"). A nil result means the
	// backend has no data for the window; that is not an error.
	Mean(ctx context.Context, entity string, start, end time.Time, granularity string) (*float64, error)

	// Close releases the backend connection.
	Close()
}
