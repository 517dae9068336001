package stats

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// InfluxConfig holds the connection settings for the statistics backend.
type InfluxConfig struct {
	URL    string `yaml:"url"`
	Org    string `yaml:"org"`
	Token  string `yaml:"token"`
	Bucket string `yaml:"bucket"`
}

// InfluxQuerier reads cycle means from an InfluxDB 2.x bucket that stores
// sensor readings tagged with entity_id and a "value" field, the layout the
// recorder writes.
type InfluxQuerier struct {
	client influxdb2.Client
	query  api.QueryAPI
	bucket string
}

// NewInfluxQuerier creates a querier connected to the given backend and
// verifies connectivity.
func NewInfluxQuerier(cfg InfluxConfig) (*InfluxQuerier, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	if _, err := client.Health(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to influxdb: %w", err)
	}
	return &InfluxQuerier{
		client: client,
		query:  client.QueryAPI(cfg.Org),
		bucket: cfg.Bucket,
	}, nil
}

// fluxEvery maps a statistics granularity label to a Flux window duration.
// The label must match the stored bucket size exactly or the window mean is
// computed over the wrong period.
func fluxEvery(granularity string) string {
	if granularity == "15min" {
		return "15m"
	}
	return "1h"
}

// Mean returns the average reading for entity over [start, end), or nil if
// the backend has no rows for the window.
func (q *InfluxQuerier) Mean(ctx context.Context, entity string, start, end time.Time, granularity string) (*float64, error) {
	flux := fmt.Sprintf(`from(bucket: %q)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r.entity_id == %q and r._field == "value")
  |> aggregateWindow(every: %s, fn: mean, createEmpty: false)`,
		q.bucket,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
		entity,
		fluxEvery(granularity),
	)

	result, err := q.query.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("query statistics: %w", err)
	}
	defer result.Close()

	for result.Next() {
		if v, ok := result.Record().Value().(float64); ok {
			return &v, nil
		}
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("read statistics result: %w", err)
	}
	return nil, nil
}

// Close shuts down the backend connection.
func (q *InfluxQuerier) Close() {
	q.client.Close()
}
