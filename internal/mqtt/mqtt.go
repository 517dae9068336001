// Package mqtt provides sensor state lookup and event publishing over MQTT,
// with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"
)

// TopicPeaks is the MQTT topic for committed peak ledger mutations.
const TopicPeaks = "energy/peaks/tracker/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "energy/peaks/tracker/system"

// StateSource looks up the last observed state of a sensor topic.
type StateSource interface {
	// State returns the last payload seen on the topic and whether one was
	// seen at all.
	State(topic string) (string, bool)
}

// Publisher publishes tracker events to MQTT.
type Publisher interface {
	// PublishPeaks announces a committed ledger mutation to dependents.
	// Returns error if publishing fails (should not crash the process).
	PublishPeaks(event PeaksEvent) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// PeaksEvent represents a committed mutation of the peak ledger.
type PeaksEvent struct {
	Timestamp  time.Time
	Reason     string // e.g. "period update", "range update", "monthly reset"
	Values     []float64
	ValueTimes []time.Time
	AverageKW  float64
	Cost       float64
}

// SystemEvent represents a system lifecycle event (startup, shutdown).
type SystemEvent struct {
	Timestamp time.Time
	Event     string // e.g. "STARTUP", "SHUTDOWN"
	Reason    string // e.g. "SIGTERM", "SIGINT" (shutdown only)
	Retained  bool   // Whether the message should be retained by the broker
}

// PeaksPayload is the MQTT message payload structure for peak events.
type PeaksPayload struct {
	Peaks PeaksPayloadInner `json:"peaks"`
}

// PeaksPayloadInner contains the peak event details.
type PeaksPayloadInner struct {
	Timestamp  string    `json:"timestamp"`
	Reason     string    `json:"reason"`
	Values     []float64 `json:"values"`
	ValueTimes []*string `json:"value_timestamps"`
	AverageKW  float64   `json:"average_kw"`
	Cost       float64   `json:"estimated_cost"`
}

// FormatPeaksPayload creates the JSON payload for a peaks event.
func FormatPeaksPayload(event PeaksEvent) ([]byte, error) {
	times := make([]*string, len(event.ValueTimes))
	for i, ts := range event.ValueTimes {
		if !ts.IsZero() {
			s := ts.UTC().Format(time.RFC3339)
			times[i] = &s
		}
	}
	payload := PeaksPayload{
		Peaks: PeaksPayloadInner{
			Timestamp:  event.Timestamp.UTC().Format(time.RFC3339),
			Reason:     event.Reason,
			Values:     event.Values,
			ValueTimes: times,
			AverageKW:  event.AverageKW,
			Cost:       event.Cost,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// Attributes is the JSON shape of a sensor attributes topic. Only the unit
// is read, for scaling auto-detection.
type Attributes struct {
	UnitOfMeasurement string `json:"unit_of_measurement"`
}

// ParseUnit extracts the unit of measurement from an attributes payload.
// Returns "" if the payload is not valid JSON or carries no unit.
func ParseUnit(payload string) string {
	var attrs Attributes
	if err := json.Unmarshal([]byte(payload), &attrs); err != nil {
		return ""
	}
	return attrs.UnitOfMeasurement
}
