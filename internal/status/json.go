package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Peaks         []PeakJSON `json:"peaks"`
	AverageKW     float64    `json:"average_kw"`
	EstimatedCost float64    `json:"estimated_cost"`
	LiveAverageKW float64    `json:"live_average_kw"`
	PreviousMonth *PrevJSON  `json:"previous_month,omitempty"`
	LastUpdate    string     `json:"last_update,omitempty"`
	LastReason    string     `json:"last_reason,omitempty"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	StartTime     string     `json:"start_time"`
	Timestamp     string     `json:"timestamp"`
	MQTT          MQTTStatus `json:"mqtt"`
	Config        ConfigJSON `json:"config"`
}

// PeakJSON is one ledger slot: a value and when it was recorded.
type PeakJSON struct {
	ValueKW    float64 `json:"value_kw"`
	RecordedAt *string `json:"recorded_at"`
}

// PrevJSON is the previous-month snapshot.
type PrevJSON struct {
	Values    []float64 `json:"values"`
	AverageKW float64   `json:"average_kw"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	SourceEntity string  `json:"source_entity"`
	SourceTopic  string  `json:"source_topic,omitempty"`
	GateTopic    string  `json:"gate_topic,omitempty"`
	CycleType    string  `json:"cycle_type"`
	NumPeaks     int     `json:"num_peaks"`
	MonthlyReset bool    `json:"monthly_reset"`
	OnePerDay    bool    `json:"single_peak_per_day"`
	PricePerKW   float64 `json:"price_per_kw"`
	HTTPAddr     string  `json:"http_addr"`
}

func buildInner(snap Snapshot) StatusInner {
	peaks := make([]PeakJSON, len(snap.Peaks))
	for i, v := range snap.Peaks {
		peaks[i] = PeakJSON{ValueKW: v}
		if i < len(snap.PeakTimes) && !snap.PeakTimes[i].IsZero() {
			ts := snap.PeakTimes[i].UTC().Format(time.RFC3339)
			peaks[i].RecordedAt = &ts
		}
	}

	inner := StatusInner{
		Peaks:         peaks,
		AverageKW:     snap.AverageKW,
		EstimatedCost: snap.EstimatedCost,
		LiveAverageKW: snap.LiveAverageKW,
		LastReason:    snap.LastReason,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			SourceEntity: snap.Config.SourceEntity,
			SourceTopic:  snap.Config.SourceTopic,
			GateTopic:    snap.Config.GateTopic,
			CycleType:    snap.Config.CycleType,
			NumPeaks:     snap.Config.NumPeaks,
			MonthlyReset: snap.Config.MonthlyReset,
			OnePerDay:    snap.Config.OnePerDay,
			PricePerKW:   snap.Config.PricePerKW,
			HTTPAddr:     snap.Config.HTTPAddr,
		},
	}
	if !snap.LastUpdate.IsZero() {
		inner.LastUpdate = snap.LastUpdate.UTC().Format(time.RFC3339)
	}
	if len(snap.PrevMonth) > 0 {
		inner.PreviousMonth = &PrevJSON{Values: snap.PrevMonth, AverageKW: snap.PrevMonthAverage}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}
