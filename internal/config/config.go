// Package config loads the daemon configuration from a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/peak-tracker/internal/cycle"
	"github.com/sweeney/peak-tracker/internal/ledger"
	"github.com/sweeney/peak-tracker/internal/sample"
)

// Config is the on-disk configuration shape (YAML).
type Config struct {
	// SourceEntity is the entity id of the source power sensor in the
	// statistics backend.
	SourceEntity string `yaml:"source_entity"`

	// SourceTopic carries the source sensor's live readings over MQTT,
	// feeding the live cycle average. Optional.
	SourceTopic string `yaml:"source_topic"`

	// SourceAttrsTopic carries the source sensor's attributes JSON, used to
	// auto-detect the power scaling factor from its unit. Optional.
	SourceAttrsTopic string `yaml:"source_attrs_topic"`

	// GateTopic is the state topic of a boolean sensor gating sample
	// acceptance. Optional; empty means always allowed.
	GateTopic string `yaml:"gate_topic"`

	CycleType    cycle.Type `yaml:"cycle_type"`
	NumPeaks     int        `yaml:"num_peaks"`
	MonthlyReset bool       `yaml:"monthly_reset"`
	OnePerDay    bool       `yaml:"single_peak_per_day"`

	// PowerScalingFactor converts source readings to base watts.
	// 0 means auto-detect from the source unit.
	PowerScalingFactor float64 `yaml:"power_scaling_factor"`

	PricePerKW float64 `yaml:"price_per_kw"`

	// ActiveWindow optionally scales samples recorded inside a daily
	// clock-time window.
	ActiveWindow *WindowConfig `yaml:"active_window"`

	MQTT   MQTTConfig   `yaml:"mqtt"`
	Influx InfluxConfig `yaml:"influx"`

	HTTPAddr  string `yaml:"http_addr"`
	StorePath string `yaml:"store_path"`
}

// WindowConfig is the YAML shape of the active time window.
type WindowConfig struct {
	Start   string  `yaml:"start"` // "HH:MM"
	Stop    string  `yaml:"stop"`  // "HH:MM"
	Scaling float64 `yaml:"scaling"`
}

// MQTTConfig holds MQTT connection settings.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
}

// InfluxConfig holds the statistics backend settings.
type InfluxConfig struct {
	URL    string `yaml:"url"`
	Org    string `yaml:"org"`
	Token  string `yaml:"token"`
	Bucket string `yaml:"bucket"`
}

// Load reads, defaults, and validates a config file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.CycleType == "" {
		c.CycleType = cycle.Hourly
	}
	if c.NumPeaks == 0 {
		c.NumPeaks = 2
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "peak-tracker"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.StorePath == "" {
		c.StorePath = "peaks.json"
	}
}

// Validate checks the config for contract violations. Capacity
// misconfiguration is the one condition callers must see at construction
// time rather than as a degraded runtime no-op.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.SourceEntity == "" {
		return errors.New("source_entity is required")
	}
	if !c.CycleType.Valid() {
		return fmt.Errorf("cycle_type must be %q or %q, got %q", cycle.Hourly, cycle.Quarterly, c.CycleType)
	}
	if c.NumPeaks < ledger.MinCapacity || c.NumPeaks > ledger.MaxCapacity {
		return fmt.Errorf("num_peaks must be between %d and %d, got %d", ledger.MinCapacity, ledger.MaxCapacity, c.NumPeaks)
	}
	if c.PowerScalingFactor < 0 {
		return errors.New("power_scaling_factor must not be negative")
	}
	if c.MQTT.Broker == "" && (c.SourceTopic != "" || c.GateTopic != "") {
		return errors.New("mqtt.broker is required when source_topic or gate_topic is set")
	}
	if c.ActiveWindow != nil {
		if _, err := c.ActiveWindow.ToWindow(); err != nil {
			return err
		}
	}
	return nil
}

// Mode returns the ledger eviction policy for this config.
func (c *Config) Mode() ledger.Mode {
	if c.OnePerDay {
		return ledger.OnePerDay
	}
	return ledger.MultiPeak
}

// ToWindow converts the YAML window to the pipeline's form.
func (w *WindowConfig) ToWindow() (*sample.Window, error) {
	start, err := parseClock(w.Start)
	if err != nil {
		return nil, fmt.Errorf("active_window.start: %w", err)
	}
	stop, err := parseClock(w.Stop)
	if err != nil {
		return nil, fmt.Errorf("active_window.stop: %w", err)
	}
	scaling := w.Scaling
	if scaling == 0 {
		scaling = 1.0
	}
	return &sample.Window{Start: start, Stop: stop, Scaling: scaling}, nil
}

func parseClock(s string) (sample.ClockTime, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return sample.ClockTime{}, fmt.Errorf("invalid clock time %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return sample.ClockTime{}, fmt.Errorf("clock time %q out of range", s)
	}
	return sample.ClockTime{Hour: h, Minute: m}, nil
}
