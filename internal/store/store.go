// Package store persists the peak ledger across restarts as a versioned
// JSON file.
package store

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// Version is the schema version written to every record.
const Version = 1

// Record is the on-disk shape of the persisted ledger state. Timestamps are
// RFC3339 strings or null for slots that were never filled.
type Record struct {
	Version             int       `json:"version"`
	MaxValues           []float64 `json:"max_values"`
	MaxValueTimestamps  []*string `json:"max_values_timestamps"`
	PreviousMonthValues []float64 `json:"previous_month_max_values"`
}

// Store reads and writes a single JSON record at a fixed path.
type Store struct {
	path string
}

// New creates a Store at the given path, creating parent directories as
// needed.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store: path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("store: create directory: %w", err)
	}
	return &Store{path: path}, nil
}

// Load reads the persisted record. Returns nil with no error if the file
// does not exist yet. A corrupted file is logged and treated as absent so a
// bad write never blocks startup.
func (s *Store) Load() (*Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: read %s: %w", s.path, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		log.Printf("store: ignoring corrupted record at %s: %v", s.path, err)
		return nil, nil
	}
	return &rec, nil
}

// Save writes the record atomically (temp file, then rename) so concurrent
// readers never observe a partial write.
func (s *Store) Save(rec Record) error {
	rec.Version = Version
	return s.writeAtomic(rec)
}

func (s *Store) writeAtomic(v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".tmp-peaks-*.json")
	if err != nil {
		return fmt.Errorf("store: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(encoded); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("store: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("store: rename temp: %w", err)
	}
	success = true
	return nil
}
