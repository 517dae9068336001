package store

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/sweeney/peak-tracker/internal/live"
)

// LiveRecord is the on-disk shape of the live accumulator state. It lives in
// its own file so ledger writes and live writes never race on one record.
type LiveRecord struct {
	Version int        `json:"version"`
	Live    live.State `json:"live"`
}

// LoadLive reads the persisted accumulator state. Returns nil with no error
// if the file does not exist; a corrupted file is treated as absent.
func (s *Store) LoadLive() (*LiveRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: read %s: %w", s.path, err)
	}

	var rec LiveRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		log.Printf("store: ignoring corrupted live record at %s: %v", s.path, err)
		return nil, nil
	}
	return &rec, nil
}

// SaveLive writes the accumulator state atomically.
func (s *Store) SaveLive(state live.State) error {
	return s.writeAtomic(LiveRecord{Version: Version, Live: state})
}
