// Package checkpoint persists ingestion progress so an interrupted run can
// resume from the last committed batch.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrCorrupt wraps any snapshot that exists but cannot be decoded or fails
// validation. Callers treat it as "no checkpoint".
var ErrCorrupt = errors.New("checkpoint: corrupt snapshot")

type Stats struct {
	DrugsCreated             int `json:"drugs_created"`
	ProcessedRecords         int `json:"processed_records"`
	InteractionsCreated      int `json:"interactions_created"`
	InteractionsSkipped      int `json:"interactions_skipped"`
	ReactionsCreated         int `json:"reactions_created"`
	DrugReactionLinks        int `json:"drug_reaction_links"`
	DrugReactionLinksSkipped int `json:"drug_reaction_links_skipped"`
	DrugRenames              int `json:"drug_renames"`
	MalformedRecords         int `json:"malformed_records"`
}

type Snapshot struct {
	ProcessedCount  int               `json:"processed_count"`
	Stats           Stats             `json:"stats"`
	ReactionMap     map[string]string `json:"reaction_map"`
	ReactionCounter int               `json:"reaction_counter"`
	Timestamp       time.Time         `json:"timestamp"`
}

// Store holds at most one snapshot. Save replaces it atomically, Load returns
// nil when nothing is stored.
type Store interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context) (*Snapshot, error)
	Clear(ctx context.Context) error
}

func (s Snapshot) Clone() Snapshot {
	out := s
	out.ReactionMap = make(map[string]string, len(s.ReactionMap))
	for k, v := range s.ReactionMap {
		out.ReactionMap[k] = v
	}
	return out
}

func (s Snapshot) Validate() error {
	if s.ProcessedCount < 0 {
		return fmt.Errorf("negative processed_count %d", s.ProcessedCount)
	}
	if s.ReactionCounter < 1 {
		return fmt.Errorf("reaction_counter must be >= 1, got %d", s.ReactionCounter)
	}
	if len(s.ReactionMap) >= s.ReactionCounter {
		return fmt.Errorf("reaction_counter %d does not cover %d mapped reactions", s.ReactionCounter, len(s.ReactionMap))
	}
	return nil
}

func encode(snap Snapshot) ([]byte, error) {
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now().UTC()
	}
	if snap.ReactionMap == nil {
		snap.ReactionMap = map[string]string{}
	}
	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("checkpoint: encode: %w", err)
	}
	return raw, nil
}

func decode(raw []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if snap.ReactionMap == nil {
		snap.ReactionMap = map[string]string{}
	}
	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &snap, nil
}
