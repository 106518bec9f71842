package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"presence-tracker-backend/internal/store"
)

// StateStore persists scheduler state across process restarts.
type StateStore interface {
	// Load reads the state, returning a fresh one when none is persisted.
	Load(ctx context.Context) (*State, error)
	// Save replaces the persisted state wholesale.
	Save(ctx context.Context, state *State) error
}

// dbStateStore keeps the state as a JSON blob in the relational store.
type dbStateStore struct {
	store store.Store
}

// NewDBStateStore creates a StateStore backed by the shared store.
func NewDBStateStore(s store.Store) StateStore {
	return &dbStateStore{store: s}
}

func (d *dbStateStore) Load(ctx context.Context) (*State, error) {
	blob, err := d.store.LoadPipelineState(ctx)
	if err != nil {
		return nil, err
	}
	if blob == nil {
		return NewState(), nil
	}

	var state State
	if err := json.Unmarshal(blob, &state); err != nil {
		// A corrupt blob is not worth dying over; the state is rebuilt
		// within a day of ticks.
		log.Printf("Warning: pipeline state blob is corrupt (%v), starting fresh", err)
		return NewState(), nil
	}
	state.normalize()
	return &state, nil
}

func (d *dbStateStore) Save(ctx context.Context, state *State) error {
	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal pipeline state: %w", err)
	}
	return d.store.SavePipelineState(ctx, blob)
}
