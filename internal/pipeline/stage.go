package pipeline

import (
	"context"
	"fmt"
	"time"
)

// StageContext is the read-only view a stage receives for one run.
type StageContext struct {
	Now          time.Time
	Loc          *time.Location
	BoundaryHour int
	BoundaryDate string
	// Reason records why the stage was invoked: "always", "boundary_cross",
	// "new_chat" or "manual".
	Reason string
	// State must not be mutated by stages; changes go through StageResult.
	State *State

	// Populated for on_new_chat runs.
	NewChatCount int64
	ChatSince    time.Time
}

// StageResult carries everything a stage may feed back into persisted state.
// Deltas are shallow: one key, one scalar-ish value.
type StageResult struct {
	// Output is opaque to the scheduler; stages write their own artifacts.
	Output any

	// StateDeltas is shallow-merged into State.Values.
	StateDeltas map[string]any
	// CursorDeltas is merged into State.Cursors.
	CursorDeltas map[string]time.Time
	// Signals is merged into State.Signals (cleared at the next boundary).
	Signals map[string]string

	// WakeTime, when set, becomes State.WakeTimeToday.
	WakeTime *time.Time
	// DayStart, when set, marks the day started at that instant.
	DayStart *time.Time

	Debug map[string]any
}

// Stage is one pipeline computation.
type Stage interface {
	Run(ctx context.Context, sc *StageContext) (*StageResult, error)
	// ResetForBoundary is invoked once per boundary crossing, before any
	// stage runs for the new day. Failures are isolated per stage.
	ResetForBoundary(ctx context.Context, boundaryDate string) error
}

// Factory constructs a stage implementation.
type Factory func() (Stage, error)

// Registry maps stage ids to factories. It is populated from static code at
// startup and validated against the configuration when the scheduler is
// built: an enabled stage with no registered factory is a hard error.
type Registry map[string]Factory

// Register adds a factory, rejecting duplicates.
func (r Registry) Register(id string, f Factory) error {
	if _, exists := r[id]; exists {
		return fmt.Errorf("stage %q registered twice", id)
	}
	r[id] = f
	return nil
}

// Resolve builds the stage for an id.
func (r Registry) Resolve(id string) (Stage, error) {
	f, ok := r[id]
	if !ok {
		return nil, fmt.Errorf("no factory registered for stage %q", id)
	}
	return f()
}
