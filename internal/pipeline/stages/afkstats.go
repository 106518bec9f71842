package stages

import (
	"context"
	"fmt"
	"time"

	"presence-tracker-backend/internal/pipeline"
	"presence-tracker-backend/internal/stats"
	"presence-tracker-backend/internal/store"
)

// AFKStatsStageID names the rolling presence statistics stage.
const AFKStatsStageID = "afk_stats"

// SessionSource reports the live work session, if any. The presence monitor
// satisfies this; tests substitute a stub.
type SessionSource interface {
	CurrentSession() (start time.Time, active bool)
}

// noSession is used when the stage runs without a monitor attached.
type noSession struct{}

func (noSession) CurrentSession() (time.Time, bool) { return time.Time{}, false }

// AFKStatsStage aggregates presence statistics for the current logical day
// and publishes them as afk_stats.json.
type AFKStatsStage struct {
	store        store.Store
	sessions     SessionSource
	resourcesDir string
}

// NewAFKStatsStage builds the stage. A nil sessions source means no live
// session is ever counted.
func NewAFKStatsStage(s store.Store, sessions SessionSource, resourcesDir string) *AFKStatsStage {
	if sessions == nil {
		sessions = noSession{}
	}
	return &AFKStatsStage{store: s, sessions: sessions, resourcesDir: resourcesDir}
}

func (st *AFKStatsStage) Run(ctx context.Context, sc *pipeline.StageContext) (*pipeline.StageResult, error) {
	// Stats cover the day: from the detected day start when the sleep stage
	// has established one, otherwise from the boundary instant.
	since := pipeline.BoundaryInstant(sc.Now, sc.Loc, sc.BoundaryHour)
	if sc.State.DayStarted && sc.State.DayStartTimeUTC != nil {
		since = *sc.State.DayStartTimeUTC
	}

	var activeStart *time.Time
	start, active := st.sessions.CurrentSession()
	if active {
		activeStart = &start
	}

	result, err := stats.Compute(ctx, st.store, since, sc.Now, activeStart, active)
	if err != nil {
		return nil, fmt.Errorf("presence stats failed: %w", err)
	}

	artifact := struct {
		BoundaryDate string      `json:"boundary_date"`
		ComputedAt   time.Time   `json:"computed_at"`
		Stats        stats.Stats `json:"stats"`
	}{
		BoundaryDate: sc.BoundaryDate,
		ComputedAt:   sc.Now.UTC(),
		Stats:        result,
	}
	if err := writeArtifact(st.resourcesDir, "afk_stats.json", artifact); err != nil {
		return nil, err
	}

	return &pipeline.StageResult{
		Output: result,
		StateDeltas: map[string]any{
			"total_active_minutes": result.TotalActiveMinutes,
			"total_afk_minutes":    result.TotalAFKMinutes,
			"afk_count":            result.AFKCount,
		},
	}, nil
}

func (st *AFKStatsStage) ResetForBoundary(ctx context.Context, boundaryDate string) error {
	return nil
}
