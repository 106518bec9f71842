package stages

import (
	"context"
	"fmt"
	"time"

	"presence-tracker-backend/config"
	"presence-tracker-backend/internal/pipeline"
	"presence-tracker-backend/internal/sleepcalc"
	"presence-tracker-backend/internal/store"
)

// SleepStageID names the nightly sleep inference stage.
const SleepStageID = "sleep"

// SleepStage computes last night's sleep once per boundary crossing, writes
// the result as sleep.json and feeds the wake time back into scheduler state.
type SleepStage struct {
	store        store.Store
	cfg          *config.SleepConfig
	resourcesDir string
}

// NewSleepStage builds the stage. Register it under SleepStageID.
func NewSleepStage(s store.Store, cfg *config.SleepConfig, resourcesDir string) *SleepStage {
	return &SleepStage{store: s, cfg: cfg, resourcesDir: resourcesDir}
}

func (st *SleepStage) Run(ctx context.Context, sc *pipeline.StageContext) (*pipeline.StageResult, error) {
	result, err := sleepcalc.Compute(ctx, st.store, st.cfg, sc.Now, nil, sc.Loc)
	if err != nil {
		return nil, fmt.Errorf("sleep inference failed: %w", err)
	}

	artifact := struct {
		BoundaryDate string          `json:"boundary_date"`
		ComputedAt   time.Time       `json:"computed_at"`
		Result       sleepcalc.Result `json:"result"`
	}{
		BoundaryDate: sc.BoundaryDate,
		ComputedAt:   sc.Now.UTC(),
		Result:       result,
	}
	if err := writeArtifact(st.resourcesDir, "sleep.json", artifact); err != nil {
		return nil, err
	}

	out := &pipeline.StageResult{
		Output: result,
		StateDeltas: map[string]any{
			"total_sleep_minutes": result.TotalSleepMinutes,
			"sleep_fragmented":    result.Fragmented,
			"sleep_used_fallback": result.UsedFallback,
		},
		Signals: map[string]string{"sleep_computed": "true"},
		Debug: map[string]any{
			"periods":       len(result.Periods),
			"used_fallback": result.UsedFallback,
		},
	}

	// Detected activity, not the sleep envelope, is what starts the day: a
	// fallback night carries no evidence the user is actually up.
	if result.ActivityWakeTime != nil {
		out.WakeTime = result.ActivityWakeTime
		out.DayStart = result.ActivityWakeTime
	}
	return out, nil
}

func (st *SleepStage) ResetForBoundary(ctx context.Context, boundaryDate string) error {
	return nil
}
