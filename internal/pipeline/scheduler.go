package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"presence-tracker-backend/config"
	"presence-tracker-backend/internal/store"
)

// Run policy kinds.
const (
	PolicyAlways          = "always"
	PolicyOnNewChat       = "on_new_chat"
	PolicyOnBoundaryCross = "on_boundary_cross"
)

// boundStage pairs a stage's configuration with its resolved implementation.
type boundStage struct {
	cfg  config.StageConfig
	impl Stage
}

// Scheduler evaluates and runs pipeline stages. Each Refresh is one tick:
// boundary check, stage evaluation, stage execution, persist-if-dirty. The
// scheduler is synchronous and does not guard against concurrent calls;
// callers serialize Refresh and RunStage (see Runner).
type Scheduler struct {
	cfg    *config.PipelineConfig
	store  store.Store
	states StateStore
	loc    *time.Location

	stages []boundStage

	state *State
	dirty bool
}

// NewScheduler resolves every enabled stage against the registry. A missing
// factory or an unknown run policy for an enabled stage fails here, at load
// time, not at execution time.
func NewScheduler(cfg *config.PipelineConfig, s store.Store, states StateStore, registry Registry) (*Scheduler, error) {
	loc := time.Local
	if cfg.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("failed to load timezone %q: %w", cfg.Timezone, err)
		}
	}

	sched := &Scheduler{
		cfg:    cfg,
		store:  s,
		states: states,
		loc:    loc,
	}

	for _, stageCfg := range cfg.Stages {
		if !stageCfg.Enabled {
			continue
		}
		switch stageCfg.RunPolicy.Kind {
		case PolicyAlways, PolicyOnNewChat, PolicyOnBoundaryCross:
		default:
			return nil, fmt.Errorf("stage %q: unknown run policy %q", stageCfg.ID, stageCfg.RunPolicy.Kind)
		}
		impl, err := registry.Resolve(stageCfg.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve enabled stage: %w", err)
		}
		sched.stages = append(sched.stages, boundStage{cfg: stageCfg, impl: impl})
	}

	return sched, nil
}

// Location returns the scheduler's boundary timezone.
func (s *Scheduler) Location() *time.Location {
	return s.loc
}

// State returns a copy of the current pipeline state for read access.
func (s *Scheduler) State(ctx context.Context) (*State, error) {
	if err := s.ensureState(ctx); err != nil {
		return nil, err
	}
	return s.state.Clone(), nil
}

func (s *Scheduler) ensureState(ctx context.Context) error {
	if s.state != nil {
		return nil
	}
	state, err := s.states.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load pipeline state: %w", err)
	}
	s.state = state
	return nil
}

// Refresh executes one scheduling tick at the given instant.
func (s *Scheduler) Refresh(ctx context.Context, now time.Time) error {
	if err := s.ensureState(ctx); err != nil {
		return err
	}

	crossed := s.checkBoundary(ctx, now)

	for _, stage := range s.stages {
		decision, err := s.evaluatePolicy(ctx, stage, now, crossed)
		if err != nil {
			// An evaluation failure (e.g. the chat count query) skips the
			// stage this tick; the next tick retries naturally.
			log.Printf("Error evaluating run policy for stage %q: %v", stage.cfg.ID, err)
			continue
		}
		if !decision.run {
			continue
		}

		if err := s.executeStage(ctx, stage, now, decision); err != nil {
			if s.cfg.ContinueOnStageError {
				log.Printf("Stage %q failed, continuing with remaining stages: %v", stage.cfg.ID, err)
				continue
			}
			// Fail fast: later stages do not run this tick, but everything
			// recorded so far (including this failure) is persisted.
			s.persist(ctx)
			return err
		}
	}

	s.persist(ctx)
	return nil
}

// RunStage executes one enabled stage on demand, regardless of its policy.
func (s *Scheduler) RunStage(ctx context.Context, id string, now time.Time) error {
	if err := s.ensureState(ctx); err != nil {
		return err
	}

	for _, stage := range s.stages {
		if stage.cfg.ID != id {
			continue
		}
		err := s.executeStage(ctx, stage, now, policyDecision{run: true, reason: "manual"})
		s.persist(ctx)
		return err
	}
	return fmt.Errorf("unknown or disabled stage %q", id)
}

// checkBoundary fires the daily reset when the persisted reset marker does
// not match today's boundary date. Driving the check off the marker rather
// than a date delta means a process that slept across a boundary still
// resets on its first tick.
func (s *Scheduler) checkBoundary(ctx context.Context, now time.Time) bool {
	current := BoundaryDate(now, s.loc, s.cfg.BoundaryHour)
	if current == s.state.LastDailyResetBoundary {
		s.state.BoundaryDateLocal = current
		return false
	}

	log.Printf("Daily boundary crossing: %q -> %q", s.state.LastDailyResetBoundary, current)

	for _, stage := range s.stages {
		// One stage's reset failure must not prevent the others from
		// resetting.
		if err := stage.impl.ResetForBoundary(ctx, current); err != nil {
			log.Printf("Error resetting stage %q for boundary %s: %v", stage.cfg.ID, current, err)
		}
	}

	resetAt := now.UTC()
	s.state.BoundaryDateLocal = current
	s.state.LastDailyResetBoundary = current
	s.state.LastDailyResetUTC = &resetAt
	s.state.DayStarted = false
	s.state.DayStartTimeUTC = nil
	s.state.WakeTimeToday = nil
	s.state.Signals = make(map[string]string)
	s.dirty = true
	return true
}

// policyDecision is the outcome of evaluating one stage's run policy.
type policyDecision struct {
	run       bool
	reason    string
	chatCount int64
	chatSince time.Time
	// advanceCursor moves the named cursor forward after a successful run.
	cursorKey     string
	advanceCursor *time.Time
}

func (s *Scheduler) evaluatePolicy(ctx context.Context, stage boundStage, now time.Time, crossed bool) (policyDecision, error) {
	policy := stage.cfg.RunPolicy

	switch policy.Kind {
	case PolicyAlways:
		if policy.MinIntervalSeconds > 0 {
			if run, ok := s.state.StageRuns[stage.cfg.ID]; ok {
				elapsed := now.Sub(run.LastRunUTC)
				if elapsed < time.Duration(policy.MinIntervalSeconds)*time.Second {
					// Skipped silently: the interval clock keeps running
					// from the last real run.
					return policyDecision{}, nil
				}
			}
		}
		return policyDecision{run: true, reason: "always"}, nil

	case PolicyOnBoundaryCross:
		if !crossed {
			return policyDecision{}, nil
		}
		return policyDecision{run: true, reason: "boundary_cross"}, nil

	case PolicyOnNewChat:
		cursorKey := policy.CursorKey
		if cursorKey == "" {
			cursorKey = stage.cfg.ID
		}
		since, ok := s.state.Cursors[cursorKey]
		if !ok {
			since = now.Add(-time.Duration(policy.LookbackHoursIfMissing) * time.Hour)
		}
		count, err := s.store.CountChatMessagesSince(ctx, since)
		if err != nil {
			return policyDecision{}, err
		}
		if count < int64(policy.MinNewMessages) {
			return policyDecision{}, nil
		}
		latest, err := s.store.LatestChatMessageTime(ctx)
		if err != nil {
			return policyDecision{}, err
		}
		return policyDecision{
			run:           true,
			reason:        "new_chat",
			chatCount:     count,
			chatSince:     since,
			cursorKey:     cursorKey,
			advanceCursor: latest,
		}, nil
	}

	return policyDecision{}, fmt.Errorf("unknown run policy %q", policy.Kind)
}

func (s *Scheduler) executeStage(ctx context.Context, stage boundStage, now time.Time, decision policyDecision) error {
	sc := &StageContext{
		Now:          now,
		Loc:          s.loc,
		BoundaryHour: s.cfg.BoundaryHour,
		BoundaryDate: s.state.BoundaryDateLocal,
		Reason:       decision.reason,
		State:        s.state,
		NewChatCount: decision.chatCount,
		ChatSince:    decision.chatSince,
	}

	result, runErr := stage.impl.Run(ctx, sc)

	record := StageRun{
		LastRunUTC: now.UTC(),
		LastReason: decision.reason,
	}
	if runErr != nil {
		record.LastError = runErr.Error()
	}
	if result != nil && result.Debug != nil {
		record.Debug = result.Debug
	}
	s.state.StageRuns[stage.cfg.ID] = record
	s.dirty = true

	if runErr != nil {
		return fmt.Errorf("stage %q failed: %w", stage.cfg.ID, runErr)
	}

	if result != nil {
		s.mergeResult(result)
	}
	if decision.cursorKey != "" && decision.advanceCursor != nil {
		s.state.Cursors[decision.cursorKey] = decision.advanceCursor.UTC()
	}
	return nil
}

// mergeResult applies a stage's deltas. Merging is shallow by contract:
// persisted state stays small and flat.
func (s *Scheduler) mergeResult(result *StageResult) {
	for k, v := range result.StateDeltas {
		s.state.Values[k] = v
	}
	for k, v := range result.CursorDeltas {
		s.state.Cursors[k] = v.UTC()
	}
	for k, v := range result.Signals {
		s.state.Signals[k] = v
	}
	if result.WakeTime != nil {
		t := result.WakeTime.UTC()
		s.state.WakeTimeToday = &t
	}
	if result.DayStart != nil {
		t := result.DayStart.UTC()
		s.state.DayStarted = true
		s.state.DayStartTimeUTC = &t
	}
}

// persist writes the state if anything changed this tick. A persistence
// failure is logged and retried on the next dirty tick.
func (s *Scheduler) persist(ctx context.Context) {
	if !s.dirty {
		return
	}
	if err := s.states.Save(ctx, s.state); err != nil {
		log.Printf("Error persisting pipeline state: %v", err)
		return
	}
	s.dirty = false
}
