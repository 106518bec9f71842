package stages

import (
	"presence-tracker-backend/config"
	"presence-tracker-backend/internal/pipeline"
	"presence-tracker-backend/internal/store"
)

// NewRegistry wires every built-in stage into a registry ready for the
// scheduler. Stages share the store; the sessions source may be nil.
func NewRegistry(s store.Store, cfg *config.Config, sessions SessionSource) (pipeline.Registry, error) {
	reg := pipeline.Registry{}

	err := reg.Register(SleepStageID, func() (pipeline.Stage, error) {
		return NewSleepStage(s, &cfg.Sleep, cfg.Pipeline.ResourcesDir), nil
	})
	if err != nil {
		return nil, err
	}

	err = reg.Register(AFKStatsStageID, func() (pipeline.Stage, error) {
		return NewAFKStatsStage(s, sessions, cfg.Pipeline.ResourcesDir), nil
	})
	if err != nil {
		return nil, err
	}

	err = reg.Register(ChatActivityStageID, func() (pipeline.Stage, error) {
		return NewChatActivityStage(s, cfg.Pipeline.ResourcesDir), nil
	})
	if err != nil {
		return nil, err
	}

	return reg, nil
}
