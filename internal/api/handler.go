package api

import (
	"context"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"presence-tracker-backend/config"
	"presence-tracker-backend/internal/monitor"
	"presence-tracker-backend/internal/pipeline"
	"presence-tracker-backend/internal/store"
)

// PresenceSource exposes the monitor's live readings to the API without
// coupling handlers to the monitor's lifecycle.
type PresenceSource interface {
	Snapshot() monitor.Snapshot
	CurrentSession() (start time.Time, active bool)
}

// PipelineRunner is the slice of the pipeline runner the API needs.
type PipelineRunner interface {
	State(ctx context.Context) (*pipeline.State, error)
	RunStage(ctx context.Context, id string, now time.Time) error
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store    store.Store
	presence PresenceSource
	pipeline PipelineRunner
	cfg      *config.Config
	webpush  *webpush.Options
}

// NewHandler creates a new API handler. presence and pipeline may be nil when
// the corresponding subsystem is disabled; affected routes then return 503.
func NewHandler(s store.Store, presence PresenceSource, runner PipelineRunner, cfg *config.Config, webpushOptions *webpush.Options) *Handler {
	return &Handler{
		store:    s,
		presence: presence,
		pipeline: runner,
		cfg:      cfg,
		webpush:  webpushOptions,
	}
}
