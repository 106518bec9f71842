package pipeline

import (
	"time"
)

// StageRun is the bookkeeping kept for one stage's most recent execution.
type StageRun struct {
	LastRunUTC time.Time      `json:"last_run_utc"`
	LastReason string         `json:"last_reason,omitempty"`
	LastError  string         `json:"last_error,omitempty"`
	Debug      map[string]any `json:"debug,omitempty"`
}

// State is the scheduler's persisted cross-tick state. It is deliberately
// small and flat: stage deltas are shallow-merged into Values, never nested.
type State struct {
	BoundaryDateLocal      string     `json:"boundary_date_local,omitempty"`
	LastDailyResetUTC      *time.Time `json:"last_daily_reset_utc,omitempty"`
	LastDailyResetBoundary string     `json:"last_daily_reset_boundary,omitempty"`

	DayStarted      bool       `json:"day_started"`
	DayStartTimeUTC *time.Time `json:"day_start_time_utc,omitempty"`
	WakeTimeToday   *time.Time `json:"wake_time_today,omitempty"`

	// Cursors are named watermarks, e.g. the chat-read cursor.
	Cursors map[string]time.Time `json:"cursors,omitempty"`

	StageRuns map[string]StageRun `json:"stage_runs,omitempty"`

	// Signals are ephemeral stage-set flags, cleared on every boundary
	// crossing.
	Signals map[string]string `json:"signals,omitempty"`

	// Values holds stage state deltas, shallow-merged key by key.
	Values map[string]any `json:"values,omitempty"`
}

// NewState returns an empty state with all maps allocated.
func NewState() *State {
	return &State{
		Cursors:   make(map[string]time.Time),
		StageRuns: make(map[string]StageRun),
		Signals:   make(map[string]string),
		Values:    make(map[string]any),
	}
}

// normalize allocates any maps a decoded blob left nil.
func (s *State) normalize() {
	if s.Cursors == nil {
		s.Cursors = make(map[string]time.Time)
	}
	if s.StageRuns == nil {
		s.StageRuns = make(map[string]StageRun)
	}
	if s.Signals == nil {
		s.Signals = make(map[string]string)
	}
	if s.Values == nil {
		s.Values = make(map[string]any)
	}
}

// Clone returns a copy safe to hand to readers while the scheduler keeps
// mutating the original.
func (s *State) Clone() *State {
	c := *s
	c.Cursors = make(map[string]time.Time, len(s.Cursors))
	for k, v := range s.Cursors {
		c.Cursors[k] = v
	}
	c.StageRuns = make(map[string]StageRun, len(s.StageRuns))
	for k, v := range s.StageRuns {
		c.StageRuns[k] = v
	}
	c.Signals = make(map[string]string, len(s.Signals))
	for k, v := range s.Signals {
		c.Signals[k] = v
	}
	c.Values = make(map[string]any, len(s.Values))
	for k, v := range s.Values {
		c.Values[k] = v
	}
	return &c
}

// BoundaryDate maps an instant to its logical day: the local date after
// shifting back by the boundary hour. With boundaryHour=5, 04:59 local still
// belongs to yesterday's boundary date and 05:00 starts today's.
func BoundaryDate(now time.Time, loc *time.Location, boundaryHour int) string {
	return now.In(loc).Add(-time.Duration(boundaryHour) * time.Hour).Format("2006-01-02")
}

// BoundaryInstant returns the most recent boundary-hour crossing at or
// before now.
func BoundaryInstant(now time.Time, loc *time.Location, boundaryHour int) time.Time {
	local := now.In(loc)
	year, month, day := local.Date()
	boundary := time.Date(year, month, day, boundaryHour, 0, 0, 0, loc)
	if boundary.After(local) {
		boundary = boundary.AddDate(0, 0, -1)
	}
	return boundary
}
