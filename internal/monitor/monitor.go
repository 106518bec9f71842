package monitor

import (
	"context"
	"log"
	"sync"
	"time"

	"presence-tracker-backend/config"
	"presence-tracker-backend/internal/idle"
	"presence-tracker-backend/internal/store"
)

// State is the presence state machine's current position.
type State string

const (
	StateUnknown State = "unknown"
	StateActive  State = "active"
	StateAFK     State = "afk"
)

// Snapshot is the latest known presence reading. It is republished on every
// poll; consumers get a copy and must tolerate overwrite.
type Snapshot struct {
	State                  State      `json:"state"`
	IdleSeconds            float64    `json:"idle_seconds"`
	IdleMinutes            float64    `json:"idle_minutes"`
	IsPotentiallyAFK       bool       `json:"is_potentially_afk"`
	IsAFK                  bool       `json:"is_afk"`
	LastChecked            time.Time  `json:"last_checked"`
	ActiveStart            *time.Time `json:"active_start,omitempty"`
	LastAFKStart           *time.Time `json:"last_afk_start,omitempty"`
	LastAFKDurationMinutes *float64   `json:"last_afk_duration_minutes,omitempty"`
	SensorError            bool       `json:"sensor_error,omitempty"`
}

// TransitionEvent is published on confirmed presence transitions only.
type TransitionEvent struct {
	IsAFK        bool     `json:"is_afk"`
	JustWentAFK  bool     `json:"just_went_afk"`
	JustReturned bool     `json:"just_returned"`
	Snapshot     Snapshot `json:"snapshot"`
}

// TransitionSink receives transition events. Dispatch must not block for
// long; sinks fan work out to their own goroutines.
type TransitionSink interface {
	Dispatch(ev TransitionEvent)
}

// Monitor samples OS idle time on a fixed interval, maintains the single
// provisional active segment, and publishes presence snapshots. All mutable
// state except the snapshot slot is private to the polling goroutine.
type Monitor struct {
	cfg     *config.MonitorConfig
	store   store.Store
	sampler idle.Sampler
	sinks   []TransitionSink

	nowFunc func() time.Time

	mu       sync.Mutex
	snapshot Snapshot

	state        State
	bootstrapped bool

	// Provisional segment bookkeeping; zero segmentID means none open.
	segmentID    int64
	segmentStart time.Time
	lastExtend   time.Time

	lastAFKStart    *time.Time
	lastAFKDuration *float64
}

// New creates a monitor. Sinks receive afk_state_changed events on confirmed
// transitions.
func New(cfg *config.MonitorConfig, s store.Store, sampler idle.Sampler, sinks ...TransitionSink) *Monitor {
	return &Monitor{
		cfg:     cfg,
		store:   s,
		sampler: sampler,
		sinks:   sinks,
		nowFunc: time.Now,
		state:   StateUnknown,
	}
}

// Run polls until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	if !m.cfg.Enabled {
		log.Println("Presence monitor is disabled. Not starting.")
		return
	}
	log.Println("Starting presence monitor...")

	m.PollOnce(ctx)

	timer := time.NewTimer(m.cfg.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Presence monitor shutting down.")
			return
		case <-timer.C:
			m.PollOnce(ctx)
			timer.Reset(m.cfg.PollInterval)
		}
	}
}

// PollOnce performs a single poll tick. Errors from the sampler or the store
// never stop the loop: a failed idle read is treated as confirmed AFK and
// failed segment writes are retried naturally on the next tick.
func (m *Monitor) PollOnce(ctx context.Context) {
	now := m.nowFunc().UTC()

	idleDur, err := m.sampler.Sample(ctx)
	sensorFailed := err != nil
	if sensorFailed {
		// Fail safe toward not over-counting activity.
		log.Printf("Error reading idle time, assuming confirmed AFK: %v", err)
		idleDur = time.Duration(m.cfg.ConfirmedAFKMinutes * float64(time.Minute))
	}

	idleMinutes := idleDur.Minutes()
	detectedAFK := idleMinutes >= m.cfg.ConfirmedAFKMinutes
	potentiallyAFK := idleMinutes >= m.cfg.PotentialAFKMinutes

	if !m.bootstrapped {
		m.bootstrap(ctx, now, detectedAFK)
		m.bootstrapped = true
		if detectedAFK {
			m.state = StateAFK
		} else {
			m.state = StateActive
		}
		m.publish(now, idleDur, potentiallyAFK, detectedAFK, sensorFailed)
		return
	}

	var justWentAFK, justReturned bool

	switch {
	case m.state == StateActive && detectedAFK:
		// The user actually left when input stopped, not when we noticed.
		afkStart := now.Add(-idleDur)
		if m.segmentID != 0 {
			if err := m.store.FinalizeProvisionalSegment(ctx, m.segmentID, afkStart); err != nil {
				log.Printf("Error finalizing segment %d: %v", m.segmentID, err)
			}
		}
		m.clearSegment()
		m.lastAFKStart = &afkStart
		m.lastAFKDuration = nil
		m.state = StateAFK
		justWentAFK = true

	case m.state == StateAFK && !detectedAFK:
		m.openSegment(ctx, now)
		if m.lastAFKStart != nil {
			d := now.Sub(*m.lastAFKStart).Minutes()
			m.lastAFKDuration = &d
		}
		m.state = StateActive
		justReturned = true

	case m.state == StateActive:
		if m.segmentID == 0 {
			// A previous create failed; retry while still active.
			m.openSegment(ctx, now)
		} else {
			m.maybeExtendSegment(ctx, now)
		}
	}

	m.publish(now, idleDur, potentiallyAFK, detectedAFK, sensorFailed)

	if justWentAFK || justReturned {
		ev := TransitionEvent{
			IsAFK:        detectedAFK,
			JustWentAFK:  justWentAFK,
			JustReturned: justReturned,
			Snapshot:     m.Snapshot(),
		}
		for _, sink := range m.sinks {
			sink.Dispatch(ev)
		}
	}
}

// bootstrap recovers an orphaned provisional segment left by an ungraceful
// shutdown. A fresh segment is resumed when detection says active, closed at
// now when detection says AFK, and closed at its last persisted end time when
// older than the recovery window.
func (m *Monitor) bootstrap(ctx context.Context, now time.Time, detectedAFK bool) {
	seg, err := m.store.OpenProvisionalSegment(ctx)
	if err != nil {
		log.Printf("Error querying provisional segment at startup: %v", err)
		seg = nil
	}

	if seg != nil {
		maxAge := time.Duration(m.cfg.RecoverMaxAgeMinutes) * time.Minute
		age := now.Sub(seg.EndTime)
		switch {
		case age <= maxAge && !detectedAFK:
			// Resume the interrupted session; its original start is kept.
			if err := m.store.ExtendProvisionalSegment(ctx, seg.ID, now); err != nil {
				log.Printf("Error resuming segment %d: %v", seg.ID, err)
			}
			m.segmentID = seg.ID
			m.segmentStart = seg.StartTime
			m.lastExtend = now
			log.Printf("Recovered provisional segment %d (started %s)", seg.ID, seg.StartTime.Format(time.RFC3339))
			return
		case age <= maxAge:
			// The true end is unknown; closing at now at most overstates by
			// the poll interval that just passed.
			if err := m.store.FinalizeProvisionalSegment(ctx, seg.ID, now); err != nil {
				log.Printf("Error closing recovered segment %d: %v", seg.ID, err)
			}
		default:
			// Too stale to trust anything beyond what was persisted.
			if err := m.store.FinalizeProvisionalSegment(ctx, seg.ID, seg.EndTime); err != nil {
				log.Printf("Error closing stale segment %d: %v", seg.ID, err)
			}
		}
	}

	if !detectedAFK {
		m.openSegment(ctx, now)
	}
}

func (m *Monitor) openSegment(ctx context.Context, now time.Time) {
	seg, err := m.store.CreateProvisionalSegment(ctx, now, now)
	if err != nil {
		log.Printf("Error opening provisional segment: %v", err)
		return
	}
	m.segmentID = seg.ID
	m.segmentStart = seg.StartTime
	m.lastExtend = now
}

// maybeExtendSegment advances the provisional end time, but only when the
// update interval has elapsed. This bounds both write volume and the data
// lost to a crash.
func (m *Monitor) maybeExtendSegment(ctx context.Context, now time.Time) {
	interval := time.Duration(m.cfg.SegmentUpdateIntervalMinutes) * time.Minute
	if now.Sub(m.lastExtend) < interval {
		return
	}
	if err := m.store.ExtendProvisionalSegment(ctx, m.segmentID, now); err != nil {
		log.Printf("Error extending segment %d: %v", m.segmentID, err)
		return
	}
	m.lastExtend = now
}

func (m *Monitor) clearSegment() {
	m.segmentID = 0
	m.segmentStart = time.Time{}
	m.lastExtend = time.Time{}
}

func (m *Monitor) publish(now time.Time, idleDur time.Duration, potential, afk, sensorFailed bool) {
	snap := Snapshot{
		State:            m.state,
		IdleSeconds:      idleDur.Seconds(),
		IdleMinutes:      idleDur.Minutes(),
		IsPotentiallyAFK: potential,
		IsAFK:            afk,
		LastChecked:      now,
		SensorError:      sensorFailed,
		LastAFKStart:     m.lastAFKStart,
		LastAFKDurationMinutes: m.lastAFKDuration,
	}
	if m.segmentID != 0 {
		start := m.segmentStart
		snap.ActiveStart = &start
	}

	m.mu.Lock()
	m.snapshot = snap
	m.mu.Unlock()
}

// Snapshot returns a copy of the latest presence reading.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot
}

// CurrentSession returns the start of the open work session, if one exists.
func (m *Monitor) CurrentSession() (start time.Time, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snapshot.ActiveStart == nil {
		return time.Time{}, false
	}
	return *m.snapshot.ActiveStart, true
}
