package stats

import (
	"context"
	"time"

	"presence-tracker-backend/internal/interval"
	"presence-tracker-backend/internal/store"
)

// Stats aggregates presence over a window. Active time is positive evidence:
// a stretch with no recorded segment is unknown and counted as not-active,
// never the other way around.
type Stats struct {
	Since                    time.Time `json:"since"`
	Until                    time.Time `json:"until"`
	TotalActiveMinutes       float64   `json:"total_active_minutes"`
	TotalAFKMinutes          float64   `json:"total_afk_minutes"`
	AFKCount                 int       `json:"afk_count"`
	ActiveWorkSessionMinutes float64   `json:"active_work_session_minutes"`
	CurrentAFKMinutes        float64   `json:"current_afk_minutes"`
}

// Compute aggregates closed segments over [since, now), adding the live
// session when one is open. The AFK window is clipped to the live session's
// start: the user cannot be AFK during their own open session.
func Compute(ctx context.Context, s store.Store, since, now time.Time, currentActiveStart *time.Time, isActive bool) (Stats, error) {
	since = since.UTC()
	now = now.UTC()

	result := Stats{Since: since, Until: now}
	if !since.Before(now) {
		return result, nil
	}

	segments, err := s.SegmentsOverlapping(ctx, since, now, false)
	if err != nil {
		return Stats{}, err
	}

	spans := make([]interval.Span, 0, len(segments))
	for _, seg := range segments {
		if clipped, ok := (interval.Span{Start: seg.StartTime, End: seg.EndTime}).Clip(since, now); ok {
			spans = append(spans, clipped)
			result.TotalActiveMinutes += clipped.Minutes()
		}
	}

	afkWindowEnd := now
	if isActive && currentActiveStart != nil {
		start := currentActiveStart.UTC()
		if start.Before(since) {
			start = since
		}
		// Live session contributes active time from its (clipped) start.
		live := now.Sub(start).Minutes()
		result.TotalActiveMinutes += live
		result.ActiveWorkSessionMinutes = now.Sub(currentActiveStart.UTC()).Minutes()
		afkWindowEnd = start
	}

	for _, gap := range interval.Gaps(spans, since, afkWindowEnd) {
		result.TotalAFKMinutes += gap.Minutes()
		result.AFKCount++
	}

	if !isActive {
		last, err := s.LastFinalizedSegment(ctx)
		if err != nil {
			return Stats{}, err
		}
		if last != nil && last.EndTime.Before(now) {
			result.CurrentAFKMinutes = now.Sub(last.EndTime).Minutes()
		}
	}

	return result, nil
}
