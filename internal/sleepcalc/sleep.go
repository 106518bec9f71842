package sleepcalc

import (
	"context"
	"fmt"
	"time"

	"presence-tracker-backend/config"
	"presence-tracker-backend/internal/interval"
	"presence-tracker-backend/internal/store"
)

// Result is the outcome of one night's sleep inference.
type Result struct {
	Window              interval.Span   `json:"window"`
	Periods             []interval.Span `json:"periods"`
	TotalSleepMinutes   float64         `json:"total_sleep_minutes"`
	PrimarySleepMinutes float64         `json:"primary_sleep_minutes"`
	WakeMinutes         float64         `json:"wake_minutes"`
	Fragmented          bool            `json:"fragmented"`
	UsedFallback        bool            `json:"used_fallback"`

	// WakeTime is the reconciled sleep envelope's latest endpoint.
	// ActivityWakeTime is the first detected activity after the divider; the
	// two may disagree, and ActivityWakeTime is authoritative for day-start
	// decisions.
	WakeTime         *time.Time `json:"wake_time,omitempty"`
	ActivityWakeTime *time.Time `json:"activity_wake_time,omitempty"`
}

// Compute infers last night's sleep from AFK gaps in the configured night
// window, reconciled against any user-reported sleep spans. The window runs
// from yesterday's window_start_hour to today's window_end_hour, both in the
// configured timezone; "today" is now's local date.
func Compute(ctx context.Context, s store.Store, cfg *config.SleepConfig, now time.Time, userReported []interval.Span, loc *time.Location) (Result, error) {
	nowLocal := now.In(loc)
	year, month, day := nowLocal.Date()
	today := time.Date(year, month, day, 0, 0, 0, 0, loc)

	windowStart := today.AddDate(0, 0, -1).Add(time.Duration(cfg.WindowStartHour) * time.Hour)
	windowEnd := today.Add(time.Duration(cfg.WindowEndHour) * time.Hour)
	divider := today.Add(time.Duration(cfg.WakeDividerHour)*time.Hour + time.Duration(cfg.WakeDividerMinute)*time.Minute)

	result := Result{Window: interval.Span{Start: windowStart.UTC(), End: windowEnd.UTC()}}

	// The live provisional segment counts as activity evidence: a session in
	// progress this morning is exactly what ends the night.
	segments, err := s.SegmentsOverlapping(ctx, windowStart.UTC(), windowEnd.UTC(), true)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load segments for sleep window: %w", err)
	}

	if len(segments) == 0 && len(userReported) == 0 {
		// Sensor silence (machine off, tracker down) must not read as zero
		// sleep; assume the configured normal night.
		fallback := interval.Span{
			Start: today.AddDate(0, 0, -1).Add(time.Duration(cfg.DefaultSleepStartHour) * time.Hour).UTC(),
			End:   today.Add(time.Duration(cfg.DefaultSleepEndHour) * time.Hour).UTC(),
		}
		summary := interval.ReconcileSleep([]interval.Span{fallback}, nil, time.Duration(cfg.MergeGapMinutes)*time.Minute)
		fillFromSummary(&result, summary)
		result.UsedFallback = true
		return result, nil
	}

	spans := make([]interval.Span, 0, len(segments))
	for _, seg := range segments {
		spans = append(spans, interval.Span{Start: seg.StartTime, End: seg.EndTime})
	}

	// First activity after the ambiguous-wake divider ends the inference
	// window: everything past it is the day, not the night.
	dividerUTC := divider.UTC()
	for _, span := range spans {
		if span.End.After(dividerUTC) {
			wake := span.Start
			if wake.Before(dividerUTC) {
				wake = dividerUTC
			}
			result.ActivityWakeTime = &wake
			break
		}
	}

	inferEnd := windowEnd.UTC()
	if now.UTC().Before(inferEnd) {
		inferEnd = now.UTC()
	}
	if result.ActivityWakeTime != nil && result.ActivityWakeTime.Before(inferEnd) {
		inferEnd = *result.ActivityWakeTime
	}

	minSleep := time.Duration(cfg.MinSleepMinutes) * time.Minute
	var candidates []interval.Span
	for _, gap := range interval.Gaps(spans, windowStart.UTC(), inferEnd) {
		if gap.Duration() >= minSleep {
			candidates = append(candidates, gap)
		}
	}

	summary := interval.ReconcileSleep(candidates, userReported, time.Duration(cfg.MergeGapMinutes)*time.Minute)
	fillFromSummary(&result, summary)
	return result, nil
}

func fillFromSummary(result *Result, summary interval.SleepSummary) {
	result.Periods = summary.Periods
	result.TotalSleepMinutes = summary.TotalSleepMinutes
	result.PrimarySleepMinutes = summary.PrimarySleepMinutes
	result.WakeMinutes = summary.WakeMinutes
	result.Fragmented = summary.Fragmented
	if n := len(summary.Periods); n > 0 {
		wake := summary.Periods[n-1].End
		result.WakeTime = &wake
	}
}
