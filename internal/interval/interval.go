package interval

import (
	"sort"
	"time"
)

// Span is a half-open time interval [Start, End).
type Span struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns the length of the span.
func (s Span) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// Minutes returns the length of the span in minutes.
func (s Span) Minutes() float64 {
	return s.Duration().Minutes()
}

// Overlaps reports whether two half-open spans share any instant.
func (s Span) Overlaps(other Span) bool {
	return s.Start.Before(other.End) && other.Start.Before(s.End)
}

// Clip returns the span limited to [winStart, winEnd). The second return is
// false when the span does not overlap the window at all.
func (s Span) Clip(winStart, winEnd time.Time) (Span, bool) {
	start := s.Start
	if start.Before(winStart) {
		start = winStart
	}
	end := s.End
	if end.After(winEnd) {
		end = winEnd
	}
	if !start.Before(end) {
		return Span{}, false
	}
	return Span{Start: start, End: end}, true
}

// Gaps returns the complement of the given spans within [winStart, winEnd):
// the stretches of the window not covered by any span. Spans are expected to
// be sorted by start time; they are not merged first, zero-width gaps between
// adjacent spans are simply skipped. An empty input yields the whole window
// as a single gap.
func Gaps(spans []Span, winStart, winEnd time.Time) []Span {
	if !winStart.Before(winEnd) {
		return nil
	}

	var gaps []Span
	cursor := winStart
	for _, s := range spans {
		clipped, ok := s.Clip(winStart, winEnd)
		if !ok {
			continue
		}
		if clipped.Start.After(cursor) {
			gaps = append(gaps, Span{Start: cursor, End: clipped.Start})
		}
		if clipped.End.After(cursor) {
			cursor = clipped.End
		}
	}
	if cursor.Before(winEnd) {
		gaps = append(gaps, Span{Start: cursor, End: winEnd})
	}
	return gaps
}

// Merge coalesces sorted spans whose separating gap is at most maxGap.
// Overlapping spans are always merged.
func Merge(spans []Span, maxGap time.Duration) []Span {
	if len(spans) == 0 {
		return nil
	}
	sorted := make([]Span, len(spans))
	copy(sorted, spans)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	merged := []Span{sorted[0]}
	for _, s := range sorted[1:] {
		last := &merged[len(merged)-1]
		if !s.Start.After(last.End.Add(maxGap)) {
			if s.End.After(last.End) {
				last.End = s.End
			}
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

// SleepSummary is the outcome of reconciling inferred and user-reported
// sleep evidence into a final timeline.
type SleepSummary struct {
	Periods             []Span  `json:"periods"`
	TotalSleepMinutes   float64 `json:"total_sleep_minutes"`
	PrimarySleepMinutes float64 `json:"primary_sleep_minutes"`
	WakeMinutes         float64 `json:"wake_minutes"`
	Fragmented          bool    `json:"fragmented"`
}

// ReconcileSleep combines AFK-inferred sleep candidates with user-reported
// sleep spans. Any inferred span that overlaps a user-reported span at all is
// dropped entirely: user assertions are authoritative and conflicting
// inferred evidence is considered unreliable, so no partial retention is
// attempted. Survivors plus the user spans are then merged when the gap
// between them is at most mergeGap.
func ReconcileSleep(inferred, userReported []Span, mergeGap time.Duration) SleepSummary {
	var kept []Span
	for _, inf := range inferred {
		conflict := false
		for _, usr := range userReported {
			if inf.Overlaps(usr) {
				conflict = true
				break
			}
		}
		if !conflict {
			kept = append(kept, inf)
		}
	}
	kept = append(kept, userReported...)

	periods := Merge(kept, mergeGap)

	var summary SleepSummary
	summary.Periods = periods
	for _, p := range periods {
		m := p.Minutes()
		summary.TotalSleepMinutes += m
		if m > summary.PrimarySleepMinutes {
			summary.PrimarySleepMinutes = m
		}
	}
	if len(periods) > 1 {
		summary.Fragmented = true
		// Wake time is measured inside the sleep envelope: the gaps between
		// surviving periods.
		envelope := Span{Start: periods[0].Start, End: periods[len(periods)-1].End}
		for _, g := range Gaps(periods, envelope.Start, envelope.End) {
			summary.WakeMinutes += g.Minutes()
		}
	}
	return summary
}
