package sleepcalc

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"presence-tracker-backend/config"
	"presence-tracker-backend/internal/interval"
	"presence-tracker-backend/internal/model"
	"presence-tracker-backend/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})
	require.NoError(t, db.AutoMigrate(&model.ActiveSegment{}))
	return store.NewGormStore(db)
}

func addClosedSegment(t *testing.T, s store.Store, start, end time.Time) {
	t.Helper()
	ctx := context.Background()
	seg, err := s.CreateProvisionalSegment(ctx, start, start)
	require.NoError(t, err)
	require.NoError(t, s.FinalizeProvisionalSegment(ctx, seg.ID, end))
}

func testSleepConfig() *config.SleepConfig {
	return &config.SleepConfig{
		WindowStartHour:       21,
		WindowEndHour:         9,
		WakeDividerHour:       5,
		WakeDividerMinute:     30,
		MinSleepMinutes:       30,
		MergeGapMinutes:       30,
		DefaultSleepStartHour: 23,
		DefaultSleepEndHour:   7,
	}
}

func TestCompute_InfersSleepFromGaps(t *testing.T) {
	s := newTestStore(t)
	// "Today" is 2024-03-02; the night window is 2024-03-01 21:00 -> 09:00.
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	// Evening work until 23:15, then nothing until 07:30 the next morning.
	addClosedSegment(t, s, day.Add(20*time.Hour), day.Add(23*time.Hour+15*time.Minute))
	addClosedSegment(t, s, day.Add(31*time.Hour+30*time.Minute), day.Add(33*time.Hour)) // 07:30-09:00

	now := day.Add(34 * time.Hour) // 10:00 next day
	result, err := Compute(context.Background(), s, testSleepConfig(), now, nil, time.UTC)
	require.NoError(t, err)

	require.Len(t, result.Periods, 1)
	assert.Equal(t, day.Add(23*time.Hour+15*time.Minute), result.Periods[0].Start)
	assert.Equal(t, day.Add(31*time.Hour+30*time.Minute), result.Periods[0].End)
	assert.InDelta(t, 495.0, result.TotalSleepMinutes, 0.01)
	assert.False(t, result.Fragmented)
	assert.False(t, result.UsedFallback)

	require.NotNil(t, result.WakeTime)
	assert.Equal(t, day.Add(31*time.Hour+30*time.Minute), *result.WakeTime)
	require.NotNil(t, result.ActivityWakeTime)
	assert.Equal(t, day.Add(31*time.Hour+30*time.Minute), *result.ActivityWakeTime)
}

func TestCompute_BriefBlipsAreNotSleep(t *testing.T) {
	s := newTestStore(t)
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	// A 10-minute midnight check splits the night; both halves qualify, the
	// 10 minute active blip separates them, and a 5-minute idle gap earlier
	// in the evening is below the floor.
	addClosedSegment(t, s, day.Add(21*time.Hour), day.Add(22*time.Hour))
	addClosedSegment(t, s, day.Add(22*time.Hour+5*time.Minute), day.Add(23*time.Hour))
	addClosedSegment(t, s, day.Add(26*time.Hour), day.Add(26*time.Hour+10*time.Minute)) // 02:00-02:10
	addClosedSegment(t, s, day.Add(32*time.Hour), day.Add(33*time.Hour))                // 08:00-09:00

	now := day.Add(34 * time.Hour)
	result, err := Compute(context.Background(), s, testSleepConfig(), now, nil, time.UTC)
	require.NoError(t, err)

	// 23:00-02:00 and 02:10-08:00. The 10-minute wake gap is below the
	// 30-minute merge threshold, so the two merge into one period.
	require.Len(t, result.Periods, 1)
	assert.Equal(t, day.Add(23*time.Hour), result.Periods[0].Start)
	assert.Equal(t, day.Add(32*time.Hour), result.Periods[0].End)
	assert.False(t, result.Fragmented)
}

func TestCompute_FallbackWhenNoSignal(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)

	result, err := Compute(context.Background(), s, testSleepConfig(), now, nil, time.UTC)
	require.NoError(t, err)

	assert.True(t, result.UsedFallback)
	require.Len(t, result.Periods, 1)
	assert.Equal(t, time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC), result.Periods[0].Start)
	assert.Equal(t, time.Date(2024, 3, 2, 7, 0, 0, 0, time.UTC), result.Periods[0].End)
	assert.Equal(t, 480.0, result.TotalSleepMinutes)
	assert.Nil(t, result.ActivityWakeTime)
}

func TestCompute_UserReportOverridesInference(t *testing.T) {
	s := newTestStore(t)
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	addClosedSegment(t, s, day.Add(21*time.Hour), day.Add(23*time.Hour))
	addClosedSegment(t, s, day.Add(32*time.Hour), day.Add(33*time.Hour))

	// Inferred candidate would be 23:00-08:00; the user says they slept
	// 00:00-06:00, which overlaps and therefore wins outright.
	userReported := []interval.Span{{
		Start: day.Add(24 * time.Hour),
		End:   day.Add(30 * time.Hour),
	}}

	now := day.Add(34 * time.Hour)
	result, err := Compute(context.Background(), s, testSleepConfig(), now, userReported, time.UTC)
	require.NoError(t, err)

	require.Len(t, result.Periods, 1)
	assert.Equal(t, day.Add(24*time.Hour), result.Periods[0].Start)
	assert.Equal(t, day.Add(30*time.Hour), result.Periods[0].End)
	assert.Equal(t, 360.0, result.TotalSleepMinutes)
}

func TestCompute_ActivityBeforeDividerDoesNotEndNight(t *testing.T) {
	s := newTestStore(t)
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	// A 03:00-04:00 session is before the 05:30 divider: it splits the night
	// but does not mark the wake-up.
	addClosedSegment(t, s, day.Add(21*time.Hour), day.Add(23*time.Hour))
	addClosedSegment(t, s, day.Add(27*time.Hour), day.Add(28*time.Hour)) // 03:00-04:00
	addClosedSegment(t, s, day.Add(31*time.Hour), day.Add(32*time.Hour)) // 07:00-08:00

	now := day.Add(34 * time.Hour)
	result, err := Compute(context.Background(), s, testSleepConfig(), now, nil, time.UTC)
	require.NoError(t, err)

	require.NotNil(t, result.ActivityWakeTime)
	assert.Equal(t, day.Add(31*time.Hour), *result.ActivityWakeTime)

	// Sleep: 23:00-03:00 and 04:00-07:00, more than the merge gap apart.
	require.Len(t, result.Periods, 2)
	assert.True(t, result.Fragmented)
	assert.Equal(t, 420.0, result.TotalSleepMinutes)
	assert.Equal(t, 240.0, result.PrimarySleepMinutes)
	assert.Equal(t, 60.0, result.WakeMinutes)

	require.NotNil(t, result.WakeTime)
	assert.Equal(t, day.Add(31*time.Hour), *result.WakeTime)
}
