package stats

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

func TestCompute_ClosedSegmentsOnly(t *testing.T) {
	s := newTestStore(t)
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	// Active [09:00,09:30) and [09:45,11:00) over window [09:00,11:00).
	addClosedSegment(t, s, day.Add(9*time.Hour), day.Add(9*time.Hour+30*time.Minute))
	addClosedSegment(t, s, day.Add(9*time.Hour+45*time.Minute), day.Add(11*time.Hour))

	result, err := Compute(context.Background(), s, day.Add(9*time.Hour), day.Add(11*time.Hour), nil, false)
	require.NoError(t, err)

	assert.Equal(t, 105.0, result.TotalActiveMinutes)
	assert.Equal(t, 15.0, result.TotalAFKMinutes)
	assert.Equal(t, 1, result.AFKCount)
	assert.Equal(t, 0.0, result.ActiveWorkSessionMinutes)
	// Last closed segment ended exactly at the window end.
	assert.Equal(t, 0.0, result.CurrentAFKMinutes)
}

func TestCompute_NoDataMeansAllAFK(t *testing.T) {
	s := newTestStore(t)
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	result, err := Compute(context.Background(), s, day.Add(9*time.Hour), day.Add(11*time.Hour), nil, false)
	require.NoError(t, err)

	// Absence of evidence is not-active.
	assert.Equal(t, 0.0, result.TotalActiveMinutes)
	assert.Equal(t, 120.0, result.TotalAFKMinutes)
	assert.Equal(t, 1, result.AFKCount)
}

func TestCompute_LiveSessionClipsAFKWindow(t *testing.T) {
	s := newTestStore(t)
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	addClosedSegment(t, s, day.Add(9*time.Hour), day.Add(10*time.Hour))

	since := day.Add(9 * time.Hour)
	now := day.Add(12 * time.Hour)
	liveStart := day.Add(11 * time.Hour)

	result, err := Compute(context.Background(), s, since, now, &liveStart, true)
	require.NoError(t, err)

	// 60 closed + 60 live.
	assert.Equal(t, 120.0, result.TotalActiveMinutes)
	// AFK is only [10:00, 11:00): the open session is not AFK time.
	assert.Equal(t, 60.0, result.TotalAFKMinutes)
	assert.Equal(t, 1, result.AFKCount)
	assert.Equal(t, 60.0, result.ActiveWorkSessionMinutes)
	assert.Equal(t, 0.0, result.CurrentAFKMinutes, "no current AFK while active")
}

func TestCompute_LiveSessionStartedBeforeWindow(t *testing.T) {
	s := newTestStore(t)
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	since := day.Add(9 * time.Hour)
	now := day.Add(10 * time.Hour)
	liveStart := day.Add(8 * time.Hour)

	result, err := Compute(context.Background(), s, since, now, &liveStart, true)
	require.NoError(t, err)

	// Only the hour inside the window counts toward the windowed total, but
	// the session length itself is unclipped.
	assert.Equal(t, 60.0, result.TotalActiveMinutes)
	assert.Equal(t, 120.0, result.ActiveWorkSessionMinutes)
	assert.Equal(t, 0.0, result.TotalAFKMinutes)
	assert.Equal(t, 0, result.AFKCount)
}

func TestCompute_CurrentAFKMinutes(t *testing.T) {
	s := newTestStore(t)
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	addClosedSegment(t, s, day.Add(9*time.Hour), day.Add(10*time.Hour))

	result, err := Compute(context.Background(), s, day.Add(9*time.Hour), day.Add(10*time.Hour+45*time.Minute), nil, false)
	require.NoError(t, err)

	assert.Equal(t, 45.0, result.CurrentAFKMinutes)
	assert.Equal(t, 60.0, result.TotalActiveMinutes)
	assert.Equal(t, 45.0, result.TotalAFKMinutes)
}
