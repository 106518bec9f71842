package store

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"presence-tracker-backend/internal/model"
)

// newTestStore opens an isolated in-memory SQLite database and migrates the
// presence tables.
func newTestStore(t *testing.T) Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})

	require.NoError(t, db.AutoMigrate(
		&model.ActiveSegment{},
		&model.ChatMessage{},
		&model.PipelineStateRecord{},
	))
	return NewGormStore(db)
}

func TestSegmentLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	seg, err := s.CreateProvisionalSegment(ctx, start, start)
	require.NoError(t, err)
	require.NotZero(t, seg.ID)
	assert.True(t, seg.IsProvisional)

	// Extend keeps the segment open and recomputes duration.
	err = s.ExtendProvisionalSegment(ctx, seg.ID, start.Add(10*time.Minute))
	require.NoError(t, err)

	open, err := s.OpenProvisionalSegment(ctx)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, seg.ID, open.ID)
	assert.Equal(t, 10.0, open.DurationMinutes)

	// Finalize closes it for good.
	err = s.FinalizeProvisionalSegment(ctx, seg.ID, start.Add(25*time.Minute))
	require.NoError(t, err)

	open, err = s.OpenProvisionalSegment(ctx)
	require.NoError(t, err)
	assert.Nil(t, open)

	last, err := s.LastFinalizedSegment(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, seg.ID, last.ID)
	assert.False(t, last.IsProvisional)
	assert.Equal(t, 25.0, last.DurationMinutes)

	// A closed segment can no longer be extended or finalized.
	err = s.ExtendProvisionalSegment(ctx, seg.ID, start.Add(time.Hour))
	assert.ErrorIs(t, err, ErrNoProvisionalSegment)
	err = s.FinalizeProvisionalSegment(ctx, seg.ID, start.Add(time.Hour))
	assert.ErrorIs(t, err, ErrNoProvisionalSegment)
}

func TestSegmentEndNeverBeforeStart(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	seg, err := s.CreateProvisionalSegment(ctx, start, start)
	require.NoError(t, err)

	// An end time before the start is clamped to the start.
	require.NoError(t, s.FinalizeProvisionalSegment(ctx, seg.ID, start.Add(-5*time.Minute)))

	last, err := s.LastFinalizedSegment(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, last.StartTime, last.EndTime)
	assert.Equal(t, 0.0, last.DurationMinutes)
}

func TestSegmentsOverlapping(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	mk := func(startHour, endHour int, provisional bool) {
		seg, err := s.CreateProvisionalSegment(ctx, day.Add(time.Duration(startHour)*time.Hour), day.Add(time.Duration(startHour)*time.Hour))
		require.NoError(t, err)
		if provisional {
			require.NoError(t, s.ExtendProvisionalSegment(ctx, seg.ID, day.Add(time.Duration(endHour)*time.Hour)))
		} else {
			require.NoError(t, s.FinalizeProvisionalSegment(ctx, seg.ID, day.Add(time.Duration(endHour)*time.Hour)))
		}
	}

	mk(6, 7, false)   // before the window
	mk(9, 10, false)  // inside
	mk(11, 13, false) // straddles the window end
	mk(14, 15, true)  // provisional, outside closed query window anyway

	segments, err := s.SegmentsOverlapping(ctx, day.Add(8*time.Hour), day.Add(12*time.Hour), false)
	require.NoError(t, err)
	require.Len(t, segments, 2)
	assert.True(t, segments[0].StartTime.Before(segments[1].StartTime), "results must be sorted by start time")

	withProvisional, err := s.SegmentsOverlapping(ctx, day.Add(8*time.Hour), day.Add(16*time.Hour), true)
	require.NoError(t, err)
	assert.Len(t, withProvisional, 3)

	withoutProvisional, err := s.SegmentsOverlapping(ctx, day.Add(8*time.Hour), day.Add(16*time.Hour), false)
	require.NoError(t, err)
	assert.Len(t, withoutProvisional, 2)
}

func TestChatMessageQueries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	latest, err := s.LatestChatMessageTime(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		err := s.CreateChatMessage(ctx, &model.ChatMessage{
			Source:    "test",
			Content:   fmt.Sprintf("message %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	count, err := s.CountChatMessagesSince(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count, "count is strictly after the cursor")

	latest, err = s.LatestChatMessageTime(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, base.Add(2*time.Minute), latest.UTC())
}

func TestPipelineStateRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	blob, err := s.LoadPipelineState(ctx)
	require.NoError(t, err)
	assert.Nil(t, blob, "empty store yields nil blob")

	require.NoError(t, s.SavePipelineState(ctx, []byte(`{"boundary_date_local":"2024-03-01"}`)))
	require.NoError(t, s.SavePipelineState(ctx, []byte(`{"boundary_date_local":"2024-03-02"}`)))

	blob, err = s.LoadPipelineState(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"boundary_date_local":"2024-03-02"}`, string(blob))

	// Still a single row after repeated saves.
	var count int64
	require.NoError(t, s.DB().Model(&model.PipelineStateRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

// TestSegmentsOverlapping_SQLShape pins the overlap predicate: half-open
// interval semantics must translate to start_time < end AND end_time > start.
func TestSegmentsOverlapping_SQLShape(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{})
	require.NoError(t, err)
	s := NewGormStore(gormDB)

	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)

	mock.ExpectQuery(`SELECT \* FROM "active_segments" WHERE .*start_time < \$1 AND end_time > \$2.* AND is_provisional = \$3 ORDER BY start_time ASC`).
		WithArgs(end, start, false).
		WillReturnRows(sqlmock.NewRows([]string{"id", "start_time", "end_time", "duration_minutes", "is_provisional"}))

	_, err = s.SegmentsOverlapping(context.Background(), start, end, false)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
