package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"presence-tracker-backend/internal/model"
)

// pipelineStateRowID is the single row the scheduler blob lives under.
const pipelineStateRowID = 1

// ErrNoProvisionalSegment is returned when an operation expects an open
// provisional segment and none exists.
var ErrNoProvisionalSegment = errors.New("no provisional segment")

// Store defines the persistence operations used by the presence core.
type Store interface {
	DB() *gorm.DB

	// Active segment log. The monitor is the only writer of provisional
	// segments; readers must tolerate a provisional EndTime that lags real
	// time by up to the monitor's extension interval.
	CreateProvisionalSegment(ctx context.Context, start, end time.Time) (*model.ActiveSegment, error)
	ExtendProvisionalSegment(ctx context.Context, id int64, end time.Time) error
	FinalizeProvisionalSegment(ctx context.Context, id int64, end time.Time) error
	OpenProvisionalSegment(ctx context.Context) (*model.ActiveSegment, error)
	SegmentsOverlapping(ctx context.Context, start, end time.Time, includeProvisional bool) ([]model.ActiveSegment, error)
	LastFinalizedSegment(ctx context.Context) (*model.ActiveSegment, error)

	// Chat log backing the on_new_chat run policy.
	CreateChatMessage(ctx context.Context, msg *model.ChatMessage) error
	CountChatMessagesSince(ctx context.Context, since time.Time) (int64, error)
	LatestChatMessageTime(ctx context.Context) (*time.Time, error)

	// Scheduler state blob: whole-blob replace, one row per deployment.
	LoadPipelineState(ctx context.Context) ([]byte, error)
	SavePipelineState(ctx context.Context, blob []byte) error
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// CreateProvisionalSegment opens a new in-progress active segment.
func (s *gormStore) CreateProvisionalSegment(ctx context.Context, start, end time.Time) (*model.ActiveSegment, error) {
	seg := model.ActiveSegment{
		StartTime:       start.UTC(),
		EndTime:         end.UTC(),
		DurationMinutes: end.Sub(start).Minutes(),
		IsProvisional:   true,
	}
	if err := s.db.WithContext(ctx).Create(&seg).Error; err != nil {
		return nil, fmt.Errorf("failed to create provisional segment: %w", err)
	}
	return &seg, nil
}

// ExtendProvisionalSegment advances the end time of an open segment,
// recomputing the stored duration.
func (s *gormStore) ExtendProvisionalSegment(ctx context.Context, id int64, end time.Time) error {
	return s.setSegmentEnd(ctx, id, end, true)
}

// FinalizeProvisionalSegment sets the precise end time and closes the
// segment. A finalized segment's end time never changes again.
func (s *gormStore) FinalizeProvisionalSegment(ctx context.Context, id int64, end time.Time) error {
	return s.setSegmentEnd(ctx, id, end, false)
}

func (s *gormStore) setSegmentEnd(ctx context.Context, id int64, end time.Time, stillProvisional bool) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var seg model.ActiveSegment
		if err := tx.Where("id = ? AND is_provisional = ?", id, true).First(&seg).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("segment %d: %w", id, ErrNoProvisionalSegment)
			}
			return fmt.Errorf("failed to load segment %d: %w", id, err)
		}

		endUTC := end.UTC()
		if endUTC.Before(seg.StartTime) {
			endUTC = seg.StartTime
		}

		updates := map[string]any{
			"end_time":         endUTC,
			"duration_minutes": endUTC.Sub(seg.StartTime).Minutes(),
			"is_provisional":   stillProvisional,
		}
		if err := tx.Model(&model.ActiveSegment{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update segment %d: %w", id, err)
		}
		return nil
	})
}

// OpenProvisionalSegment returns the single open segment, or nil when the
// log has none. The single-writer monitor guarantees at most one exists.
func (s *gormStore) OpenProvisionalSegment(ctx context.Context) (*model.ActiveSegment, error) {
	var seg model.ActiveSegment
	err := s.db.WithContext(ctx).
		Where("is_provisional = ?", true).
		Order("start_time DESC").
		First(&seg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query provisional segment: %w", err)
	}
	return &seg, nil
}

// SegmentsOverlapping returns segments whose half-open interval intersects
// [start, end), sorted by start time.
func (s *gormStore) SegmentsOverlapping(ctx context.Context, start, end time.Time, includeProvisional bool) ([]model.ActiveSegment, error) {
	q := s.db.WithContext(ctx).
		Where("start_time < ? AND end_time > ?", end.UTC(), start.UTC())
	if !includeProvisional {
		q = q.Where("is_provisional = ?", false)
	}

	var segments []model.ActiveSegment
	if err := q.Order("start_time ASC").Find(&segments).Error; err != nil {
		return nil, fmt.Errorf("failed to query segments overlapping [%s, %s): %w", start, end, err)
	}
	return segments, nil
}

// LastFinalizedSegment returns the most recently ended closed segment, or nil
// when the log is empty.
func (s *gormStore) LastFinalizedSegment(ctx context.Context) (*model.ActiveSegment, error) {
	var seg model.ActiveSegment
	err := s.db.WithContext(ctx).
		Where("is_provisional = ?", false).
		Order("end_time DESC").
		First(&seg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last finalized segment: %w", err)
	}
	return &seg, nil
}

// CreateChatMessage appends a message to the chat log.
func (s *gormStore) CreateChatMessage(ctx context.Context, msg *model.ChatMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("failed to create chat message: %w", err)
	}
	return nil
}

// CountChatMessagesSince counts messages created strictly after since.
func (s *gormStore) CountChatMessagesSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&model.ChatMessage{}).
		Where("created_at > ?", since.UTC()).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count chat messages since %s: %w", since, err)
	}
	return count, nil
}

// LatestChatMessageTime returns the timestamp of the newest message, or nil
// when the log is empty.
func (s *gormStore) LatestChatMessageTime(ctx context.Context) (*time.Time, error) {
	var msg model.ChatMessage
	err := s.db.WithContext(ctx).Order("created_at DESC").First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest chat message: %w", err)
	}
	ts := msg.CreatedAt
	return &ts, nil
}

// LoadPipelineState reads the scheduler state blob. Returns nil when no state
// has been persisted yet.
func (s *gormStore) LoadPipelineState(ctx context.Context) ([]byte, error) {
	var record model.PipelineStateRecord
	err := s.db.WithContext(ctx).First(&record, pipelineStateRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pipeline state: %w", err)
	}
	return []byte(record.State), nil
}

// SavePipelineState replaces the scheduler state blob.
func (s *gormStore) SavePipelineState(ctx context.Context, blob []byte) error {
	record := model.PipelineStateRecord{
		ID:        pipelineStateRowID,
		State:     string(blob),
		UpdatedAt: time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"state", "updated_at"}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("failed to save pipeline state: %w", err)
	}
	return nil
}
