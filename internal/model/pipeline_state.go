package model

import "time"

// PipelineStateRecord holds the scheduler's persisted cross-tick state as a
// single JSON blob. One row per deployment; writes replace the whole blob.
type PipelineStateRecord struct {
	ID        int64     `gorm:"primaryKey"`
	State     string    `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}
