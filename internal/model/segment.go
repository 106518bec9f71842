package model

import "time"

// ActiveSegment records one contiguous period the user was detected at the
// keyboard. A provisional segment is still in progress: the monitor advances
// its EndTime periodically and flips IsProvisional off once the user goes AFK.
type ActiveSegment struct {
	ID              int64     `gorm:"primaryKey;autoIncrement"`
	StartTime       time.Time `gorm:"not null;index"`
	EndTime         time.Time `gorm:"not null;index"`
	DurationMinutes float64   `gorm:"not null"`
	IsProvisional   bool      `gorm:"not null;index"`
	CreatedAt       time.Time `gorm:"not null"`
}
