package model

import "time"

// ChatMessage is an ingested message from an external chat source. The
// pipeline's on_new_chat policy only reads CreatedAt; content is stored for
// downstream consumers and never interpreted here.
type ChatMessage struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	Source    string    `gorm:"size:64;not null"`
	Author    string    `gorm:"size:128"`
	Content   string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;index"`
}
