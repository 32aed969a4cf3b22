package model

import (
	"time"

	"gorm.io/gorm"
)

// AttemptVideo is the optional recording attached at submit. The payload is opaque.
type AttemptVideo struct {
	ID            string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TestAttemptID string    `json:"test_attempt_id" gorm:"type:varchar(36);not null;uniqueIndex"`
	ContentType   string    `json:"content_type"`
	Size          int64     `json:"size"`
	Data          []byte    `json:"-" gorm:"type:bytea"`
	CreatedAt     time.Time `json:"created_at"`
}

func (v *AttemptVideo) BeforeCreate(*gorm.DB) error {
	ensureID(&v.ID)
	return nil
}
