package model

import (
	"time"

	"gorm.io/gorm"
)

const (
	ExtraAttemptPending  = "pending"
	ExtraAttemptApproved = "approved"
	ExtraAttemptRejected = "rejected"
)

type ExtraAttemptRequest struct {
	ID            string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TestID        string     `json:"test_id" gorm:"type:varchar(36);not null;index:idx_extra_test_user"`
	UserID        string     `json:"user_id" gorm:"type:varchar(36);not null;index:idx_extra_test_user"`
	Reason        string     `json:"reason" gorm:"type:text;not null"`
	Status        string     `json:"status" gorm:"not null;default:'pending';index"`
	AdminResponse *string    `json:"admin_response,omitempty" gorm:"type:text"`
	ProcessedBy   *string    `json:"processed_by,omitempty" gorm:"type:varchar(36)"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (r *ExtraAttemptRequest) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}

func (r *ExtraAttemptRequest) IsResolved() bool {
	return r.Status == ExtraAttemptApproved || r.Status == ExtraAttemptRejected
}
