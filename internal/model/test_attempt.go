package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	EndReasonSubmitted = "submitted"
	EndReasonTimeout   = "timeout"
)

type TestAttempt struct {
	ID     string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TestID string `json:"test_id" gorm:"type:varchar(36);not null;index;uniqueIndex:idx_open_attempt,where:completed_at IS NULL"`
	Test   *Test  `json:"test,omitempty" gorm:"foreignKey:TestID"`
	UserID string `json:"user_id" gorm:"type:varchar(36);not null;index;uniqueIndex:idx_open_attempt,where:completed_at IS NULL"`
	// Answers holds the in-progress answer set; frozen once CompletedAt is set.
	Answers               datatypes.JSONType[AnswerSet] `json:"answers"`
	StartedAt             time.Time                     `json:"started_at" gorm:"not null"`
	ExpiresAt             *time.Time                    `json:"expires_at,omitempty" gorm:"index"`
	CompletedAt           *time.Time                    `json:"completed_at,omitempty"`
	Score                 *decimal.Decimal              `json:"score,omitempty" gorm:"type:numeric(5,2)"`
	Passed                *bool                         `json:"passed,omitempty"`
	EndReason             string                        `json:"end_reason,omitempty"` // "submitted", "timeout"
	CompletionConfirmedAt *time.Time                    `json:"completion_confirmed_at,omitempty"`
	GradedAnswers         []Answer                      `json:"graded_answers,omitempty" gorm:"foreignKey:TestAttemptID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	HasVideo              bool                          `json:"has_video" gorm:"not null;default:false"`
	CreatedAt             time.Time                     `json:"created_at"`
	UpdatedAt             time.Time                     `json:"updated_at"`
}

func (a *TestAttempt) BeforeCreate(*gorm.DB) error {
	ensureID(&a.ID)
	return nil
}

func (a *TestAttempt) IsCompleted() bool {
	return a.CompletedAt != nil
}

// IsOverdue reports whether a timed attempt is past its deadline and still open.
func (a *TestAttempt) IsOverdue(now time.Time) bool {
	return !a.IsCompleted() && a.ExpiresAt != nil && !now.Before(*a.ExpiresAt)
}

func (a *TestAttempt) AnswerSet() AnswerSet {
	s := a.Answers.Data()
	if s == nil {
		return AnswerSet{}
	}
	return s
}

func (a *TestAttempt) SetAnswers(s AnswerSet) {
	a.Answers = datatypes.NewJSONType(s)
}

func (a *TestAttempt) IsPassed() bool {
	return a.Passed != nil && *a.Passed
}
