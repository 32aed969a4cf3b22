package model

import (
	"time"

	"gorm.io/gorm"
)

const (
	QuestionTypeSingleChoice   = "single_choice"
	QuestionTypeMultipleChoice = "multiple_choice"
	QuestionTypeOpen           = "open"
)

type Question struct {
	ID          string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TestID      string         `json:"test_id" gorm:"type:varchar(36);not null;index"`
	Prompt      string         `json:"prompt" gorm:"type:text;not null"`
	Type        string         `json:"type" gorm:"not null"` // "single_choice", "multiple_choice", "open"
	Weight      float64        `json:"weight" gorm:"not null;default:1"`
	OrderInTest int            `json:"order_in_test" gorm:"not null"`
	Options     []Option       `json:"options,omitempty" gorm:"foreignKey:QuestionID;constraint:OnDelete:CASCADE;"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (q *Question) BeforeCreate(*gorm.DB) error {
	ensureID(&q.ID)
	return nil
}

// CorrectOptionIDs returns the ids of every option flagged correct.
func (q *Question) CorrectOptionIDs() []string {
	var ids []string
	for _, o := range q.Options {
		if o.IsCorrect {
			ids = append(ids, o.ID)
		}
	}
	return ids
}

type Option struct {
	ID         string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	QuestionID string `json:"question_id" gorm:"type:varchar(36);not null;index"`
	Text       string `json:"text" gorm:"type:text;not null"`
	IsCorrect  bool   `json:"is_correct" gorm:"not null;default:false"`
	Order      int    `json:"order"`
}

func (o *Option) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}
