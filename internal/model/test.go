package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	TestKindQuiz      = "quiz"
	TestKindFinalExam = "final_exam"
)

type Test struct {
	ID                        string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	CourseID                  string          `json:"course_id" gorm:"type:varchar(36);index"`
	CourseTitle               string          `json:"course_title"`
	Title                     string          `json:"title" gorm:"not null"`
	Description               string          `json:"description,omitempty"`
	Kind                      string          `json:"kind" gorm:"not null;default:'quiz'"` // "quiz", "final_exam"
	MaxAttempts               int             `json:"max_attempts" gorm:"not null;default:1"`
	PassingScore              decimal.Decimal `json:"passing_score" gorm:"type:numeric(5,2);not null"`
	TimeLimitMinutes          int             `json:"time_limit_minutes" gorm:"not null;default:0"`
	CertificateValidityMonths int             `json:"certificate_validity_months" gorm:"not null;default:0"`
	Questions                 []Question      `json:"questions,omitempty" gorm:"foreignKey:TestID"`
	CreatedAt                 time.Time       `json:"created_at"`
	UpdatedAt                 time.Time       `json:"updated_at"`
	DeletedAt                 gorm.DeletedAt  `gorm:"index" json:"-"`
}

func (t *Test) BeforeCreate(*gorm.DB) error {
	ensureID(&t.ID)
	return nil
}

// TimeLimit is zero for untimed tests.
func (t *Test) TimeLimit() time.Duration {
	return time.Duration(t.TimeLimitMinutes) * time.Minute
}

func (t *Test) IsFinalExam() bool {
	return t.Kind == TestKindFinalExam
}
