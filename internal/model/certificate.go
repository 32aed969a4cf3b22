package model

import (
	"time"

	"gorm.io/gorm"
)

type Certificate struct {
	ID          string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ProtocolID  string     `json:"protocol_id" gorm:"type:varchar(36);not null;uniqueIndex"`
	TestID      string     `json:"test_id" gorm:"type:varchar(36);not null"`
	CourseID    string     `json:"course_id" gorm:"type:varchar(36);index"`
	UserID      string     `json:"user_id" gorm:"type:varchar(36);not null;index"`
	Number      string     `json:"number" gorm:"not null;uniqueIndex"`
	StudentName string     `json:"student_name"`
	CourseTitle string     `json:"course_title"`
	IssuedAt    time.Time  `json:"issued_at" gorm:"not null"`
	ValidUntil  *time.Time `json:"valid_until,omitempty"`

	FileName        string `json:"file_name,omitempty"`
	FileContentType string `json:"file_content_type,omitempty"`
	FileData        []byte `json:"-" gorm:"type:bytea"`

	PreviousNumber *string    `json:"previous_number,omitempty"`
	ReissuedAt     *time.Time `json:"reissued_at,omitempty"`
	ReissueCount   int        `json:"reissue_count" gorm:"not null;default:0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Certificate) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}

func (c *Certificate) HasFile() bool {
	return len(c.FileData) > 0
}

// CertificateSequence holds the last issued serial per calendar year.
type CertificateSequence struct {
	Year  int `gorm:"primaryKey;autoIncrement:false"`
	Value int `gorm:"not null"`
}

// OTPCode is one issued one-time code. Only the bcrypt hash is stored.
type OTPCode struct {
	ID             string     `gorm:"primaryKey;type:varchar(36)"`
	Phone          string     `gorm:"not null;index:idx_otp_phone_purpose"`
	Purpose        string     `gorm:"not null;index:idx_otp_phone_purpose"`
	CodeHash       string     `gorm:"not null"`
	ExpiresAt      time.Time  `gorm:"not null"`
	ConsumedAt     *time.Time `gorm:"index"`
	InvalidatedAt  *time.Time `gorm:"index"`
	FailedAttempts int        `gorm:"not null;default:0"`
	CreatedAt      time.Time  `gorm:"index"`
}

func (o *OTPCode) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}

func (o *OTPCode) IsActive() bool {
	return o.ConsumedAt == nil && o.InvalidatedAt == nil
}
