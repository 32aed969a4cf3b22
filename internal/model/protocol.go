package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	ProtocolGenerated      = "generated"
	ProtocolPendingPDEK    = "pending_pdek"
	ProtocolSignedMembers  = "signed_members"
	ProtocolSignedChairman = "signed_chairman"
	ProtocolRejected       = "rejected"
	ProtocolAnnulled       = "annulled"

	ResultPassed = "passed"
	ResultFailed = "failed"

	SignerRoleMember   = "member"
	SignerRoleChairman = "chairman"
)

// Protocol is the commission record of a passed final exam. Student and course fields
// are snapshots taken at creation and never refreshed.
type Protocol struct {
	ID           string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	AttemptID    string          `json:"attempt_id" gorm:"type:varchar(36);not null;uniqueIndex"`
	TestID       string          `json:"test_id" gorm:"type:varchar(36);not null;index"`
	CourseID     string          `json:"course_id" gorm:"type:varchar(36);index"`
	UserID       string          `json:"user_id" gorm:"type:varchar(36);not null;index"`
	StudentName  string          `json:"student_name"`
	StudentIIN   string          `json:"student_iin"`
	StudentPhone string          `json:"student_phone"`
	CourseTitle  string          `json:"course_title"`
	Score        decimal.Decimal `json:"score" gorm:"type:numeric(5,2);not null"`
	PassingScore decimal.Decimal `json:"passing_score" gorm:"type:numeric(5,2);not null"`
	Result       string          `json:"result" gorm:"not null"`
	Status       string          `json:"status" gorm:"not null;index"`
	Signatures   []Signature     `json:"signatures,omitempty" gorm:"foreignKey:ProtocolID;constraint:OnDelete:CASCADE;"`

	RejectionReason *string    `json:"rejection_reason,omitempty" gorm:"type:text"`
	RejectedBy      *string    `json:"rejected_by,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	AnnulmentReason *string    `json:"annulment_reason,omitempty" gorm:"type:text"`
	AnnulledBy      *string    `json:"annulled_by,omitempty"`
	AnnulledAt      *time.Time `json:"annulled_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p *Protocol) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

// IsOpenForSigning reports whether signatures can still be collected.
func (p *Protocol) IsOpenForSigning() bool {
	return p.Status == ProtocolPendingPDEK || p.Status == ProtocolSignedMembers
}

// SignatureOf returns the signature slot of the given signer, if any.
func (p *Protocol) SignatureOf(signerID string) *Signature {
	for i := range p.Signatures {
		if p.Signatures[i].SignerID == signerID {
			return &p.Signatures[i]
		}
	}
	return nil
}

type Signature struct {
	ID          string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ProtocolID  string     `json:"protocol_id" gorm:"type:varchar(36);not null;index;uniqueIndex:idx_signature_signer"`
	SignerID    string     `json:"signer_id" gorm:"type:varchar(36);not null;uniqueIndex:idx_signature_signer"`
	SignerName  string     `json:"signer_name"`
	SignerPhone string     `json:"-"`
	Role        string     `json:"role" gorm:"not null"` // "member", "chairman"
	Position    int        `json:"position"`
	OTPVerified bool       `json:"otp_verified" gorm:"not null;default:false"`
	SignedAt    *time.Time `json:"signed_at,omitempty"`
}

func (s *Signature) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ID)
	return nil
}

// CommissionMember is a roster entry copied into each new protocol's signature list.
type CommissionMember struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID    string    `json:"user_id" gorm:"type:varchar(36);not null;uniqueIndex"`
	FullName  string    `json:"full_name" gorm:"not null"`
	Phone     string    `json:"phone" gorm:"not null"`
	Role      string    `json:"role" gorm:"not null"`
	Position  int       `json:"position"`
	Active    bool      `json:"active" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (m *CommissionMember) BeforeCreate(*gorm.DB) error {
	ensureID(&m.ID)
	return nil
}

// UserProfile is the local read model of the user directory.
type UserProfile struct {
	UserID    string    `gorm:"primaryKey;type:varchar(36)" json:"user_id"`
	FullName  string    `json:"full_name"`
	IIN       string    `json:"iin"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email"`
	UpdatedAt time.Time `json:"updated_at"`
}
