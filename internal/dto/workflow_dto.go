package dto

import "time"

type ExtraAttemptRequestDTO struct {
	ID            string     `json:"id"`
	TestID        string     `json:"test_id"`
	UserID        string     `json:"user_id"`
	Reason        string     `json:"reason"`
	Status        string     `json:"status"`
	AdminResponse *string    `json:"admin_response,omitempty"`
	ProcessedBy   *string    `json:"processed_by,omitempty"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type SignatureDTO struct {
	ID          string     `json:"id"`
	SignerID    string     `json:"signer_id"`
	SignerName  string     `json:"signer_name"`
	Role        string     `json:"role"`
	Position    int        `json:"position"`
	OTPVerified bool       `json:"otp_verified"`
	SignedAt    *time.Time `json:"signed_at,omitempty"`
}

type ProtocolDTO struct {
	ID              string         `json:"id"`
	AttemptID       string         `json:"attempt_id"`
	TestID          string         `json:"test_id"`
	CourseID        string         `json:"course_id,omitempty"`
	UserID          string         `json:"user_id"`
	StudentName     string         `json:"student_name"`
	StudentIIN      string         `json:"student_iin"`
	StudentPhone    string         `json:"student_phone"`
	CourseTitle     string         `json:"course_title"`
	Score           float64        `json:"score"`
	PassingScore    float64        `json:"passing_score"`
	Result          string         `json:"result"`
	Status          string         `json:"status"`
	Signatures      []SignatureDTO `json:"signatures"`
	RejectionReason *string        `json:"rejection_reason,omitempty"`
	RejectedBy      *string        `json:"rejected_by,omitempty"`
	RejectedAt      *time.Time     `json:"rejected_at,omitempty"`
	AnnulmentReason *string        `json:"annulment_reason,omitempty"`
	AnnulledBy      *string        `json:"annulled_by,omitempty"`
	AnnulledAt      *time.Time     `json:"annulled_at,omitempty"`
	// Warnings lists data-quality findings about the stored signature order.
	Warnings  []string  `json:"warnings,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CertificateDTO struct {
	ID             string     `json:"id"`
	ProtocolID     string     `json:"protocol_id"`
	TestID         string     `json:"test_id"`
	CourseID       string     `json:"course_id,omitempty"`
	UserID         string     `json:"user_id"`
	Number         string     `json:"number"`
	StudentName    string     `json:"student_name"`
	CourseTitle    string     `json:"course_title"`
	IssuedAt       time.Time  `json:"issued_at"`
	ValidUntil     *time.Time `json:"valid_until,omitempty"`
	HasFile        bool       `json:"has_file"`
	FileName       string     `json:"file_name,omitempty"`
	PreviousNumber *string    `json:"previous_number,omitempty"`
	ReissuedAt     *time.Time `json:"reissued_at,omitempty"`
	ReissueCount   int        `json:"reissue_count"`
}

type CommissionMemberResponseDTO struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
	Position int    `json:"position"`
	Active   bool   `json:"active"`
}
