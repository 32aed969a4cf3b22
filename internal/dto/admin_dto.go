package dto

// OptionCreateDTO is one answer option of a choice question.
type OptionCreateDTO struct {
	Text      string `json:"text" binding:"required"`
	IsCorrect bool   `json:"is_correct"`
}

// QuestionCreateDTO is used within TestCreateDTO for admin test creation.
type QuestionCreateDTO struct {
	Prompt      string            `json:"prompt" binding:"required"`
	Type        string            `json:"type" binding:"required,oneof=single_choice multiple_choice open"`
	Weight      float64           `json:"weight" binding:"gte=0"`
	OrderInTest int               `json:"order_in_test" binding:"required,min=1"`
	Options     []OptionCreateDTO `json:"options" binding:"omitempty,dive"`
}

// TestCreateDTO is for admin to create a new test with all its questions.
type TestCreateDTO struct {
	CourseID                  string              `json:"course_id"`
	CourseTitle               string              `json:"course_title"`
	Title                     string              `json:"title" binding:"required"`
	Description               string              `json:"description,omitempty"`
	Kind                      string              `json:"kind" binding:"required,oneof=quiz final_exam"`
	MaxAttempts               int                 `json:"max_attempts" binding:"required,min=1"`
	PassingScore              float64             `json:"passing_score" binding:"gte=0,lte=100"`
	TimeLimitMinutes          int                 `json:"time_limit_minutes" binding:"gte=0"`
	CertificateValidityMonths int                 `json:"certificate_validity_months" binding:"gte=0"`
	Questions                 []QuestionCreateDTO `json:"questions" binding:"required,min=1,dive"`
}

// CommissionMemberDTO adds or updates a PDEK roster entry.
type CommissionMemberDTO struct {
	UserID   string `json:"user_id" binding:"required"`
	FullName string `json:"full_name" binding:"required"`
	Phone    string `json:"phone" binding:"required"`
	Role     string `json:"role" binding:"required,oneof=member chairman"`
	Position int    `json:"position"`
	Active   *bool  `json:"active"`
}

// UserProfileDTO syncs a user directory entry used for protocol snapshots.
type UserProfileDTO struct {
	UserID   string `json:"user_id" binding:"required"`
	FullName string `json:"full_name" binding:"required"`
	IIN      string `json:"iin"`
	Phone    string `json:"phone"`
	Email    string `json:"email" binding:"omitempty,email"`
}
