package dto

import (
	"time"

	"github.com/lshigami/safetycert/internal/model"
)

// OptionResponseDTO hides correctness from students.
type OptionResponseDTO struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Order int    `json:"order"`
}

// QuestionResponseDTO is used for displaying question details to users.
type QuestionResponseDTO struct {
	ID          string              `json:"id"`
	TestID      string              `json:"test_id"`
	Prompt      string              `json:"prompt"`
	Type        string              `json:"type"`
	Weight      float64             `json:"weight"`
	OrderInTest int                 `json:"order_in_test"`
	Options     []OptionResponseDTO `json:"options,omitempty"`
}

// TestResponseDTO is used for displaying full test details to users.
type TestResponseDTO struct {
	ID                        string                `json:"id"`
	CourseID                  string                `json:"course_id,omitempty"`
	CourseTitle               string                `json:"course_title,omitempty"`
	Title                     string                `json:"title"`
	Description               string                `json:"description,omitempty"`
	Kind                      string                `json:"kind"`
	MaxAttempts               int                   `json:"max_attempts"`
	PassingScore              float64               `json:"passing_score"`
	TimeLimitMinutes          int                   `json:"time_limit_minutes"`
	CertificateValidityMonths int                   `json:"certificate_validity_months"`
	Questions                 []QuestionResponseDTO `json:"questions,omitempty"`
	CreatedAt                 time.Time             `json:"created_at"`
}

// TestSummaryDTO is used for listing tests available to users.
type TestSummaryDTO struct {
	ID                   string    `json:"id"`
	CourseID             string    `json:"course_id,omitempty"`
	CourseTitle          string    `json:"course_title,omitempty"`
	Title                string    `json:"title"`
	Description          string    `json:"description,omitempty"`
	Kind                 string    `json:"kind"`
	PassingScore         float64   `json:"passing_score"`
	TimeLimitMinutes     int       `json:"time_limit_minutes"`
	QuestionCount        int       `json:"question_count"`
	MaxAttempts          int       `json:"max_attempts"`
	EffectiveMaxAttempts int       `json:"effective_max_attempts"`
	AttemptsUsed         int       `json:"attempts_used"`
	AttemptsRemaining    int       `json:"attempts_remaining"`
	HasIncompleteAttempt bool      `json:"has_incomplete_attempt"`
	CreatedAt            time.Time `json:"created_at"`
}

// AnswerResponseDTO is a graded answer within a completed attempt.
type AnswerResponseDTO struct {
	QuestionID  string            `json:"question_id"`
	Value       model.AnswerValue `json:"value"`
	IsCorrect   bool              `json:"is_correct"`
	Weight      float64           `json:"weight"`
	EarnedScore float64           `json:"earned_score"`
	AIFeedback  string            `json:"ai_feedback,omitempty"`
}

// TestAttemptDTO is the attempt representation shared by the API and the session client.
type TestAttemptDTO struct {
	ID                    string              `json:"id"`
	TestID                string              `json:"test_id"`
	TestTitle             string              `json:"test_title,omitempty"`
	UserID                string              `json:"user_id"`
	Status                string              `json:"status"` // "in_progress", "completed"
	StartedAt             time.Time           `json:"started_at"`
	ExpiresAt             *time.Time          `json:"expires_at,omitempty"`
	CompletedAt           *time.Time          `json:"completed_at,omitempty"`
	Answers               model.AnswerSet     `json:"answers"`
	Score                 *float64            `json:"score,omitempty"`
	Passed                *bool               `json:"passed,omitempty"`
	PassingScore          *float64            `json:"passing_score,omitempty"`
	EndReason             string              `json:"end_reason,omitempty"`
	CompletionConfirmedAt *time.Time          `json:"completion_confirmed_at,omitempty"`
	HasVideo              bool                `json:"has_video"`
	ProtocolID            *string             `json:"protocol_id,omitempty"`
	GradedAnswers         []AnswerResponseDTO `json:"graded_answers,omitempty"`
}

const (
	AttemptStatusInProgress = "in_progress"
	AttemptStatusCompleted  = "completed"
)

// NewTestAttemptDTO maps an attempt. test may be nil.
func NewTestAttemptDTO(a *model.TestAttempt, test *model.Test) TestAttemptDTO {
	out := TestAttemptDTO{
		ID:                    a.ID,
		TestID:                a.TestID,
		UserID:                a.UserID,
		Status:                AttemptStatusInProgress,
		StartedAt:             a.StartedAt,
		ExpiresAt:             a.ExpiresAt,
		CompletedAt:           a.CompletedAt,
		Answers:               a.AnswerSet(),
		Score:                 Float(a.Score),
		Passed:                a.Passed,
		EndReason:             a.EndReason,
		CompletionConfirmedAt: a.CompletionConfirmedAt,
		HasVideo:              a.HasVideo,
	}
	if a.IsCompleted() {
		out.Status = AttemptStatusCompleted
	}
	if test == nil {
		test = a.Test
	}
	if test != nil {
		out.TestTitle = test.Title
		ps := test.PassingScore.InexactFloat64()
		out.PassingScore = &ps
	}
	for _, ga := range a.GradedAnswers {
		out.GradedAnswers = append(out.GradedAnswers, AnswerResponseDTO{
			QuestionID:  ga.QuestionID,
			Value:       ga.Value.Data(),
			IsCorrect:   ga.IsCorrect,
			Weight:      ga.Weight,
			EarnedScore: ga.EarnedScore.InexactFloat64(),
			AIFeedback:  ga.AIFeedback,
		})
	}
	return out
}
