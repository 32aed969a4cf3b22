package dto

import "github.com/lshigami/safetycert/internal/model"

// SaveAnswersRequest carries the full in-progress answer set. Values may be scalars or lists.
type SaveAnswersRequest struct {
	Answers model.AnswerSet `json:"answers"`
}

type ExtraAttemptCreateRequest struct {
	Reason string `json:"reason" validate:"notblank"`
}

type ExtraAttemptDecisionRequest struct {
	AdminResponse string `json:"admin_response"`
}

// OTPCodeRequest submits a one-time code. "otp" is accepted as an alias of "code".
type OTPCodeRequest struct {
	Code string `json:"code"`
	OTP  string `json:"otp"`
}

func (r OTPCodeRequest) Value() string {
	if r.Code != "" {
		return r.Code
	}
	return r.OTP
}

type ReasonRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// SubmitAttemptRequest optionally carries the final answers. Multipart submissions send them
// as a JSON string in the "answers" form field next to the "video" file.
type SubmitAttemptRequest struct {
	Answers model.AnswerSet `json:"answers"`
}
