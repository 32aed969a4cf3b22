package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AnswerValue is the canonical shape of an answer: a list of option ids, or a single
// free-text entry for open questions. Scalars on ingress become one-element lists.
type AnswerValue []string

func (v *AnswerValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = nil
		return nil
	}
	switch data[0] {
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		out := make(AnswerValue, 0, len(raw))
		for _, item := range raw {
			s, err := scalarString(item)
			if err != nil {
				return err
			}
			out = append(out, s)
		}
		*v = out
		return nil
	default:
		s, err := scalarString(data)
		if err != nil {
			return err
		}
		*v = AnswerValue{s}
		return nil
	}
}

func scalarString(data json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		return n.String(), nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		return strconv.FormatBool(b), nil
	}
	return "", fmt.Errorf("unsupported answer value %s", string(data))
}

// Set returns the distinct, sorted values.
func (v AnswerValue) Set() []string {
	seen := make(map[string]struct{}, len(v))
	out := make([]string, 0, len(v))
	for _, s := range v {
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (v AnswerValue) IsEmpty() bool {
	return len(v.Set()) == 0
}

// AnswerSet maps question id to answer.
type AnswerSet map[string]AnswerValue

// Merge returns a copy of s with every entry of other applied on top.
func (s AnswerSet) Merge(other AnswerSet) AnswerSet {
	out := make(AnswerSet, len(s)+len(other))
	for k, v := range s {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

func (s AnswerSet) Clone() AnswerSet {
	return AnswerSet{}.Merge(s)
}

// Answer is the graded answer row written at submit.
type Answer struct {
	ID            string                          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TestAttemptID string                          `json:"test_attempt_id" gorm:"type:varchar(36);not null;index"`
	QuestionID    string                          `json:"question_id" gorm:"type:varchar(36);not null;index"`
	Value         datatypes.JSONType[AnswerValue] `json:"value"`
	IsCorrect     bool                            `json:"is_correct"`
	Weight        float64                         `json:"weight"`
	EarnedScore   decimal.Decimal                 `json:"earned_score" gorm:"type:numeric(8,2);not null"`
	AIFeedback    string                          `json:"ai_feedback,omitempty" gorm:"type:text"`
	CreatedAt     time.Time                       `json:"created_at"`
}

func (a *Answer) BeforeCreate(*gorm.DB) error {
	ensureID(&a.ID)
	return nil
}
