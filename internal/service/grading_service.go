package service

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/lshigami/safetycert/internal/model"
)

var hundred = decimal.NewFromInt(100)

// OpenAnswerGrader scores free-text answers. fraction is in [0, 1].
type OpenAnswerGrader interface {
	GradeOpenAnswer(ctx context.Context, question *model.Question, answer string) (fraction float64, feedback string, err error)
}

type GradingResult struct {
	Score   decimal.Decimal
	Passed  bool
	Answers []model.Answer
}

type GradingService interface {
	// Grade scores answers against the correct option sets of test, weighted per question.
	// Unanswered questions score zero.
	Grade(ctx context.Context, test *model.Test, answers model.AnswerSet) *GradingResult
}

type gradingService struct {
	grader OpenAnswerGrader
}

// NewGradingService creates the grader. A nil open-answer grader scores open questions as zero.
func NewGradingService(grader OpenAnswerGrader) GradingService {
	return &gradingService{grader: grader}
}

// openGradeResult is used to carry results from goroutines grading open answers.
type openGradeResult struct {
	index    int
	fraction float64
	feedback string
}

func (s *gradingService) Grade(ctx context.Context, test *model.Test, answers model.AnswerSet) *GradingResult {
	graded := make([]model.Answer, len(test.Questions))
	totalWeight := decimal.Zero
	earned := decimal.Zero

	var (
		wg      sync.WaitGroup
		results = make(chan openGradeResult, len(test.Questions))
	)
	for i := range test.Questions {
		q := &test.Questions[i]
		weight := q.Weight
		if weight <= 0 {
			weight = 1
		}
		value := answers[q.ID]
		graded[i] = model.Answer{
			QuestionID:  q.ID,
			Value:       datatypes.NewJSONType(value),
			Weight:      weight,
			EarnedScore: decimal.Zero,
		}
		totalWeight = totalWeight.Add(decimal.NewFromFloat(weight))

		if q.Type == model.QuestionTypeOpen {
			text := strings.TrimSpace(strings.Join(value, "\n"))
			if text == "" || s.grader == nil {
				continue
			}
			wg.Add(1)
			go func(idx int, question *model.Question) {
				defer wg.Done()
				fraction, feedback, err := s.grader.GradeOpenAnswer(ctx, question, text)
				if err != nil {
					log.Warn().Err(err).Str("questionID", question.ID).Msg("Open answer grading failed, scoring zero")
					results <- openGradeResult{index: idx, feedback: feedback}
					return
				}
				results <- openGradeResult{index: idx, fraction: fraction, feedback: feedback}
			}(i, q)
			continue
		}

		if sameSet(value.Set(), model.AnswerValue(q.CorrectOptionIDs()).Set()) {
			graded[i].IsCorrect = true
			graded[i].EarnedScore = decimal.NewFromFloat(weight)
		}
	}
	wg.Wait()
	close(results)

	for r := range results {
		fraction := clamp01(r.fraction)
		a := &graded[r.index]
		a.AIFeedback = r.feedback
		a.EarnedScore = decimal.NewFromFloat(a.Weight * fraction).Round(2)
		a.IsCorrect = fraction >= 1
	}
	for _, a := range graded {
		earned = earned.Add(a.EarnedScore)
	}

	score := ComputeScore(earned, totalWeight)
	return &GradingResult{
		Score:   score,
		Passed:  score.GreaterThanOrEqual(test.PassingScore),
		Answers: graded,
	}
}

// ComputeScore returns earned/total as a percentage rounded half-up to two decimals.
func ComputeScore(earned, total decimal.Decimal) decimal.Decimal {
	if !total.IsPositive() {
		return decimal.Zero
	}
	return earned.Mul(hundred).Div(total).Round(2)
}

// sameSet compares two sorted, de-duplicated slices. An empty key never matches.
func sameSet(got, want []string) bool {
	if len(want) == 0 || len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
