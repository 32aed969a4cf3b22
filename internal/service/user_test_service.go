package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/lshigami/safetycert/internal/apperr"
	"github.com/lshigami/safetycert/internal/dto"
	"github.com/lshigami/safetycert/internal/model"
	"github.com/lshigami/safetycert/internal/repository"
)

type UserTestService interface {
	// GetAllTests lists tests with the caller's attempt usage against the effective cap.
	GetAllTests(ctx context.Context, userID string) ([]dto.TestSummaryDTO, error)
	GetTestDetails(ctx context.Context, testID string) (*dto.TestResponseDTO, error)
}

type userTestService struct {
	testRepo    repository.TestRepository
	attemptRepo repository.TestAttemptRepository
	extraRepo   repository.ExtraAttemptRequestRepository
}

func NewUserTestService(
	testRepo repository.TestRepository,
	attemptRepo repository.TestAttemptRepository,
	extraRepo repository.ExtraAttemptRequestRepository,
) UserTestService {
	return &userTestService{testRepo: testRepo, attemptRepo: attemptRepo, extraRepo: extraRepo}
}

func (s *userTestService) GetAllTests(ctx context.Context, userID string) ([]dto.TestSummaryDTO, error) {
	testsWithCount, err := s.testRepo.FindAllWithQuestionCount(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get all tests with question count from repository")
		return nil, fmt.Errorf("error fetching tests: %w", err)
	}

	dtos := make([]dto.TestSummaryDTO, 0, len(testsWithCount))
	for _, twc := range testsWithCount {
		summary := dto.TestSummaryDTO{
			ID:                   twc.Test.ID,
			CourseID:             twc.Test.CourseID,
			CourseTitle:          twc.Test.CourseTitle,
			Title:                twc.Test.Title,
			Description:          twc.Test.Description,
			Kind:                 twc.Test.Kind,
			PassingScore:         twc.Test.PassingScore.InexactFloat64(),
			TimeLimitMinutes:     twc.Test.TimeLimitMinutes,
			QuestionCount:        twc.QuestionCount,
			MaxAttempts:          twc.Test.MaxAttempts,
			EffectiveMaxAttempts: twc.Test.MaxAttempts,
			CreatedAt:            twc.Test.CreatedAt,
		}
		if userID != "" {
			if err := s.fillUsage(ctx, &summary, userID); err != nil {
				return nil, err
			}
		}
		dtos = append(dtos, summary)
	}
	return dtos, nil
}

func (s *userTestService) fillUsage(ctx context.Context, summary *dto.TestSummaryDTO, userID string) error {
	attempts, err := s.attemptRepo.FindAllByTestAndUser(ctx, summary.ID, userID)
	if err != nil {
		return fmt.Errorf("error fetching attempts: %w", err)
	}
	approved, err := s.extraRepo.List(ctx, repository.ExtraAttemptFilter{TestID: summary.ID, UserID: userID, Status: model.ExtraAttemptApproved})
	if err != nil {
		return fmt.Errorf("error fetching extra attempt requests: %w", err)
	}
	summary.EffectiveMaxAttempts = EffectiveCap(summary.MaxAttempts, approved)
	summary.AttemptsUsed = len(attempts)
	summary.AttemptsRemaining = max(summary.EffectiveMaxAttempts-summary.AttemptsUsed, 0)
	for _, a := range attempts {
		if !a.IsCompleted() {
			summary.HasIncompleteAttempt = true
		}
	}
	return nil
}

func (s *userTestService) GetTestDetails(ctx context.Context, testID string) (*dto.TestResponseDTO, error) {
	test, err := s.testRepo.FindByIDWithQuestions(ctx, testID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.NotFound("test", testID)
		}
		log.Error().Err(err).Str("testID", testID).Msg("Failed to get test details from repository")
		return nil, fmt.Errorf("error fetching test %s: %w", testID, err)
	}

	var resp dto.TestResponseDTO
	if err := dto.Copy(&resp, test); err != nil {
		log.Error().Err(err).Msg("Failed to copy Test model to TestResponseDTO")
		return nil, fmt.Errorf("error preparing test details response: %w", err)
	}
	return &resp, nil
}
