package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lshigami/safetycert/internal/apperr"
	"github.com/lshigami/safetycert/internal/dto"
	"github.com/lshigami/safetycert/internal/model"
	"github.com/lshigami/safetycert/internal/repository"
)

// SubmissionGrace tolerates clock skew and in-flight requests around an attempt deadline.
const SubmissionGrace = 5 * time.Second

// VideoUpload is the optional recording attached to a submission. The content is opaque.
type VideoUpload struct {
	ContentType string
	Data        []byte
}

type SubmitInput struct {
	AttemptID string
	UserID    string
	// Answers are merged over the stored answers before grading. Ignored once the deadline passed.
	Answers model.AnswerSet
	Video   *VideoUpload
}

// TestSubmissionService completes attempts. Completion is idempotent: a completed
// attempt is returned unchanged.
type TestSubmissionService interface {
	Submit(ctx context.Context, in SubmitInput) (*dto.TestAttemptDTO, error)
	// Expire completes an overdue attempt with the timeout end reason.
	Expire(ctx context.Context, attemptID string) (*dto.TestAttemptDTO, error)
	// ExpireOverdue completes up to limit attempts whose deadline passed before now.
	ExpireOverdue(ctx context.Context, now time.Time, limit int) (int, error)
}

type testSubmissionService struct {
	tx           repository.Transactor
	testRepo     repository.TestRepository
	questionRepo repository.QuestionRepository
	attemptRepo  repository.TestAttemptRepository
	answerRepo   repository.AnswerRepository
	videoRepo    repository.AttemptVideoRepository
	grading      GradingService
	protocols    ProtocolService
	now          func() time.Time
}

func NewTestSubmissionService(
	tx repository.Transactor,
	testRepo repository.TestRepository,
	questionRepo repository.QuestionRepository,
	attemptRepo repository.TestAttemptRepository,
	answerRepo repository.AnswerRepository,
	videoRepo repository.AttemptVideoRepository,
	grading GradingService,
	protocols ProtocolService,
) TestSubmissionService {
	return &testSubmissionService{
		tx:           tx,
		testRepo:     testRepo,
		questionRepo: questionRepo,
		attemptRepo:  attemptRepo,
		answerRepo:   answerRepo,
		videoRepo:    videoRepo,
		grading:      grading,
		protocols:    protocols,
		now:          time.Now,
	}
}

func (s *testSubmissionService) Submit(ctx context.Context, in SubmitInput) (*dto.TestAttemptDTO, error) {
	return s.complete(ctx, in, "")
}

func (s *testSubmissionService) Expire(ctx context.Context, attemptID string) (*dto.TestAttemptDTO, error) {
	return s.complete(ctx, SubmitInput{AttemptID: attemptID}, model.EndReasonTimeout)
}

func (s *testSubmissionService) ExpireOverdue(ctx context.Context, now time.Time, limit int) (int, error) {
	overdue, err := s.attemptRepo.FindExpired(ctx, now.Add(-SubmissionGrace), limit)
	if err != nil {
		return 0, fmt.Errorf("error fetching overdue attempts: %w", err)
	}
	expired := 0
	for _, a := range overdue {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		if _, err := s.Expire(ctx, a.ID); err != nil {
			log.Error().Err(err).Str("attemptID", a.ID).Msg("Failed to expire overdue attempt")
			continue
		}
		expired++
	}
	if expired > 0 {
		log.Info().Int("expired", expired).Msg("Overdue attempts completed by timeout")
	}
	return expired, nil
}

// complete grades outside the transaction, then re-checks the attempt under its row lock
// so that concurrent submits and the sweeper cannot complete it twice.
func (s *testSubmissionService) complete(ctx context.Context, in SubmitInput, reason string) (*dto.TestAttemptDTO, error) {
	attempt, err := s.attemptRepo.FindByID(ctx, in.AttemptID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.NotFound("attempt", in.AttemptID)
		}
		return nil, fmt.Errorf("error fetching attempt %s: %w", in.AttemptID, err)
	}
	if err := checkOwner(attempt, in.UserID); err != nil {
		return nil, err
	}
	if attempt.IsCompleted() {
		log.Debug().Str("attemptID", attempt.ID).Msg("Submit on completed attempt, returning stored result")
		return s.load(ctx, attempt.ID)
	}

	test, err := s.testRepo.FindByID(ctx, attempt.TestID)
	if err != nil {
		return nil, fmt.Errorf("error fetching test %s: %w", attempt.TestID, err)
	}
	test.Questions, err = s.questionRepo.FindByTestID(ctx, attempt.TestID)
	if err != nil {
		return nil, fmt.Errorf("error fetching questions of test %s: %w", attempt.TestID, err)
	}

	now := s.now()
	overdue := attempt.IsOverdue(now.Add(-SubmissionGrace))
	if reason == "" {
		reason = model.EndReasonSubmitted
		if attempt.IsOverdue(now) {
			reason = model.EndReasonTimeout
		}
	}
	answers := attempt.AnswerSet()
	if !overdue && len(in.Answers) > 0 {
		answers = answers.Merge(in.Answers)
	}

	result := s.grading.Grade(ctx, test, answers)

	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		locked, err := s.attemptRepo.FindByIDForUpdate(ctx, attempt.ID)
		if err != nil {
			return err
		}
		if locked.IsCompleted() {
			return nil
		}

		score := result.Score
		passed := result.Passed
		locked.SetAnswers(answers)
		locked.CompletedAt = &now
		locked.Score = &score
		locked.Passed = &passed
		locked.EndReason = reason

		if in.Video != nil && len(in.Video.Data) > 0 {
			video := &model.AttemptVideo{
				TestAttemptID: locked.ID,
				ContentType:   in.Video.ContentType,
				Size:          int64(len(in.Video.Data)),
				Data:          in.Video.Data,
			}
			if err := s.videoRepo.Create(ctx, video); err != nil {
				return fmt.Errorf("failed to store attempt video: %w", err)
			}
			locked.HasVideo = true
		}
		if err := s.attemptRepo.Update(ctx, locked); err != nil {
			return fmt.Errorf("failed to complete attempt: %w", err)
		}

		for i := range result.Answers {
			result.Answers[i].TestAttemptID = locked.ID
		}
		if len(result.Answers) > 0 {
			if err := s.answerRepo.CreateBatch(ctx, result.Answers); err != nil {
				return fmt.Errorf("failed to store graded answers: %w", err)
			}
		}

		if passed && test.IsFinalExam() {
			if _, err := s.protocols.CreateForAttempt(ctx, locked, test); err != nil {
				return fmt.Errorf("failed to create protocol: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("attemptID", attempt.ID).Msg("Attempt completion transaction failed")
		return nil, err
	}

	log.Info().
		Str("attemptID", attempt.ID).
		Str("testID", test.ID).
		Str("score", result.Score.StringFixed(2)).
		Bool("passed", result.Passed).
		Str("endReason", reason).
		Msg("Attempt completed")
	return s.load(ctx, attempt.ID)
}

func (s *testSubmissionService) load(ctx context.Context, attemptID string) (*dto.TestAttemptDTO, error) {
	attempt, err := s.attemptRepo.FindByIDWithDetails(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("error reloading attempt %s: %w", attemptID, err)
	}
	out := dto.NewTestAttemptDTO(attempt, nil)
	if p, err := s.protocols.FindByAttempt(ctx, attemptID); err == nil {
		out.ProtocolID = &p.ID
	}
	return &out, nil
}
