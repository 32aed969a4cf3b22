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
	"github.com/lshigami/safetycert/internal/otp"
	"github.com/lshigami/safetycert/internal/repository"
)

type AttemptService interface {
	// Start returns the caller's incomplete attempt for the test, or creates one when the
	// effective attempt cap allows it.
	Start(ctx context.Context, testID, userID string) (*dto.TestAttemptDTO, error)
	// SaveAnswers merges answers into an in-progress attempt.
	SaveAnswers(ctx context.Context, attemptID, userID string, answers model.AnswerSet) (*dto.TestAttemptDTO, error)
	GetAttempt(ctx context.Context, attemptID, userID string) (*dto.TestAttemptDTO, error)
	ListAttempts(ctx context.Context, testID, userID string) ([]dto.TestAttemptDTO, error)
	RequestCompletionCode(ctx context.Context, attemptID, userID string) (*dto.OTPIssuedResponse, error)
	ConfirmCompletion(ctx context.Context, attemptID, userID, code string) (*dto.TestAttemptDTO, error)
}

type attemptService struct {
	tx          repository.Transactor
	testRepo    repository.TestRepository
	attemptRepo repository.TestAttemptRepository
	extraRepo   repository.ExtraAttemptRequestRepository
	profileRepo repository.UserProfileRepository
	submission  TestSubmissionService
	otp         otp.Gateway
	now         func() time.Time
}

func NewAttemptService(
	tx repository.Transactor,
	testRepo repository.TestRepository,
	attemptRepo repository.TestAttemptRepository,
	extraRepo repository.ExtraAttemptRequestRepository,
	profileRepo repository.UserProfileRepository,
	submission TestSubmissionService,
	otpGateway otp.Gateway,
) AttemptService {
	return &attemptService{
		tx:          tx,
		testRepo:    testRepo,
		attemptRepo: attemptRepo,
		extraRepo:   extraRepo,
		profileRepo: profileRepo,
		submission:  submission,
		otp:         otpGateway,
		now:         time.Now,
	}
}

func (s *attemptService) Start(ctx context.Context, testID, userID string) (*dto.TestAttemptDTO, error) {
	test, err := s.testRepo.FindByID(ctx, testID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.NotFound("test", testID)
		}
		return nil, fmt.Errorf("error fetching test %s: %w", testID, err)
	}

	// an abandoned timed attempt past its deadline is closed first so it counts as used
	if open, err := s.attemptRepo.FindIncomplete(ctx, testID, userID); err == nil && open.IsOverdue(s.now().Add(-SubmissionGrace)) {
		if _, err := s.submission.Expire(ctx, open.ID); err != nil {
			return nil, err
		}
	}

	var (
		attempt *model.TestAttempt
		resumed bool
	)
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		existing, err := s.attemptRepo.FindIncomplete(ctx, testID, userID)
		if err == nil {
			attempt, resumed = existing, true
			return nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}

		used, err := s.attemptRepo.CountByTestAndUser(ctx, testID, userID)
		if err != nil {
			return err
		}
		approved, err := s.extraRepo.List(ctx, repository.ExtraAttemptFilter{TestID: testID, UserID: userID, Status: model.ExtraAttemptApproved})
		if err != nil {
			return err
		}
		limit := EffectiveCap(test.MaxAttempts, approved)
		if int(used) >= limit {
			return &apperr.AttemptLimitExceeded{Cap: limit, Used: int(used)}
		}

		now := s.now()
		attempt = &model.TestAttempt{TestID: testID, UserID: userID, StartedAt: now}
		attempt.SetAnswers(model.AnswerSet{})
		if d := test.TimeLimit(); d > 0 {
			expiresAt := now.Add(d)
			attempt.ExpiresAt = &expiresAt
		}
		return s.attemptRepo.Create(ctx, attempt)
	})
	if err != nil {
		if apperr.IsAttemptLimit(err) {
			log.Info().Str("testID", testID).Str("userID", userID).Err(err).Msg("Attempt start refused")
			return nil, err
		}
		// a concurrent start won the unique index on open attempts
		if existing, ferr := s.attemptRepo.FindIncomplete(ctx, testID, userID); ferr == nil {
			attempt, resumed = existing, true
		} else {
			log.Error().Err(err).Str("testID", testID).Str("userID", userID).Msg("Failed to start attempt")
			return nil, fmt.Errorf("failed to start attempt: %w", err)
		}
	}

	log.Info().Str("attemptID", attempt.ID).Str("testID", testID).Str("userID", userID).Bool("resumed", resumed).Msg("Attempt started")
	out := dto.NewTestAttemptDTO(attempt, test)
	return &out, nil
}

func (s *attemptService) SaveAnswers(ctx context.Context, attemptID, userID string, answers model.AnswerSet) (*dto.TestAttemptDTO, error) {
	for qid := range answers {
		if qid == "" {
			return nil, apperr.Validation("answers", "question id cannot be empty")
		}
	}

	var (
		saved   *model.TestAttempt
		overdue bool
	)
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		attempt, err := s.attemptRepo.FindByIDForUpdate(ctx, attemptID)
		if err != nil {
			return err
		}
		if err := checkOwner(attempt, userID); err != nil {
			return err
		}
		if attempt.IsCompleted() {
			return apperr.Conflict("attempt %s is already completed", attemptID)
		}
		if attempt.IsOverdue(s.now().Add(-SubmissionGrace)) {
			overdue = true
			return nil
		}
		attempt.SetAnswers(attempt.AnswerSet().Merge(answers))
		if err := s.attemptRepo.Update(ctx, attempt); err != nil {
			return err
		}
		saved = attempt
		return nil
	})
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.NotFound("attempt", attemptID)
		}
		return nil, err
	}
	if overdue {
		if _, err := s.submission.Expire(ctx, attemptID); err != nil {
			return nil, err
		}
		return nil, apperr.Conflict("attempt %s has run out of time", attemptID)
	}

	log.Debug().Str("attemptID", attemptID).Int("answers", len(saved.AnswerSet())).Msg("Answers saved")
	out := dto.NewTestAttemptDTO(saved, nil)
	return &out, nil
}

func (s *attemptService) GetAttempt(ctx context.Context, attemptID, userID string) (*dto.TestAttemptDTO, error) {
	attempt, err := s.attemptRepo.FindByIDWithDetails(ctx, attemptID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.NotFound("attempt", attemptID)
		}
		return nil, fmt.Errorf("error fetching attempt %s: %w", attemptID, err)
	}
	if err := checkOwner(attempt, userID); err != nil {
		return nil, err
	}
	out := dto.NewTestAttemptDTO(attempt, nil)
	return &out, nil
}

func (s *attemptService) ListAttempts(ctx context.Context, testID, userID string) ([]dto.TestAttemptDTO, error) {
	test, err := s.testRepo.FindByID(ctx, testID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.NotFound("test", testID)
		}
		return nil, err
	}
	attempts, err := s.attemptRepo.FindAllByTestAndUser(ctx, testID, userID)
	if err != nil {
		log.Error().Err(err).Str("testID", testID).Str("userID", userID).Msg("Failed to list attempts")
		return nil, fmt.Errorf("error fetching attempts: %w", err)
	}
	dtos := make([]dto.TestAttemptDTO, 0, len(attempts))
	for i := range attempts {
		dtos = append(dtos, dto.NewTestAttemptDTO(&attempts[i], test))
	}
	return dtos, nil
}

// completionPhone loads a passed attempt of userID and the phone the confirmation code goes to.
func (s *attemptService) completionPhone(ctx context.Context, attemptID, userID string) (*model.TestAttempt, string, error) {
	attempt, err := s.attemptRepo.FindByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, "", apperr.NotFound("attempt", attemptID)
		}
		return nil, "", err
	}
	if err := checkOwner(attempt, userID); err != nil {
		return nil, "", err
	}
	if !attempt.IsCompleted() || !attempt.IsPassed() {
		return nil, "", apperr.Conflict("attempt %s is not a passed, completed attempt", attemptID)
	}
	profile, err := s.profileRepo.FindByUserID(ctx, attempt.UserID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, "", err
	}
	if profile == nil || profile.Phone == "" {
		return nil, "", apperr.Validation("phone", "no phone number on file for this user")
	}
	return attempt, profile.Phone, nil
}

func (s *attemptService) RequestCompletionCode(ctx context.Context, attemptID, userID string) (*dto.OTPIssuedResponse, error) {
	attempt, phone, err := s.completionPhone(ctx, attemptID, userID)
	if err != nil {
		return nil, err
	}
	if attempt.CompletionConfirmedAt != nil {
		return nil, apperr.Conflict("completion of attempt %s is already confirmed", attemptID)
	}
	issued, err := s.otp.RequestCode(ctx, phone, otp.Scope(otp.PurposeAttemptCompletion, attempt.ID))
	if err != nil {
		return nil, err
	}
	return &dto.OTPIssuedResponse{ExpiresAt: issued.ExpiresAt, Phone: otp.MaskPhone(phone), Code: issued.Code}, nil
}

func (s *attemptService) ConfirmCompletion(ctx context.Context, attemptID, userID, code string) (*dto.TestAttemptDTO, error) {
	attempt, phone, err := s.completionPhone(ctx, attemptID, userID)
	if err != nil {
		return nil, err
	}
	if attempt.CompletionConfirmedAt == nil {
		if err := s.otp.VerifyCode(ctx, phone, code, otp.Scope(otp.PurposeAttemptCompletion, attempt.ID)); err != nil {
			return nil, err
		}
		err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
			locked, err := s.attemptRepo.FindByIDForUpdate(ctx, attemptID)
			if err != nil {
				return err
			}
			if locked.CompletionConfirmedAt != nil {
				return nil
			}
			now := s.now()
			locked.CompletionConfirmedAt = &now
			return s.attemptRepo.Update(ctx, locked)
		})
		if err != nil {
			log.Error().Err(err).Str("attemptID", attemptID).Msg("Failed to store completion confirmation")
			return nil, fmt.Errorf("failed to confirm completion: %w", err)
		}
		log.Info().Str("attemptID", attemptID).Msg("Attempt completion confirmed")
	}
	return s.GetAttempt(ctx, attemptID, userID)
}

// checkOwner passes when userID is empty (privileged caller) or owns the attempt.
func checkOwner(attempt *model.TestAttempt, userID string) error {
	if userID != "" && attempt.UserID != userID {
		return fmt.Errorf("attempt %s: %w", attempt.ID, apperr.ErrForbidden)
	}
	return nil
}
