package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lshigami/safetycert/internal/apperr"
	"github.com/lshigami/safetycert/internal/dto"
	"github.com/lshigami/safetycert/internal/model"
	"github.com/lshigami/safetycert/internal/repository"
	"github.com/lshigami/safetycert/internal/validation"
)

const defaultRejectionResponse = "Request rejected by administrator"

type ExtraAttemptService interface {
	Create(ctx context.Context, testID, userID string, req dto.ExtraAttemptCreateRequest) (*dto.ExtraAttemptRequestDTO, error)
	List(ctx context.Context, filter repository.ExtraAttemptFilter) ([]dto.ExtraAttemptRequestDTO, error)
	// Current returns the latest pending request of the user for the test, else the latest rejected one.
	Current(ctx context.Context, testID, userID string) (*dto.ExtraAttemptRequestDTO, error)
	Approve(ctx context.Context, requestID, adminID string, req dto.ExtraAttemptDecisionRequest) (*dto.ExtraAttemptRequestDTO, error)
	Reject(ctx context.Context, requestID, adminID string, req dto.ExtraAttemptDecisionRequest) (*dto.ExtraAttemptRequestDTO, error)
}

type extraAttemptService struct {
	tx        repository.Transactor
	testRepo  repository.TestRepository
	extraRepo repository.ExtraAttemptRequestRepository
	now       func() time.Time
}

func NewExtraAttemptService(
	tx repository.Transactor,
	testRepo repository.TestRepository,
	extraRepo repository.ExtraAttemptRequestRepository,
) ExtraAttemptService {
	return &extraAttemptService{
		tx:        tx,
		testRepo:  testRepo,
		extraRepo: extraRepo,
		now:       time.Now,
	}
}

func (s *extraAttemptService) Create(ctx context.Context, testID, userID string, req dto.ExtraAttemptCreateRequest) (*dto.ExtraAttemptRequestDTO, error) {
	if err := validation.Check(req); err != nil {
		return nil, err
	}
	if _, err := s.testRepo.FindByID(ctx, testID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.NotFound("test", testID)
		}
		return nil, err
	}

	request := &model.ExtraAttemptRequest{
		TestID: testID,
		UserID: userID,
		Reason: strings.TrimSpace(req.Reason),
		Status: model.ExtraAttemptPending,
	}
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		all, err := s.extraRepo.List(ctx, repository.ExtraAttemptFilter{TestID: testID, UserID: userID})
		if err != nil {
			return err
		}
		for _, r := range all {
			if r.Status == model.ExtraAttemptPending {
				return apperr.Conflict("a request for test %s is already pending", testID)
			}
		}
		return s.extraRepo.Create(ctx, request)
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("requestID", request.ID).Str("testID", testID).Str("userID", userID).Msg("Extra attempt requested")
	return toExtraAttemptDTO(request), nil
}

func (s *extraAttemptService) List(ctx context.Context, filter repository.ExtraAttemptFilter) ([]dto.ExtraAttemptRequestDTO, error) {
	switch filter.Status {
	case "", model.ExtraAttemptPending, model.ExtraAttemptApproved, model.ExtraAttemptRejected:
	default:
		return nil, apperr.Validation("status", "must be one of pending approved rejected")
	}
	requests, err := s.extraRepo.List(ctx, filter)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list extra attempt requests")
		return nil, fmt.Errorf("error fetching extra attempt requests: %w", err)
	}
	out := make([]dto.ExtraAttemptRequestDTO, 0, len(requests))
	for i := range requests {
		out = append(out, *toExtraAttemptDTO(&requests[i]))
	}
	return out, nil
}

func (s *extraAttemptService) Current(ctx context.Context, testID, userID string) (*dto.ExtraAttemptRequestDTO, error) {
	requests, err := s.extraRepo.List(ctx, repository.ExtraAttemptFilter{TestID: testID, UserID: userID})
	if err != nil {
		return nil, err
	}
	if r := CurrentRequest(requests); r != nil {
		return toExtraAttemptDTO(r), nil
	}
	return nil, apperr.NotFound("extra attempt request for test", testID)
}

// CurrentRequest picks the request shown to a student from a newest-first list.
func CurrentRequest(newestFirst []model.ExtraAttemptRequest) *model.ExtraAttemptRequest {
	var rejected *model.ExtraAttemptRequest
	for i := range newestFirst {
		switch newestFirst[i].Status {
		case model.ExtraAttemptPending:
			return &newestFirst[i]
		case model.ExtraAttemptRejected:
			if rejected == nil {
				rejected = &newestFirst[i]
			}
		}
	}
	return rejected
}

func (s *extraAttemptService) Approve(ctx context.Context, requestID, adminID string, req dto.ExtraAttemptDecisionRequest) (*dto.ExtraAttemptRequestDTO, error) {
	return s.decide(ctx, requestID, adminID, model.ExtraAttemptApproved, strings.TrimSpace(req.AdminResponse))
}

func (s *extraAttemptService) Reject(ctx context.Context, requestID, adminID string, req dto.ExtraAttemptDecisionRequest) (*dto.ExtraAttemptRequestDTO, error) {
	response := strings.TrimSpace(req.AdminResponse)
	if response == "" {
		response = defaultRejectionResponse
	}
	return s.decide(ctx, requestID, adminID, model.ExtraAttemptRejected, response)
}

func (s *extraAttemptService) decide(ctx context.Context, requestID, adminID, status, response string) (*dto.ExtraAttemptRequestDTO, error) {
	var decided *model.ExtraAttemptRequest
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		r, err := s.extraRepo.FindByIDForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if r.IsResolved() {
			return apperr.Conflict("request %s is already %s", requestID, r.Status)
		}
		now := s.now()
		r.Status = status
		r.ProcessedBy = &adminID
		r.ProcessedAt = &now
		if response != "" {
			r.AdminResponse = &response
		}
		decided = r
		return s.extraRepo.Update(ctx, r)
	})
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.NotFound("extra attempt request", requestID)
		}
		return nil, err
	}
	log.Info().Str("requestID", requestID).Str("adminID", adminID).Str("status", status).Msg("Extra attempt request processed")
	return toExtraAttemptDTO(decided), nil
}

func toExtraAttemptDTO(r *model.ExtraAttemptRequest) *dto.ExtraAttemptRequestDTO {
	return &dto.ExtraAttemptRequestDTO{
		ID:            r.ID,
		TestID:        r.TestID,
		UserID:        r.UserID,
		Reason:        r.Reason,
		Status:        r.Status,
		AdminResponse: r.AdminResponse,
		ProcessedBy:   r.ProcessedBy,
		ProcessedAt:   r.ProcessedAt,
		CreatedAt:     r.CreatedAt,
	}
}
