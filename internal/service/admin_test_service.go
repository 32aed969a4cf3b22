package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/lshigami/safetycert/internal/apperr"
	"github.com/lshigami/safetycert/internal/dto"
	"github.com/lshigami/safetycert/internal/model"
	"github.com/lshigami/safetycert/internal/repository"
)

type AdminTestService interface {
	CreateTest(ctx context.Context, req dto.TestCreateDTO) (*dto.TestResponseDTO, error)
	UpsertCommissionMember(ctx context.Context, req dto.CommissionMemberDTO) (*dto.CommissionMemberResponseDTO, error)
	ListCommission(ctx context.Context) ([]dto.CommissionMemberResponseDTO, error)
	UpsertUserProfile(ctx context.Context, req dto.UserProfileDTO) error
}

type adminTestService struct {
	testRepo       repository.TestRepository
	commissionRepo repository.CommissionRepository
	profileRepo    repository.UserProfileRepository
}

func NewAdminTestService(
	testRepo repository.TestRepository,
	commissionRepo repository.CommissionRepository,
	profileRepo repository.UserProfileRepository,
) AdminTestService {
	return &adminTestService{testRepo: testRepo, commissionRepo: commissionRepo, profileRepo: profileRepo}
}

func (s *adminTestService) CreateTest(ctx context.Context, req dto.TestCreateDTO) (*dto.TestResponseDTO, error) {
	if len(req.Questions) == 0 {
		return nil, apperr.Validation("questions", "a test needs at least one question")
	}
	if req.MaxAttempts < 1 {
		return nil, apperr.Validation("max_attempts", "must be at least 1")
	}

	orderMap := make(map[int]bool)
	questions := make([]model.Question, 0, len(req.Questions))
	for _, qDto := range req.Questions {
		if orderMap[qDto.OrderInTest] {
			return nil, apperr.Validation("questions", fmt.Sprintf("duplicate order_in_test %d", qDto.OrderInTest))
		}
		orderMap[qDto.OrderInTest] = true

		correct := 0
		for _, o := range qDto.Options {
			if o.IsCorrect {
				correct++
			}
		}
		switch qDto.Type {
		case model.QuestionTypeOpen:
			if len(qDto.Options) > 0 {
				return nil, apperr.Validation("questions", fmt.Sprintf("open question %d cannot have options", qDto.OrderInTest))
			}
		case model.QuestionTypeSingleChoice:
			if len(qDto.Options) < 2 || correct != 1 {
				return nil, apperr.Validation("questions", fmt.Sprintf("single choice question %d needs two or more options and exactly one correct", qDto.OrderInTest))
			}
		case model.QuestionTypeMultipleChoice:
			if len(qDto.Options) < 2 || correct == 0 {
				return nil, apperr.Validation("questions", fmt.Sprintf("multiple choice question %d needs two or more options and at least one correct", qDto.OrderInTest))
			}
		default:
			return nil, apperr.Validation("questions", fmt.Sprintf("unknown question type %q", qDto.Type))
		}

		weight := qDto.Weight
		if weight <= 0 {
			weight = 1
		}
		q := model.Question{
			Prompt:      qDto.Prompt,
			Type:        qDto.Type,
			Weight:      weight,
			OrderInTest: qDto.OrderInTest,
		}
		for i, o := range qDto.Options {
			q.Options = append(q.Options, model.Option{Text: o.Text, IsCorrect: o.IsCorrect, Order: i + 1})
		}
		questions = append(questions, q)
	}

	kind := req.Kind
	if kind == "" {
		kind = model.TestKindQuiz
	}
	testModel := model.Test{
		CourseID:                  req.CourseID,
		CourseTitle:               req.CourseTitle,
		Title:                     req.Title,
		Description:               req.Description,
		Kind:                      kind,
		MaxAttempts:               req.MaxAttempts,
		PassingScore:              decimal.NewFromFloat(req.PassingScore).Round(2),
		TimeLimitMinutes:          req.TimeLimitMinutes,
		CertificateValidityMonths: req.CertificateValidityMonths,
		Questions:                 questions,
	}
	if err := s.testRepo.Create(ctx, &testModel); err != nil {
		log.Error().Err(err).Msg("Failed to create test in database")
		return nil, fmt.Errorf("database error creating test: %w", err)
	}

	created, err := s.testRepo.FindByIDWithQuestions(ctx, testModel.ID)
	if err != nil {
		log.Error().Err(err).Str("testID", testModel.ID).Msg("Failed to retrieve newly created test with questions for response")
		created = &testModel
	}
	var resp dto.TestResponseDTO
	if err := dto.Copy(&resp, created); err != nil {
		log.Error().Err(err).Msg("Failed to copy created Test model to TestResponseDTO")
		return nil, fmt.Errorf("error preparing response data: %w", err)
	}
	log.Info().Str("testID", created.ID).Str("kind", created.Kind).Int("questions", len(created.Questions)).Msg("Test created")
	return &resp, nil
}

func (s *adminTestService) UpsertCommissionMember(ctx context.Context, req dto.CommissionMemberDTO) (*dto.CommissionMemberResponseDTO, error) {
	if strings.TrimSpace(req.Phone) == "" {
		return nil, apperr.Validation("phone", "this field cannot be blank")
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	member := &model.CommissionMember{
		UserID:   req.UserID,
		FullName: req.FullName,
		Phone:    strings.TrimSpace(req.Phone),
		Role:     req.Role,
		Position: req.Position,
		Active:   active,
	}
	if err := s.commissionRepo.Upsert(ctx, member); err != nil {
		log.Error().Err(err).Str("userID", req.UserID).Msg("Failed to save commission member")
		return nil, fmt.Errorf("error saving commission member: %w", err)
	}
	return toCommissionMemberDTO(member), nil
}

func (s *adminTestService) ListCommission(ctx context.Context) ([]dto.CommissionMemberResponseDTO, error) {
	members, err := s.commissionRepo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("error fetching commission: %w", err)
	}
	out := make([]dto.CommissionMemberResponseDTO, 0, len(members))
	for i := range members {
		out = append(out, *toCommissionMemberDTO(&members[i]))
	}
	return out, nil
}

func (s *adminTestService) UpsertUserProfile(ctx context.Context, req dto.UserProfileDTO) error {
	profile := &model.UserProfile{
		UserID:   req.UserID,
		FullName: req.FullName,
		IIN:      req.IIN,
		Phone:    strings.TrimSpace(req.Phone),
		Email:    req.Email,
	}
	if err := s.profileRepo.Upsert(ctx, profile); err != nil {
		log.Error().Err(err).Str("userID", req.UserID).Msg("Failed to save user profile")
		return fmt.Errorf("error saving user profile: %w", err)
	}
	return nil
}

func toCommissionMemberDTO(m *model.CommissionMember) *dto.CommissionMemberResponseDTO {
	return &dto.CommissionMemberResponseDTO{
		ID:       m.ID,
		UserID:   m.UserID,
		FullName: m.FullName,
		Role:     m.Role,
		Position: m.Position,
		Active:   m.Active,
	}
}
