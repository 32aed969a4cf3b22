package inmem

import (
	"go.uber.org/fx"

	"github.com/lshigami/safetycert/internal/repository"
)

// Module provides every repository backed by one shared Store.
var Module = fx.Options(
	fx.Provide(
		NewStore,
		func(s *Store) repository.Transactor { return s },
		NewTestRepository,
		NewQuestionRepository,
		NewTestAttemptRepository,
		NewAnswerRepository,
		NewAttemptVideoRepository,
		NewExtraAttemptRequestRepository,
		NewProtocolRepository,
		NewCertificateRepository,
		NewCommissionRepository,
		NewUserProfileRepository,
		NewOTPRepository,
	),
)

// Repositories bundles the repositories of one Store for direct construction.
type Repositories struct {
	Store         *Store
	Tests         repository.TestRepository
	Questions     repository.QuestionRepository
	Attempts      repository.TestAttemptRepository
	Answers       repository.AnswerRepository
	Videos        repository.AttemptVideoRepository
	ExtraAttempts repository.ExtraAttemptRequestRepository
	Protocols     repository.ProtocolRepository
	Certificates  repository.CertificateRepository
	Commission    repository.CommissionRepository
	Profiles      repository.UserProfileRepository
	OTP           repository.OTPRepository
}

func NewRepositories() *Repositories {
	s := NewStore()
	return &Repositories{
		Store:         s,
		Tests:         NewTestRepository(s),
		Questions:     NewQuestionRepository(s),
		Attempts:      NewTestAttemptRepository(s),
		Answers:       NewAnswerRepository(s),
		Videos:        NewAttemptVideoRepository(s),
		ExtraAttempts: NewExtraAttemptRequestRepository(s),
		Protocols:     NewProtocolRepository(s),
		Certificates:  NewCertificateRepository(s),
		Commission:    NewCommissionRepository(s),
		Profiles:      NewUserProfileRepository(s),
		OTP:           NewOTPRepository(s),
	}
}
