package repository

import "go.uber.org/fx"

// Module provides the gorm-backed repositories. Requires a *gorm.DB.
var Module = fx.Options(
	fx.Provide(
		NewTransactor,
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
