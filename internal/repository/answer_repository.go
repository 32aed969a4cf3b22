package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/lshigami/safetycert/internal/model"
)

type AnswerRepository interface {
	CreateBatch(ctx context.Context, answers []model.Answer) error
	FindByAttemptID(ctx context.Context, attemptID string) ([]model.Answer, error)
}

type answerRepository struct {
	db *gorm.DB
}

func NewAnswerRepository(db *gorm.DB) AnswerRepository {
	return &answerRepository{db: db}
}

func (r *answerRepository) CreateBatch(ctx context.Context, answers []model.Answer) error {
	if len(answers) == 0 {
		return nil
	}
	return conn(ctx, r.db).Create(&answers).Error
}

func (r *answerRepository) FindByAttemptID(ctx context.Context, attemptID string) ([]model.Answer, error) {
	var answers []model.Answer
	err := conn(ctx, r.db).Where("test_attempt_id = ?", attemptID).Find(&answers).Error
	return answers, err
}
