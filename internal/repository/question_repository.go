package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/lshigami/safetycert/internal/model"
)

type QuestionRepository interface {
	FindByTestID(ctx context.Context, testID string) ([]model.Question, error)
}

type questionRepository struct {
	db *gorm.DB
}

func NewQuestionRepository(db *gorm.DB) QuestionRepository {
	return &questionRepository{db: db}
}

func (r *questionRepository) FindByTestID(ctx context.Context, testID string) ([]model.Question, error) {
	var questions []model.Question
	err := conn(ctx, r.db).
		Preload("Options").
		Where("test_id = ?", testID).
		Order("order_in_test ASC").
		Find(&questions).Error
	return questions, err
}
