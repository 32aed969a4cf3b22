package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/lshigami/safetycert/internal/model"
)

type AttemptVideoRepository interface {
	Create(ctx context.Context, video *model.AttemptVideo) error
	FindByAttemptID(ctx context.Context, attemptID string) (*model.AttemptVideo, error)
}

type attemptVideoRepository struct {
	db *gorm.DB
}

func NewAttemptVideoRepository(db *gorm.DB) AttemptVideoRepository {
	return &attemptVideoRepository{db: db}
}

func (r *attemptVideoRepository) Create(ctx context.Context, video *model.AttemptVideo) error {
	return conn(ctx, r.db).Create(video).Error
}

func (r *attemptVideoRepository) FindByAttemptID(ctx context.Context, attemptID string) (*model.AttemptVideo, error) {
	var video model.AttemptVideo
	if err := conn(ctx, r.db).Where("test_attempt_id = ?", attemptID).First(&video).Error; err != nil {
		return nil, translate(err)
	}
	return &video, nil
}
