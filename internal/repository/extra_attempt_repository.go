package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/lshigami/safetycert/internal/model"
)

type ExtraAttemptRequestRepository interface {
	Create(ctx context.Context, req *model.ExtraAttemptRequest) error
	Update(ctx context.Context, req *model.ExtraAttemptRequest) error
	FindByID(ctx context.Context, id string) (*model.ExtraAttemptRequest, error)
	FindByIDForUpdate(ctx context.Context, id string) (*model.ExtraAttemptRequest, error)
	// List returns matching requests, newest first.
	List(ctx context.Context, filter ExtraAttemptFilter) ([]model.ExtraAttemptRequest, error)
}

type extraAttemptRequestRepository struct {
	db *gorm.DB
}

func NewExtraAttemptRequestRepository(db *gorm.DB) ExtraAttemptRequestRepository {
	return &extraAttemptRequestRepository{db: db}
}

func (r *extraAttemptRequestRepository) Create(ctx context.Context, req *model.ExtraAttemptRequest) error {
	return conn(ctx, r.db).Create(req).Error
}

func (r *extraAttemptRequestRepository) Update(ctx context.Context, req *model.ExtraAttemptRequest) error {
	return conn(ctx, r.db).Save(req).Error
}

func (r *extraAttemptRequestRepository) FindByID(ctx context.Context, id string) (*model.ExtraAttemptRequest, error) {
	var req model.ExtraAttemptRequest
	if err := conn(ctx, r.db).First(&req, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &req, nil
}

func (r *extraAttemptRequestRepository) FindByIDForUpdate(ctx context.Context, id string) (*model.ExtraAttemptRequest, error) {
	var req model.ExtraAttemptRequest
	if err := forUpdate(ctx, r.db).First(&req, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &req, nil
}

func (r *extraAttemptRequestRepository) List(ctx context.Context, filter ExtraAttemptFilter) ([]model.ExtraAttemptRequest, error) {
	query := conn(ctx, r.db).Model(&model.ExtraAttemptRequest{})
	if filter.TestID != "" {
		query = query.Where("test_id = ?", filter.TestID)
	}
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	var reqs []model.ExtraAttemptRequest
	err := query.Order("created_at DESC").Find(&reqs).Error
	return reqs, err
}
