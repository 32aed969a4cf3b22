package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/lshigami/safetycert/internal/model"
)

type TestAttemptRepository interface {
	Create(ctx context.Context, attempt *model.TestAttempt) error
	Update(ctx context.Context, attempt *model.TestAttempt) error
	FindByID(ctx context.Context, id string) (*model.TestAttempt, error)
	// FindByIDForUpdate locks the row until the surrounding transaction ends.
	FindByIDForUpdate(ctx context.Context, id string) (*model.TestAttempt, error)
	FindByIDWithDetails(ctx context.Context, id string) (*model.TestAttempt, error)
	FindAllByTestAndUser(ctx context.Context, testID, userID string) ([]model.TestAttempt, error)
	FindIncomplete(ctx context.Context, testID, userID string) (*model.TestAttempt, error)
	CountByTestAndUser(ctx context.Context, testID, userID string) (int64, error)
	FindExpired(ctx context.Context, now time.Time, limit int) ([]model.TestAttempt, error)
}

type testAttemptRepository struct {
	db *gorm.DB
}

func NewTestAttemptRepository(db *gorm.DB) TestAttemptRepository {
	return &testAttemptRepository{db: db}
}

func (r *testAttemptRepository) Create(ctx context.Context, attempt *model.TestAttempt) error {
	return conn(ctx, r.db).Omit("Test", "GradedAnswers").Create(attempt).Error
}

func (r *testAttemptRepository) Update(ctx context.Context, attempt *model.TestAttempt) error {
	// graded answers are written by AnswerRepository
	return conn(ctx, r.db).Omit("Test", "GradedAnswers").Save(attempt).Error
}

func (r *testAttemptRepository) FindByID(ctx context.Context, id string) (*model.TestAttempt, error) {
	var attempt model.TestAttempt
	if err := conn(ctx, r.db).First(&attempt, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &attempt, nil
}

func (r *testAttemptRepository) FindByIDForUpdate(ctx context.Context, id string) (*model.TestAttempt, error) {
	var attempt model.TestAttempt
	if err := forUpdate(ctx, r.db).First(&attempt, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &attempt, nil
}

func (r *testAttemptRepository) FindByIDWithDetails(ctx context.Context, id string) (*model.TestAttempt, error) {
	var attempt model.TestAttempt
	err := conn(ctx, r.db).
		Preload("Test").
		Preload("GradedAnswers").
		First(&attempt, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &attempt, nil
}

func (r *testAttemptRepository) FindAllByTestAndUser(ctx context.Context, testID, userID string) ([]model.TestAttempt, error) {
	var attempts []model.TestAttempt
	err := conn(ctx, r.db).
		Where("test_id = ? AND user_id = ?", testID, userID).
		Order("started_at DESC").
		Find(&attempts).Error
	return attempts, err
}

func (r *testAttemptRepository) FindIncomplete(ctx context.Context, testID, userID string) (*model.TestAttempt, error) {
	var attempt model.TestAttempt
	err := conn(ctx, r.db).
		Where("test_id = ? AND user_id = ? AND completed_at IS NULL", testID, userID).
		Order("started_at DESC").
		First(&attempt).Error
	if err != nil {
		return nil, translate(err)
	}
	return &attempt, nil
}

func (r *testAttemptRepository) CountByTestAndUser(ctx context.Context, testID, userID string) (int64, error) {
	var count int64
	err := conn(ctx, r.db).Model(&model.TestAttempt{}).
		Where("test_id = ? AND user_id = ?", testID, userID).
		Count(&count).Error
	return count, err
}

func (r *testAttemptRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]model.TestAttempt, error) {
	var attempts []model.TestAttempt
	err := conn(ctx, r.db).
		Where("completed_at IS NULL AND expires_at IS NOT NULL AND expires_at <= ?", now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&attempts).Error
	return attempts, err
}
