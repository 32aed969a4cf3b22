package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lshigami/safetycert/internal/model"
)

type CommissionRepository interface {
	Upsert(ctx context.Context, member *model.CommissionMember) error
	ListActive(ctx context.Context) ([]model.CommissionMember, error)
}

type commissionRepository struct {
	db *gorm.DB
}

func NewCommissionRepository(db *gorm.DB) CommissionRepository {
	return &commissionRepository{db: db}
}

func (r *commissionRepository) Upsert(ctx context.Context, member *model.CommissionMember) error {
	return conn(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"full_name", "phone", "role", "position", "active", "updated_at"}),
	}).Create(member).Error
}

func (r *commissionRepository) ListActive(ctx context.Context) ([]model.CommissionMember, error) {
	var members []model.CommissionMember
	err := conn(ctx, r.db).Where("active = ?", true).Order("position ASC, user_id ASC").Find(&members).Error
	return members, err
}

type UserProfileRepository interface {
	Upsert(ctx context.Context, profile *model.UserProfile) error
	FindByUserID(ctx context.Context, userID string) (*model.UserProfile, error)
}

type userProfileRepository struct {
	db *gorm.DB
}

func NewUserProfileRepository(db *gorm.DB) UserProfileRepository {
	return &userProfileRepository{db: db}
}

func (r *userProfileRepository) Upsert(ctx context.Context, profile *model.UserProfile) error {
	return conn(ctx, r.db).Clauses(clause.OnConflict{UpdateAll: true}).Create(profile).Error
}

func (r *userProfileRepository) FindByUserID(ctx context.Context, userID string) (*model.UserProfile, error) {
	var profile model.UserProfile
	if err := conn(ctx, r.db).First(&profile, "user_id = ?", userID).Error; err != nil {
		return nil, translate(err)
	}
	return &profile, nil
}
