package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/lshigami/safetycert/internal/model"
)

type OTPRepository interface {
	Create(ctx context.Context, code *model.OTPCode) error
	Update(ctx context.Context, code *model.OTPCode) error
	// InvalidateActive marks every unconsumed code of (phone, purpose) invalid.
	InvalidateActive(ctx context.Context, phone, purpose string, at time.Time) error
	FindLatestActive(ctx context.Context, phone, purpose string) (*model.OTPCode, error)
}

type otpRepository struct {
	db *gorm.DB
}

func NewOTPRepository(db *gorm.DB) OTPRepository {
	return &otpRepository{db: db}
}

func (r *otpRepository) Create(ctx context.Context, code *model.OTPCode) error {
	return conn(ctx, r.db).Create(code).Error
}

func (r *otpRepository) Update(ctx context.Context, code *model.OTPCode) error {
	return conn(ctx, r.db).Save(code).Error
}

func (r *otpRepository) InvalidateActive(ctx context.Context, phone, purpose string, at time.Time) error {
	return conn(ctx, r.db).Model(&model.OTPCode{}).
		Where("phone = ? AND purpose = ? AND consumed_at IS NULL AND invalidated_at IS NULL", phone, purpose).
		Update("invalidated_at", at).Error
}

func (r *otpRepository) FindLatestActive(ctx context.Context, phone, purpose string) (*model.OTPCode, error) {
	var code model.OTPCode
	err := forUpdate(ctx, r.db).
		Where("phone = ? AND purpose = ? AND consumed_at IS NULL AND invalidated_at IS NULL", phone, purpose).
		Order("created_at DESC").
		First(&code).Error
	if err != nil {
		return nil, translate(err)
	}
	return &code, nil
}
