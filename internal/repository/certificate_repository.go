package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/lshigami/safetycert/internal/model"
)

type CertificateRepository interface {
	Create(ctx context.Context, cert *model.Certificate) error
	Update(ctx context.Context, cert *model.Certificate) error
	FindByID(ctx context.Context, id string) (*model.Certificate, error)
	FindByProtocolID(ctx context.Context, protocolID string) (*model.Certificate, error)
	List(ctx context.Context, filter CertificateFilter) ([]model.Certificate, error)
	// NextSerial increments and returns the serial counter of the given year.
	NextSerial(ctx context.Context, year int) (int, error)
}

type certificateRepository struct {
	db *gorm.DB
}

func NewCertificateRepository(db *gorm.DB) CertificateRepository {
	return &certificateRepository{db: db}
}

func (r *certificateRepository) Create(ctx context.Context, cert *model.Certificate) error {
	return conn(ctx, r.db).Create(cert).Error
}

func (r *certificateRepository) Update(ctx context.Context, cert *model.Certificate) error {
	return conn(ctx, r.db).Save(cert).Error
}

func (r *certificateRepository) FindByID(ctx context.Context, id string) (*model.Certificate, error) {
	var cert model.Certificate
	if err := conn(ctx, r.db).First(&cert, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &cert, nil
}

func (r *certificateRepository) FindByProtocolID(ctx context.Context, protocolID string) (*model.Certificate, error) {
	var cert model.Certificate
	if err := conn(ctx, r.db).First(&cert, "protocol_id = ?", protocolID).Error; err != nil {
		return nil, translate(err)
	}
	return &cert, nil
}

func (r *certificateRepository) List(ctx context.Context, filter CertificateFilter) ([]model.Certificate, error) {
	query := conn(ctx, r.db).Omit("FileData")
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	var certs []model.Certificate
	err := query.Order("issued_at DESC").Find(&certs).Error
	return certs, err
}

func (r *certificateRepository) NextSerial(ctx context.Context, year int) (int, error) {
	var value int
	err := conn(ctx, r.db).Raw(
		`INSERT INTO certificate_sequences (year, value) VALUES (?, 1)
		 ON CONFLICT (year) DO UPDATE SET value = certificate_sequences.value + 1
		 RETURNING value`, year).Scan(&value).Error
	return value, err
}
