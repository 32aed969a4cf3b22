package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/lshigami/safetycert/internal/model"
)

type ProtocolRepository interface {
	// Create inserts the protocol together with its signature slots.
	Create(ctx context.Context, protocol *model.Protocol) error
	// Update saves protocol columns only. Signatures go through UpdateSignature.
	Update(ctx context.Context, protocol *model.Protocol) error
	UpdateSignature(ctx context.Context, sig *model.Signature) error
	// ReplaceSignatures drops every signature slot of the protocol and inserts sigs.
	ReplaceSignatures(ctx context.Context, protocolID string, sigs []model.Signature) error
	FindByID(ctx context.Context, id string) (*model.Protocol, error)
	FindByIDForUpdate(ctx context.Context, id string) (*model.Protocol, error)
	FindByAttemptID(ctx context.Context, attemptID string) (*model.Protocol, error)
	List(ctx context.Context, filter ProtocolFilter) ([]model.Protocol, error)
	FindSignedWithoutCertificate(ctx context.Context, limit int) ([]model.Protocol, error)
}

type protocolRepository struct {
	db *gorm.DB
}

func NewProtocolRepository(db *gorm.DB) ProtocolRepository {
	return &protocolRepository{db: db}
}

func preloadSignatures(db *gorm.DB) *gorm.DB {
	return db.Preload("Signatures", func(db *gorm.DB) *gorm.DB {
		return db.Order("signatures.position ASC")
	})
}

func (r *protocolRepository) Create(ctx context.Context, protocol *model.Protocol) error {
	return conn(ctx, r.db).Create(protocol).Error
}

func (r *protocolRepository) Update(ctx context.Context, protocol *model.Protocol) error {
	return conn(ctx, r.db).Omit("Signatures").Save(protocol).Error
}

func (r *protocolRepository) UpdateSignature(ctx context.Context, sig *model.Signature) error {
	return conn(ctx, r.db).Save(sig).Error
}

func (r *protocolRepository) ReplaceSignatures(ctx context.Context, protocolID string, sigs []model.Signature) error {
	db := conn(ctx, r.db)
	if err := db.Where("protocol_id = ?", protocolID).Delete(&model.Signature{}).Error; err != nil {
		return err
	}
	if len(sigs) == 0 {
		return nil
	}
	for i := range sigs {
		sigs[i].ProtocolID = protocolID
	}
	return db.Create(&sigs).Error
}

func (r *protocolRepository) FindByID(ctx context.Context, id string) (*model.Protocol, error) {
	var protocol model.Protocol
	if err := preloadSignatures(conn(ctx, r.db)).First(&protocol, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &protocol, nil
}

func (r *protocolRepository) FindByIDForUpdate(ctx context.Context, id string) (*model.Protocol, error) {
	var protocol model.Protocol
	// lock the protocol row first; signatures are read after the lock is held
	if err := forUpdate(ctx, r.db).First(&protocol, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	err := conn(ctx, r.db).
		Where("protocol_id = ?", protocol.ID).
		Order("position ASC").
		Find(&protocol.Signatures).Error
	if err != nil {
		return nil, err
	}
	return &protocol, nil
}

func (r *protocolRepository) FindByAttemptID(ctx context.Context, attemptID string) (*model.Protocol, error) {
	var protocol model.Protocol
	if err := preloadSignatures(conn(ctx, r.db)).First(&protocol, "attempt_id = ?", attemptID).Error; err != nil {
		return nil, translate(err)
	}
	return &protocol, nil
}

func (r *protocolRepository) List(ctx context.Context, filter ProtocolFilter) ([]model.Protocol, error) {
	query := preloadSignatures(conn(ctx, r.db)).Model(&model.Protocol{})
	if filter.UserID != "" {
		query = query.Where("protocols.user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		query = query.Where("protocols.status = ?", filter.Status)
	}
	if filter.SignerID != "" {
		query = query.Where("EXISTS (SELECT 1 FROM signatures s WHERE s.protocol_id = protocols.id AND s.signer_id = ?)", filter.SignerID)
	}
	var protocols []model.Protocol
	err := query.Order("protocols.created_at DESC").Find(&protocols).Error
	return protocols, err
}

func (r *protocolRepository) FindSignedWithoutCertificate(ctx context.Context, limit int) ([]model.Protocol, error) {
	var protocols []model.Protocol
	err := conn(ctx, r.db).
		Where("status = ?", model.ProtocolSignedChairman).
		Where("NOT EXISTS (SELECT 1 FROM certificates c WHERE c.protocol_id = protocols.id)").
		Order("updated_at ASC").
		Limit(limit).
		Find(&protocols).Error
	return protocols, err
}
