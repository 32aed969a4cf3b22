package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lshigami/safetycert/internal/apperr"
	"github.com/lshigami/safetycert/internal/dto"
	"github.com/lshigami/safetycert/internal/model"
	"github.com/lshigami/safetycert/internal/otp"
	"github.com/lshigami/safetycert/internal/repository"
)

type ProtocolService interface {
	// CreateForAttempt creates the protocol of a passed final-exam attempt. Calling it again
	// for the same attempt returns the existing protocol unchanged.
	CreateForAttempt(ctx context.Context, attempt *model.TestAttempt, test *model.Test) (*model.Protocol, error)
	FindByAttempt(ctx context.Context, attemptID string) (*model.Protocol, error)
	List(ctx context.Context, filter repository.ProtocolFilter) ([]dto.ProtocolDTO, error)
	Get(ctx context.Context, protocolID string) (*dto.ProtocolDTO, error)
	// RequestSignature sends a signature code to the phone of the signer's slot.
	RequestSignature(ctx context.Context, protocolID, signerID string) (*dto.OTPIssuedResponse, error)
	// Sign verifies the code and records the signer's signature. A failed code leaves the protocol untouched.
	Sign(ctx context.Context, protocolID, signerID, code string) (*dto.ProtocolDTO, error)
	Reject(ctx context.Context, protocolID, signerID, reason string) (*dto.ProtocolDTO, error)
	Annul(ctx context.Context, protocolID, adminID, reason string) (*dto.ProtocolDTO, error)
	// Reopen returns a rejected or generated protocol to signing with fresh slots for the active commission.
	Reopen(ctx context.Context, protocolID, adminID string) (*dto.ProtocolDTO, error)
}

// CertificateIssuer is notified when a protocol becomes fully signed.
type CertificateIssuer interface {
	IssueForProtocol(ctx context.Context, protocolID string) (*dto.CertificateDTO, error)
}

type protocolService struct {
	tx             repository.Transactor
	protocolRepo   repository.ProtocolRepository
	commissionRepo repository.CommissionRepository
	profileRepo    repository.UserProfileRepository
	otp            otp.Gateway
	issuer         CertificateIssuer
	now            func() time.Time
}

func NewProtocolService(
	tx repository.Transactor,
	protocolRepo repository.ProtocolRepository,
	commissionRepo repository.CommissionRepository,
	profileRepo repository.UserProfileRepository,
	otpGateway otp.Gateway,
	issuer CertificateIssuer,
) ProtocolService {
	return &protocolService{
		tx:             tx,
		protocolRepo:   protocolRepo,
		commissionRepo: commissionRepo,
		profileRepo:    profileRepo,
		otp:            otpGateway,
		issuer:         issuer,
		now:            time.Now,
	}
}

// rosterSignatures snapshots the active commission into unsigned slots. Returns nil when the
// roster lacks members or does not have exactly one chairman.
func (s *protocolService) rosterSignatures(ctx context.Context) ([]model.Signature, error) {
	members, err := s.commissionRepo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("error fetching commission: %w", err)
	}
	var (
		sigs      []model.Signature
		chairmen  int
		ordinary  int
		chairman  model.Signature
		nextOrder = 1
	)
	for _, m := range members {
		sig := model.Signature{
			SignerID:    m.UserID,
			SignerName:  m.FullName,
			SignerPhone: m.Phone,
			Role:        m.Role,
		}
		if m.Role == model.SignerRoleChairman {
			chairmen++
			chairman = sig
			continue
		}
		sig.Role = model.SignerRoleMember
		sig.Position = nextOrder
		nextOrder++
		ordinary++
		sigs = append(sigs, sig)
	}
	if chairmen != 1 || ordinary == 0 {
		log.Warn().Int("members", ordinary).Int("chairmen", chairmen).Msg("Commission roster is incomplete")
		return nil, nil
	}
	chairman.Position = nextOrder
	return append(sigs, chairman), nil
}

func (s *protocolService) CreateForAttempt(ctx context.Context, attempt *model.TestAttempt, test *model.Test) (*model.Protocol, error) {
	var protocol *model.Protocol
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		existing, err := s.protocolRepo.FindByAttemptID(ctx, attempt.ID)
		if err == nil {
			protocol = existing
			return nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		if !attempt.IsCompleted() || attempt.Score == nil {
			return apperr.Conflict("attempt %s is not completed", attempt.ID)
		}

		profile, err := s.profileRepo.FindByUserID(ctx, attempt.UserID)
		if err != nil {
			if !errors.Is(err, apperr.ErrNotFound) {
				return err
			}
			log.Warn().Str("userID", attempt.UserID).Msg("No user profile, protocol snapshot will be empty")
			profile = &model.UserProfile{UserID: attempt.UserID}
		}
		sigs, err := s.rosterSignatures(ctx)
		if err != nil {
			return err
		}

		result := model.ResultFailed
		if attempt.IsPassed() {
			result = model.ResultPassed
		}
		status := model.ProtocolPendingPDEK
		if sigs == nil {
			// stays generated until an administrator completes the roster and reopens it
			status = model.ProtocolGenerated
		}
		protocol = &model.Protocol{
			AttemptID:    attempt.ID,
			TestID:       test.ID,
			CourseID:     test.CourseID,
			UserID:       attempt.UserID,
			StudentName:  profile.FullName,
			StudentIIN:   profile.IIN,
			StudentPhone: profile.Phone,
			CourseTitle:  test.CourseTitle,
			Score:        *attempt.Score,
			PassingScore: test.PassingScore,
			Result:       result,
			Status:       status,
			Signatures:   sigs,
		}
		return s.protocolRepo.Create(ctx, protocol)
	})
	if err != nil {
		log.Error().Err(err).Str("attemptID", attempt.ID).Msg("Failed to create protocol")
		return nil, err
	}
	log.Info().Str("protocolID", protocol.ID).Str("attemptID", attempt.ID).Str("status", protocol.Status).Msg("Protocol ready")
	return protocol, nil
}

func (s *protocolService) FindByAttempt(ctx context.Context, attemptID string) (*model.Protocol, error) {
	return s.protocolRepo.FindByAttemptID(ctx, attemptID)
}

func (s *protocolService) List(ctx context.Context, filter repository.ProtocolFilter) ([]dto.ProtocolDTO, error) {
	protocols, err := s.protocolRepo.List(ctx, filter)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list protocols")
		return nil, fmt.Errorf("error fetching protocols: %w", err)
	}
	out := make([]dto.ProtocolDTO, 0, len(protocols))
	for i := range protocols {
		d, err := toProtocolDTO(&protocols[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, nil
}

func (s *protocolService) Get(ctx context.Context, protocolID string) (*dto.ProtocolDTO, error) {
	p, err := s.find(ctx, protocolID)
	if err != nil {
		return nil, err
	}
	return toProtocolDTO(p)
}

func (s *protocolService) find(ctx context.Context, protocolID string) (*model.Protocol, error) {
	p, err := s.protocolRepo.FindByID(ctx, protocolID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.NotFound("protocol", protocolID)
		}
		return nil, fmt.Errorf("error fetching protocol %s: %w", protocolID, err)
	}
	return p, nil
}

// signable returns the signer's slot if it may be signed now.
func signable(p *model.Protocol, signerID string) (*model.Signature, error) {
	sig := p.SignatureOf(signerID)
	if sig == nil {
		return nil, fmt.Errorf("user %s is not a signer of protocol %s: %w", signerID, p.ID, apperr.ErrForbidden)
	}
	if !p.IsOpenForSigning() {
		return nil, apperr.Conflict("protocol %s is %s and cannot be signed", p.ID, p.Status)
	}
	if sig.OTPVerified {
		return nil, apperr.Conflict("protocol %s is already signed by %s", p.ID, sig.SignerName)
	}
	if sig.Role == model.SignerRoleChairman {
		for _, other := range p.Signatures {
			if other.Role != model.SignerRoleChairman && !other.OTPVerified {
				return nil, apperr.Conflict("all commission members must sign protocol %s before the chairman", p.ID)
			}
		}
	}
	return sig, nil
}

func (s *protocolService) RequestSignature(ctx context.Context, protocolID, signerID string) (*dto.OTPIssuedResponse, error) {
	p, err := s.find(ctx, protocolID)
	if err != nil {
		return nil, err
	}
	sig, err := signable(p, signerID)
	if err != nil {
		return nil, err
	}
	issued, err := s.otp.RequestCode(ctx, sig.SignerPhone, otp.Scope(otp.PurposeProtocolSignature, p.ID))
	if err != nil {
		return nil, err
	}
	return &dto.OTPIssuedResponse{ExpiresAt: issued.ExpiresAt, Phone: otp.MaskPhone(sig.SignerPhone), Code: issued.Code}, nil
}

func (s *protocolService) Sign(ctx context.Context, protocolID, signerID, code string) (*dto.ProtocolDTO, error) {
	p, err := s.find(ctx, protocolID)
	if err != nil {
		return nil, err
	}
	sig, err := signable(p, signerID)
	if err != nil {
		return nil, err
	}
	if err := s.otp.VerifyCode(ctx, sig.SignerPhone, code, otp.Scope(otp.PurposeProtocolSignature, p.ID)); err != nil {
		return nil, err
	}

	var signed *model.Protocol
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		locked, err := s.protocolRepo.FindByIDForUpdate(ctx, protocolID)
		if err != nil {
			return err
		}
		// the state may have moved while the code was being checked
		slot, err := signable(locked, signerID)
		if err != nil {
			return err
		}
		now := s.now()
		slot.OTPVerified = true
		slot.SignedAt = &now
		if err := s.protocolRepo.UpdateSignature(ctx, slot); err != nil {
			return fmt.Errorf("failed to store signature: %w", err)
		}
		if status := AggregateStatus(locked.Status, locked.Signatures); status != locked.Status {
			locked.Status = status
			if err := s.protocolRepo.Update(ctx, locked); err != nil {
				return fmt.Errorf("failed to update protocol status: %w", err)
			}
		}
		signed = locked
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("protocolID", protocolID).Str("signerID", signerID).Msg("Protocol signing failed")
		return nil, err
	}
	log.Info().Str("protocolID", protocolID).Str("signerID", signerID).Str("status", signed.Status).Msg("Protocol signed")

	if signed.Status == model.ProtocolSignedChairman && s.issuer != nil {
		// a failure here is retried by the certificate reconciler
		if _, err := s.issuer.IssueForProtocol(ctx, protocolID); err != nil {
			log.Error().Err(err).Str("protocolID", protocolID).Msg("Certificate issuance after signing failed")
		}
	}
	return toProtocolDTO(signed)
}

func (s *protocolService) Reject(ctx context.Context, protocolID, signerID, reason string) (*dto.ProtocolDTO, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("reason", "this field cannot be blank")
	}
	return s.transition(ctx, protocolID, func(p *model.Protocol) error {
		if p.SignatureOf(signerID) == nil {
			return fmt.Errorf("user %s is not a signer of protocol %s: %w", signerID, p.ID, apperr.ErrForbidden)
		}
		if !p.IsOpenForSigning() {
			return apperr.Conflict("protocol %s is %s and cannot be rejected", p.ID, p.Status)
		}
		now := s.now()
		p.Status = model.ProtocolRejected
		p.RejectionReason = &reason
		p.RejectedBy = &signerID
		p.RejectedAt = &now
		return nil
	})
}

func (s *protocolService) Annul(ctx context.Context, protocolID, adminID, reason string) (*dto.ProtocolDTO, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("reason", "this field cannot be blank")
	}
	return s.transition(ctx, protocolID, func(p *model.Protocol) error {
		if p.Status == model.ProtocolAnnulled {
			return apperr.Conflict("protocol %s is already annulled", p.ID)
		}
		now := s.now()
		p.Status = model.ProtocolAnnulled
		p.AnnulmentReason = &reason
		p.AnnulledBy = &adminID
		p.AnnulledAt = &now
		return nil
	})
}

func (s *protocolService) Reopen(ctx context.Context, protocolID, adminID string) (*dto.ProtocolDTO, error) {
	var sigs []model.Signature
	out, err := s.transitionCtx(ctx, protocolID, func(ctx context.Context, p *model.Protocol) error {
		if p.Status != model.ProtocolRejected && p.Status != model.ProtocolGenerated {
			return apperr.Conflict("protocol %s is %s and cannot be reopened", p.ID, p.Status)
		}
		var err error
		sigs, err = s.rosterSignatures(ctx)
		if err != nil {
			return err
		}
		if sigs == nil {
			return apperr.Conflict("the commission needs at least one member and exactly one chairman")
		}
		if err := s.protocolRepo.ReplaceSignatures(ctx, p.ID, sigs); err != nil {
			return fmt.Errorf("failed to reset signatures: %w", err)
		}
		p.Signatures = sigs
		p.Status = model.ProtocolPendingPDEK
		p.RejectionReason, p.RejectedBy, p.RejectedAt = nil, nil, nil
		return nil
	})
	if err == nil {
		log.Info().Str("protocolID", protocolID).Str("adminID", adminID).Int("signers", len(sigs)).Msg("Protocol reopened")
	}
	return out, err
}

func (s *protocolService) transition(ctx context.Context, protocolID string, apply func(p *model.Protocol) error) (*dto.ProtocolDTO, error) {
	return s.transitionCtx(ctx, protocolID, func(_ context.Context, p *model.Protocol) error { return apply(p) })
}

// transitionCtx applies a status change under the protocol row lock.
func (s *protocolService) transitionCtx(ctx context.Context, protocolID string, apply func(ctx context.Context, p *model.Protocol) error) (*dto.ProtocolDTO, error) {
	var updated *model.Protocol
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		p, err := s.protocolRepo.FindByIDForUpdate(ctx, protocolID)
		if err != nil {
			return err
		}
		from := p.Status
		if err := apply(ctx, p); err != nil {
			return err
		}
		if err := s.protocolRepo.Update(ctx, p); err != nil {
			return err
		}
		log.Info().Str("protocolID", protocolID).Str("from", from).Str("to", p.Status).Msg("Protocol status changed")
		updated = p
		return nil
	})
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.NotFound("protocol", protocolID)
		}
		return nil, err
	}
	return toProtocolDTO(updated)
}

func toProtocolDTO(p *model.Protocol) (*dto.ProtocolDTO, error) {
	var out dto.ProtocolDTO
	if err := dto.Copy(&out, p); err != nil {
		log.Error().Err(err).Msg("Failed to copy Protocol model to ProtocolDTO")
		return nil, fmt.Errorf("error preparing protocol response: %w", err)
	}
	if out.Signatures == nil {
		out.Signatures = []dto.SignatureDTO{}
	}
	if p.Status != model.ProtocolGenerated {
		out.Warnings = ValidateSignatureOrder(p.Signatures)
	}
	return &out, nil
}
