package inmem

import (
	"context"
	"sort"
	"time"

	"github.com/lshigami/safetycert/internal/apperr"
	"github.com/lshigami/safetycert/internal/model"
	"github.com/lshigami/safetycert/internal/repository"
)

type extraAttemptRequestRepository struct{ s *Store }

func NewExtraAttemptRequestRepository(s *Store) repository.ExtraAttemptRequestRepository {
	return &extraAttemptRequestRepository{s}
}

func (r *extraAttemptRequestRepository) Create(ctx context.Context, req *model.ExtraAttemptRequest) error {
	return r.s.write(ctx, func() error {
		if req.ID == "" {
			req.ID = model.NewID()
		}
		now := r.s.tick()
		req.CreatedAt, req.UpdatedAt = now, now
		r.s.extras[req.ID] = *req
		return nil
	})
}

func (r *extraAttemptRequestRepository) Update(ctx context.Context, req *model.ExtraAttemptRequest) error {
	return r.s.write(ctx, func() error {
		if _, ok := r.s.extras[req.ID]; !ok {
			return apperr.ErrNotFound
		}
		req.UpdatedAt = r.s.tick()
		r.s.extras[req.ID] = *req
		return nil
	})
}

func (r *extraAttemptRequestRepository) FindByID(_ context.Context, id string) (*model.ExtraAttemptRequest, error) {
	var (
		req model.ExtraAttemptRequest
		ok  bool
	)
	r.s.read(func() { req, ok = r.s.extras[id] })
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &req, nil
}

func (r *extraAttemptRequestRepository) FindByIDForUpdate(ctx context.Context, id string) (*model.ExtraAttemptRequest, error) {
	return r.FindByID(ctx, id)
}

func (r *extraAttemptRequestRepository) List(_ context.Context, f repository.ExtraAttemptFilter) ([]model.ExtraAttemptRequest, error) {
	var out []model.ExtraAttemptRequest
	r.s.read(func() {
		for _, req := range r.s.extras {
			if f.TestID != "" && req.TestID != f.TestID {
				continue
			}
			if f.UserID != "" && req.UserID != f.UserID {
				continue
			}
			if f.Status != "" && req.Status != f.Status {
				continue
			}
			out = append(out, req)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

type protocolRepository struct{ s *Store }

func NewProtocolRepository(s *Store) repository.ProtocolRepository { return &protocolRepository{s} }

func (r *protocolRepository) Create(ctx context.Context, p *model.Protocol) error {
	return r.s.write(ctx, func() error {
		for _, existing := range r.s.protocols {
			if existing.AttemptID == p.AttemptID {
				return ErrDuplicate
			}
		}
		if p.ID == "" {
			p.ID = model.NewID()
		}
		now := r.s.tick()
		p.CreatedAt, p.UpdatedAt = now, now
		for i := range p.Signatures {
			sig := &p.Signatures[i]
			if sig.ID == "" {
				sig.ID = model.NewID()
			}
			sig.ProtocolID = p.ID
			r.s.signatures[sig.ID] = *sig
		}
		row := *p
		row.Signatures = nil
		r.s.protocols[p.ID] = row
		return nil
	})
}

func (r *protocolRepository) Update(ctx context.Context, p *model.Protocol) error {
	return r.s.write(ctx, func() error {
		if _, ok := r.s.protocols[p.ID]; !ok {
			return apperr.ErrNotFound
		}
		p.UpdatedAt = r.s.tick()
		row := *p
		row.Signatures = nil
		r.s.protocols[p.ID] = row
		return nil
	})
}

func (r *protocolRepository) UpdateSignature(ctx context.Context, sig *model.Signature) error {
	return r.s.write(ctx, func() error {
		if _, ok := r.s.signatures[sig.ID]; !ok {
			return apperr.ErrNotFound
		}
		r.s.signatures[sig.ID] = *sig
		return nil
	})
}

func (r *protocolRepository) ReplaceSignatures(ctx context.Context, protocolID string, sigs []model.Signature) error {
	return r.s.write(ctx, func() error {
		if _, ok := r.s.protocols[protocolID]; !ok {
			return apperr.ErrNotFound
		}
		for id, sig := range r.s.signatures {
			if sig.ProtocolID == protocolID {
				delete(r.s.signatures, id)
			}
		}
		for i := range sigs {
			sig := &sigs[i]
			if sig.ID == "" {
				sig.ID = model.NewID()
			}
			sig.ProtocolID = protocolID
			r.s.signatures[sig.ID] = *sig
		}
		return nil
	})
}

// hydrate attaches ordered signatures. Callers hold s.mu.
func (s *Store) hydrate(p model.Protocol) model.Protocol {
	p.Signatures = nil
	for _, sig := range s.signatures {
		if sig.ProtocolID == p.ID {
			p.Signatures = append(p.Signatures, sig)
		}
	}
	sort.Slice(p.Signatures, func(i, j int) bool { return p.Signatures[i].Position < p.Signatures[j].Position })
	return p
}

func (r *protocolRepository) FindByID(_ context.Context, id string) (*model.Protocol, error) {
	var (
		p  model.Protocol
		ok bool
	)
	r.s.read(func() {
		p, ok = r.s.protocols[id]
		if ok {
			p = r.s.hydrate(p)
		}
	})
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &p, nil
}

func (r *protocolRepository) FindByIDForUpdate(ctx context.Context, id string) (*model.Protocol, error) {
	return r.FindByID(ctx, id)
}

func (r *protocolRepository) FindByAttemptID(_ context.Context, attemptID string) (*model.Protocol, error) {
	var found *model.Protocol
	r.s.read(func() {
		for _, p := range r.s.protocols {
			if p.AttemptID == attemptID {
				h := r.s.hydrate(p)
				found = &h
				return
			}
		}
	})
	if found == nil {
		return nil, apperr.ErrNotFound
	}
	return found, nil
}

func (r *protocolRepository) List(_ context.Context, f repository.ProtocolFilter) ([]model.Protocol, error) {
	var out []model.Protocol
	r.s.read(func() {
		for _, p := range r.s.protocols {
			if f.UserID != "" && p.UserID != f.UserID {
				continue
			}
			if f.Status != "" && p.Status != f.Status {
				continue
			}
			h := r.s.hydrate(p)
			if f.SignerID != "" && h.SignatureOf(f.SignerID) == nil {
				continue
			}
			out = append(out, h)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *protocolRepository) FindSignedWithoutCertificate(_ context.Context, limit int) ([]model.Protocol, error) {
	var out []model.Protocol
	r.s.read(func() {
		certified := map[string]bool{}
		for _, c := range r.s.certs {
			certified[c.ProtocolID] = true
		}
		for _, p := range r.s.protocols {
			if p.Status == model.ProtocolSignedChairman && !certified[p.ID] {
				out = append(out, p)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type certificateRepository struct{ s *Store }

func NewCertificateRepository(s *Store) repository.CertificateRepository {
	return &certificateRepository{s}
}

func (r *certificateRepository) Create(ctx context.Context, c *model.Certificate) error {
	return r.s.write(ctx, func() error {
		for _, existing := range r.s.certs {
			if existing.ProtocolID == c.ProtocolID || existing.Number == c.Number {
				return ErrDuplicate
			}
		}
		if c.ID == "" {
			c.ID = model.NewID()
		}
		now := r.s.tick()
		c.CreatedAt, c.UpdatedAt = now, now
		r.s.certs[c.ID] = *c
		return nil
	})
}

func (r *certificateRepository) Update(ctx context.Context, c *model.Certificate) error {
	return r.s.write(ctx, func() error {
		if _, ok := r.s.certs[c.ID]; !ok {
			return apperr.ErrNotFound
		}
		for id, existing := range r.s.certs {
			if id != c.ID && existing.Number == c.Number {
				return ErrDuplicate
			}
		}
		c.UpdatedAt = r.s.tick()
		r.s.certs[c.ID] = *c
		return nil
	})
}

func (r *certificateRepository) FindByID(_ context.Context, id string) (*model.Certificate, error) {
	var (
		c  model.Certificate
		ok bool
	)
	r.s.read(func() { c, ok = r.s.certs[id] })
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &c, nil
}

func (r *certificateRepository) FindByProtocolID(_ context.Context, protocolID string) (*model.Certificate, error) {
	var found *model.Certificate
	r.s.read(func() {
		for _, c := range r.s.certs {
			if c.ProtocolID == protocolID {
				found = &c
				return
			}
		}
	})
	if found == nil {
		return nil, apperr.ErrNotFound
	}
	return found, nil
}

func (r *certificateRepository) List(_ context.Context, f repository.CertificateFilter) ([]model.Certificate, error) {
	var out []model.Certificate
	r.s.read(func() {
		for _, c := range r.s.certs {
			if f.UserID != "" && c.UserID != f.UserID {
				continue
			}
			c.FileData = nil
			out = append(out, c)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out, nil
}

func (r *certificateRepository) NextSerial(ctx context.Context, year int) (int, error) {
	var value int
	err := r.s.write(ctx, func() error {
		r.s.sequences[year]++
		value = r.s.sequences[year]
		return nil
	})
	return value, err
}

type commissionRepository struct{ s *Store }

func NewCommissionRepository(s *Store) repository.CommissionRepository {
	return &commissionRepository{s}
}

func (r *commissionRepository) Upsert(ctx context.Context, m *model.CommissionMember) error {
	return r.s.write(ctx, func() error {
		now := r.s.tick()
		if existing, ok := r.s.members[m.UserID]; ok {
			m.ID = existing.ID
			m.CreatedAt = existing.CreatedAt
		} else {
			if m.ID == "" {
				m.ID = model.NewID()
			}
			m.CreatedAt = now
		}
		m.UpdatedAt = now
		r.s.members[m.UserID] = *m
		return nil
	})
}

func (r *commissionRepository) ListActive(_ context.Context) ([]model.CommissionMember, error) {
	var out []model.CommissionMember
	r.s.read(func() {
		for _, m := range r.s.members {
			if m.Active {
				out = append(out, m)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

type userProfileRepository struct{ s *Store }

func NewUserProfileRepository(s *Store) repository.UserProfileRepository {
	return &userProfileRepository{s}
}

func (r *userProfileRepository) Upsert(ctx context.Context, p *model.UserProfile) error {
	return r.s.write(ctx, func() error {
		p.UpdatedAt = r.s.tick()
		r.s.profiles[p.UserID] = *p
		return nil
	})
}

func (r *userProfileRepository) FindByUserID(_ context.Context, userID string) (*model.UserProfile, error) {
	var (
		p  model.UserProfile
		ok bool
	)
	r.s.read(func() { p, ok = r.s.profiles[userID] })
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &p, nil
}

type otpRepository struct{ s *Store }

func NewOTPRepository(s *Store) repository.OTPRepository { return &otpRepository{s} }

func (r *otpRepository) Create(ctx context.Context, code *model.OTPCode) error {
	return r.s.write(ctx, func() error {
		if code.ID == "" {
			code.ID = model.NewID()
		}
		code.CreatedAt = r.s.tick()
		r.s.otps[code.ID] = *code
		return nil
	})
}

func (r *otpRepository) Update(ctx context.Context, code *model.OTPCode) error {
	return r.s.write(ctx, func() error {
		if _, ok := r.s.otps[code.ID]; !ok {
			return apperr.ErrNotFound
		}
		r.s.otps[code.ID] = *code
		return nil
	})
}

func (r *otpRepository) InvalidateActive(ctx context.Context, phone, purpose string, at time.Time) error {
	return r.s.write(ctx, func() error {
		for id, c := range r.s.otps {
			if c.Phone == phone && c.Purpose == purpose && c.IsActive() {
				t := at
				c.InvalidatedAt = &t
				r.s.otps[id] = c
			}
		}
		return nil
	})
}

func (r *otpRepository) FindLatestActive(_ context.Context, phone, purpose string) (*model.OTPCode, error) {
	var found *model.OTPCode
	r.s.read(func() {
		for _, c := range r.s.otps {
			if c.Phone != phone || c.Purpose != purpose || !c.IsActive() {
				continue
			}
			if found == nil || c.CreatedAt.After(found.CreatedAt) {
				cc := c
				found = &cc
			}
		}
	})
	if found == nil {
		return nil, apperr.ErrNotFound
	}
	return found, nil
}
