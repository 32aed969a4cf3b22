// Package otp issues and verifies one-time SMS codes keyed by phone and purpose.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/lshigami/safetycert/config"
	"github.com/lshigami/safetycert/internal/apperr"
	"github.com/lshigami/safetycert/internal/model"
	"github.com/lshigami/safetycert/internal/repository"
)

const (
	PurposeAttemptCompletion = "attempt_completion"
	PurposeProtocolSignature = "protocol_signature"
)

// Scope binds a purpose to the record it authorizes, so a code issued for one
// protocol or attempt is never accepted for another.
func Scope(purpose, subject string) string {
	return purpose + ":" + subject
}

// Issued describes a freshly sent code. Code is set only when codes are exposed (debug).
type Issued struct {
	ExpiresAt time.Time `json:"expires_at"`
	Code      string    `json:"code,omitempty"`
}

type Gateway interface {
	// RequestCode sends a new code and invalidates every earlier code of the same phone and purpose.
	RequestCode(ctx context.Context, phone, purpose string) (*Issued, error)
	// VerifyCode returns nil when the code matches, apperr.ErrOTPExpired or apperr.ErrOTPInvalid otherwise.
	VerifyCode(ctx context.Context, phone, code, purpose string) error
}

type Option func(*gateway)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *gateway) { g.now = now }
}

// WithHashCost overrides the bcrypt cost.
func WithHashCost(cost int) Option {
	return func(g *gateway) { g.hashCost = cost }
}

type gateway struct {
	cfg      config.OTP
	repo     repository.OTPRepository
	tx       repository.Transactor
	sender   SMSSender
	now      func() time.Time
	hashCost int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewGateway(cfg config.OTP, repo repository.OTPRepository, tx repository.Transactor, sender SMSSender, opts ...Option) Gateway {
	if cfg.TTL <= 0 {
		cfg.TTL = 120 * time.Second
	}
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = 6
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResendBurst <= 0 {
		cfg.ResendBurst = 1
	}
	g := &gateway{
		cfg:      cfg,
		repo:     repo,
		tx:       tx,
		sender:   sender,
		now:      time.Now,
		hashCost: bcrypt.DefaultCost,
		limiters: map[string]*rate.Limiter{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *gateway) limiter(phone, purpose string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := phone + "|" + purpose
	l, ok := g.limiters[key]
	if !ok {
		every := rate.Inf
		if g.cfg.ResendInterval > 0 {
			every = rate.Every(g.cfg.ResendInterval)
		}
		l = rate.NewLimiter(every, g.cfg.ResendBurst)
		g.limiters[key] = l
	}
	return l
}

func (g *gateway) RequestCode(ctx context.Context, phone, purpose string) (*Issued, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, apperr.Validation("phone", "phone number is required")
	}
	if purpose == "" {
		return nil, apperr.Validation("purpose", "purpose is required")
	}
	if !g.limiter(phone, purpose).AllowN(g.now(), 1) {
		log.Warn().Str("phone", MaskPhone(phone)).Str("purpose", purpose).Msg("OTP request throttled")
		return nil, fmt.Errorf("otp resend for %s: %w", purpose, apperr.ErrTooManyCalls)
	}

	code, err := randomDigits(g.cfg.CodeLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate otp: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), g.hashCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash otp: %w", err)
	}

	now := g.now()
	record := &model.OTPCode{
		Phone:     phone,
		Purpose:   purpose,
		CodeHash:  string(hash),
		ExpiresAt: now.Add(g.cfg.TTL),
	}
	err = g.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := g.repo.InvalidateActive(ctx, phone, purpose, now); err != nil {
			return fmt.Errorf("failed to invalidate previous codes: %w", err)
		}
		return g.repo.Create(ctx, record)
	})
	if err != nil {
		log.Error().Err(err).Str("phone", MaskPhone(phone)).Str("purpose", purpose).Msg("Failed to store OTP")
		return nil, err
	}

	if err := g.sender.Send(ctx, phone, fmt.Sprintf("Your confirmation code: %s. Valid for %d seconds.", code, int(g.cfg.TTL.Seconds()))); err != nil {
		log.Error().Err(err).Str("phone", MaskPhone(phone)).Msg("Failed to deliver OTP")
		return nil, &apperr.NetworkError{Op: "sms delivery", Err: err}
	}

	log.Info().Str("phone", MaskPhone(phone)).Str("purpose", purpose).Time("expiresAt", record.ExpiresAt).Msg("OTP issued")
	issued := &Issued{ExpiresAt: record.ExpiresAt}
	if g.cfg.ExposeCode {
		issued.Code = code
	}
	return issued, nil
}

func (g *gateway) VerifyCode(ctx context.Context, phone, code, purpose string) error {
	phone = strings.TrimSpace(phone)
	code = strings.TrimSpace(code)
	if code == "" {
		return apperr.ErrOTPInvalid
	}

	var outcome error
	err := g.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		record, err := g.repo.FindLatestActive(ctx, phone, purpose)
		if errors.Is(err, apperr.ErrNotFound) {
			outcome = apperr.ErrOTPInvalid
			return nil
		}
		if err != nil {
			return err
		}

		now := g.now()
		if !now.Before(record.ExpiresAt) {
			outcome = apperr.ErrOTPExpired
			return nil
		}
		if bcrypt.CompareHashAndPassword([]byte(record.CodeHash), []byte(code)) != nil {
			record.FailedAttempts++
			if record.FailedAttempts >= g.cfg.MaxFailures {
				record.InvalidatedAt = &now
			}
			outcome = apperr.ErrOTPInvalid
			// the failure counter must persist, so this branch commits
			return g.repo.Update(ctx, record)
		}
		record.ConsumedAt = &now
		return g.repo.Update(ctx, record)
	})
	if err != nil {
		log.Error().Err(err).Str("phone", MaskPhone(phone)).Msg("OTP verification failed unexpectedly")
		return err
	}
	if outcome != nil {
		log.Warn().Err(outcome).Str("phone", MaskPhone(phone)).Str("purpose", purpose).Msg("OTP rejected")
	}
	return outcome
}

func randomDigits(n int) (string, error) {
	var sb strings.Builder
	ten := big.NewInt(10)
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		sb.WriteByte(byte('0' + d.Int64()))
	}
	return sb.String(), nil
}

// MaskPhone keeps the last four digits.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
