// Package worker runs the background upkeep of the exam flow: overdue attempts are
// closed with the timeout end reason and fully signed protocols get their certificates.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"

	"github.com/lshigami/safetycert/config"
)

const (
	defaultSweepInterval = 30 * time.Second
	defaultSweepBatch    = 100
)

type AttemptExpirer interface {
	ExpireOverdue(ctx context.Context, now time.Time, limit int) (int, error)
}

type CertificateReconciler interface {
	Reconcile(ctx context.Context, limit int) (int, error)
}

type Sweeper struct {
	attempts     AttemptExpirer
	certificates CertificateReconciler
	interval     time.Duration
	batch        int
	now          func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSweeper(cfg *config.Config, attempts AttemptExpirer, certificates CertificateReconciler) *Sweeper {
	interval := cfg.Exam.SweepInterval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	batch := cfg.Exam.SweepBatch
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &Sweeper{
		attempts:     attempts,
		certificates: certificates,
		interval:     interval,
		batch:        batch,
		now:          time.Now,
	}
}

// RunOnce performs a single sweep. Both jobs run even if one fails.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error {
		n, err := s.attempts.ExpireOverdue(ctx, s.now(), s.batch)
		if n > 0 {
			log.Info().Int("count", n).Msg("Closed overdue attempts")
		}
		return err
	})
	g.Go(func() error {
		n, err := s.certificates.Reconcile(ctx, s.batch)
		if n > 0 {
			log.Info().Int("count", n).Msg("Issued missing certificates")
		}
		return err
	})
	return g.Wait()
}

func (s *Sweeper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
					log.Error().Err(err).Msg("Sweep failed")
				}
			}
		}
	}()
	log.Info().Dur("interval", s.interval).Int("batch", s.batch).Msg("Sweeper started")
}

func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Register ties the sweeper to the application lifecycle.
func Register(lc fx.Lifecycle, s *Sweeper) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			s.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			s.Stop()
			return nil
		},
	})
}
