// Package inmem is a map-backed implementation of the repository interfaces. It backs
// the service tests and the "memory" database driver.
package inmem

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/lshigami/safetycert/internal/model"
)

// ErrDuplicate mirrors a unique-constraint violation.
var ErrDuplicate = errors.New("inmem: duplicate key")

type txMarker struct{}

// Store holds every table. Transactions are serialized by txMu and rolled back by
// restoring a snapshot, which also gives FindByIDForUpdate its locking semantics.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	last time.Time

	tests      map[string]model.Test
	questions  map[string]model.Question
	options    map[string]model.Option
	attempts   map[string]model.TestAttempt
	answers    map[string]model.Answer
	videos     map[string]model.AttemptVideo
	extras     map[string]model.ExtraAttemptRequest
	protocols  map[string]model.Protocol
	signatures map[string]model.Signature
	certs      map[string]model.Certificate
	sequences  map[int]int
	members    map[string]model.CommissionMember
	profiles   map[string]model.UserProfile
	otps       map[string]model.OTPCode
}

func NewStore() *Store {
	return &Store{
		tests:      map[string]model.Test{},
		questions:  map[string]model.Question{},
		options:    map[string]model.Option{},
		attempts:   map[string]model.TestAttempt{},
		answers:    map[string]model.Answer{},
		videos:     map[string]model.AttemptVideo{},
		extras:     map[string]model.ExtraAttemptRequest{},
		protocols:  map[string]model.Protocol{},
		signatures: map[string]model.Signature{},
		certs:      map[string]model.Certificate{},
		sequences:  map[int]int{},
		members:    map[string]model.CommissionMember{},
		profiles:   map[string]model.UserProfile{},
		otps:       map[string]model.OTPCode{},
	}
}

type snapshot struct {
	tests      map[string]model.Test
	questions  map[string]model.Question
	options    map[string]model.Option
	attempts   map[string]model.TestAttempt
	answers    map[string]model.Answer
	videos     map[string]model.AttemptVideo
	extras     map[string]model.ExtraAttemptRequest
	protocols  map[string]model.Protocol
	signatures map[string]model.Signature
	certs      map[string]model.Certificate
	sequences  map[int]int
	members    map[string]model.CommissionMember
	profiles   map[string]model.UserProfile
	otps       map[string]model.OTPCode
}

func (s *Store) snapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshot{
		tests:      maps.Clone(s.tests),
		questions:  maps.Clone(s.questions),
		options:    maps.Clone(s.options),
		attempts:   maps.Clone(s.attempts),
		answers:    maps.Clone(s.answers),
		videos:     maps.Clone(s.videos),
		extras:     maps.Clone(s.extras),
		protocols:  maps.Clone(s.protocols),
		signatures: maps.Clone(s.signatures),
		certs:      maps.Clone(s.certs),
		sequences:  maps.Clone(s.sequences),
		members:    maps.Clone(s.members),
		profiles:   maps.Clone(s.profiles),
		otps:       maps.Clone(s.otps),
	}
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tests = snap.tests
	s.questions = snap.questions
	s.options = snap.options
	s.attempts = snap.attempts
	s.answers = snap.answers
	s.videos = snap.videos
	s.extras = snap.extras
	s.protocols = snap.protocols
	s.signatures = snap.signatures
	s.certs = snap.certs
	s.sequences = snap.sequences
	s.members = snap.members
	s.profiles = snap.profiles
	s.otps = snap.otps
}

// WithinTransaction implements repository.Transactor.
func (s *Store) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, txMarker{}, true)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txMarker{}).(bool)
	return v
}

// write runs f under the data lock. Outside a transaction it also takes the
// transaction lock so that a rollback never discards a concurrent write.
func (s *Store) write(ctx context.Context, f func() error) error {
	if !inTx(ctx) {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return f()
}

func (s *Store) read(f func()) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f()
}

// tick returns a strictly increasing timestamp so that creation order is total.
// Callers hold s.mu.
func (s *Store) tick() time.Time {
	now := time.Now()
	if !now.After(s.last) {
		now = s.last.Add(time.Microsecond)
	}
	s.last = now
	return now
}
