// Package session drives a single exam-taking session on the client side: it resumes
// or starts the attempt, autosaves answers with a debounce, runs the countdown and
// submits exactly once when time runs out.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lshigami/safetycert/internal/apperr"
	"github.com/lshigami/safetycert/internal/dto"
	"github.com/lshigami/safetycert/internal/model"
)

// State is the lifecycle state of a session.
type State string

const (
	StateNotStarted State = "not_started"
	StateInProgress State = "in_progress"
	StateSubmitting State = "submitting"
	StateCompleted  State = "completed"
	StateExpired    State = "expired"
)

// SaveStatus reports the autosave progress shown next to the answers.
type SaveStatus string

const (
	SaveIdle    SaveStatus = "idle"
	SavePending SaveStatus = "pending"
	SaveSaving  SaveStatus = "saving"
	SaveSaved   SaveStatus = "saved"
	SaveError   SaveStatus = "error"
)

// DefaultDebounce is the quiet period after the last answer change before an autosave.
const DefaultDebounce = 800 * time.Millisecond

// Video is an optional recording uploaded with the submission.
type Video struct {
	ContentType string
	Data        []byte
}

// Store is the attempt store as seen by the session. Implemented by the HTTP client.
type Store interface {
	StartAttempt(ctx context.Context, testID string) (*dto.TestAttemptDTO, error)
	GetAttempt(ctx context.Context, attemptID string) (*dto.TestAttemptDTO, error)
	ListAttempts(ctx context.Context, testID string) ([]dto.TestAttemptDTO, error)
	SaveAnswers(ctx context.Context, attemptID string, answers model.AnswerSet) error
	SubmitAttempt(ctx context.Context, attemptID string, answers model.AnswerSet, video *Video) (*dto.TestAttemptDTO, error)
}

// Option configures a Session.
type Option func(*Session)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(s *Session) { s.debounce = d }
}

// WithClock overrides time.Now for the countdown.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// OnAutoSubmit registers a callback for the result of the timer-triggered submit.
func OnAutoSubmit(fn func(*dto.TestAttemptDTO, error)) Option {
	return func(s *Session) { s.onAutoSubmit = fn }
}

// Session is one user's run through one test. It is safe for concurrent use.
type Session struct {
	store        Store
	cache        Cache
	testID       string
	userID       string
	debounce     time.Duration
	now          func() time.Time
	onAutoSubmit func(*dto.TestAttemptDTO, error)

	// ioMu serializes every store call of the session.
	ioMu sync.Mutex

	mu            sync.RWMutex
	state         State
	saveStatus    SaveStatus
	attempt       *dto.TestAttemptDTO
	result        *dto.TestAttemptDTO
	answers       model.AnswerSet
	version       uint64
	savedVersion  uint64
	saveTimer     *time.Timer
	countdown     *time.Timer
	autoSubmitted bool
	closed        bool
}

// New creates a session in StateNotStarted. Call Open to resume or start the attempt.
func New(store Store, cache Cache, testID, userID string, opts ...Option) *Session {
	s := &Session{
		store:      store,
		cache:      cache,
		testID:     testID,
		userID:     userID,
		debounce:   DefaultDebounce,
		now:        time.Now,
		state:      StateNotStarted,
		saveStatus: SaveIdle,
		answers:    model.AnswerSet{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open resumes or starts the attempt. Priority: the explicit attempt id, the local
// cache entry, an incomplete attempt on the server, and finally a new attempt.
// Cached answers of the resumed attempt are merged over the server copy.
func (s *Session) Open(ctx context.Context, attemptID string) error {
	s.mu.RLock()
	state := s.state
	s.mu.RUnlock()
	if state != StateNotStarted {
		return apperr.Conflict("session is already %s", state)
	}

	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	if attemptID != "" {
		a, err := s.store.GetAttempt(ctx, attemptID)
		if err != nil {
			return err
		}
		entry := s.loadCache()
		cached := entry != nil && entry.AttemptID == a.ID
		if isCompleted(a) {
			if cached {
				s.dropCache()
			}
			s.finish(a)
			return nil
		}
		if cached {
			s.resumeWithCache(a, entry)
			return nil
		}
		s.resume(a, a.Answers, false)
		return nil
	}

	resumed, err := s.resumeFromCache(ctx)
	if err != nil || resumed {
		return err
	}

	attempts, err := s.store.ListAttempts(ctx, s.testID)
	if err != nil {
		return err
	}
	for i := range attempts {
		if !isCompleted(&attempts[i]) {
			s.resume(&attempts[i], attempts[i].Answers, false)
			return nil
		}
	}

	a, err := s.store.StartAttempt(ctx, s.testID)
	if err != nil {
		return err
	}
	s.resume(a, a.Answers, false)
	return nil
}

// loadCache returns the cache entry of this test and user, or nil.
func (s *Session) loadCache() *CacheEntry {
	entry, err := s.cache.Load(s.testID, s.userID)
	if err != nil {
		log.Warn().Err(err).Str("testID", s.testID).Msg("Ignoring unreadable answer cache")
		return nil
	}
	return entry
}

func (s *Session) resumeFromCache(ctx context.Context) (bool, error) {
	entry := s.loadCache()
	if entry == nil || entry.AttemptID == "" {
		return false, nil
	}
	a, err := s.store.GetAttempt(ctx, entry.AttemptID)
	if errors.Is(err, apperr.ErrNotFound) {
		s.dropCache()
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if isCompleted(a) {
		s.dropCache()
		return false, nil
	}
	s.resumeWithCache(a, entry)
	return true, nil
}

// resumeWithCache lays unsaved cached answers over the server copy and schedules their save.
func (s *Session) resumeWithCache(a *dto.TestAttemptDTO, entry *CacheEntry) {
	merged := a.Answers.Merge(entry.Answers)
	s.resume(a, merged, len(entry.Answers) > 0)
	s.writeCache(merged)
}

// resume enters in_progress. dirty marks answers the server has not seen yet.
func (s *Session) resume(a *dto.TestAttemptDTO, answers model.AnswerSet, dirty bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempt = a
	s.answers = answers.Clone()
	s.state = StateInProgress
	s.saveStatus = SaveSaved
	if dirty {
		s.version++
		s.saveStatus = SavePending
		s.scheduleSaveLocked()
	}
	if a.ExpiresAt != nil {
		remaining := a.ExpiresAt.Sub(s.now())
		if remaining < 0 {
			remaining = 0
		}
		s.countdown = time.AfterFunc(remaining, s.expire)
	}
	log.Debug().Str("attemptID", a.ID).Bool("dirty", dirty).Msg("Session resumed")
}

func (s *Session) finish(a *dto.TestAttemptDTO) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimersLocked()
	s.attempt = a
	s.result = a
	s.answers = a.Answers.Clone()
	s.state = StateCompleted
	s.saveStatus = SaveSaved
}

// RecordAnswer updates the local answer and schedules an autosave.
func (s *Session) RecordAnswer(questionID string, value model.AnswerValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInProgress || s.closed {
		return apperr.Conflict("cannot change answers while the session is %s", s.state)
	}
	s.answers[questionID] = append(model.AnswerValue(nil), value...)
	s.version++
	s.saveStatus = SavePending
	s.scheduleSaveLocked()
	return nil
}

func (s *Session) scheduleSaveLocked() {
	if s.saveTimer != nil {
		s.saveTimer.Stop()
	}
	s.saveTimer = time.AfterFunc(s.debounce, func() {
		if err := s.Flush(context.Background()); err != nil {
			log.Warn().Err(err).Str("testID", s.testID).Msg("Autosave failed, answers kept in local cache")
		}
	})
}

// Flush saves pending answers now. On failure the answers go to the local cache.
func (s *Session) Flush(ctx context.Context) error {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()
	return s.flushLocked(ctx)
}

func (s *Session) flushLocked(ctx context.Context) error {
	s.mu.Lock()
	if (s.state != StateInProgress && s.state != StateExpired) || s.version == s.savedVersion {
		s.mu.Unlock()
		return nil
	}
	attemptID := s.attempt.ID
	snapshot := s.answers.Clone()
	version := s.version
	s.saveStatus = SaveSaving
	s.mu.Unlock()

	err := s.store.SaveAnswers(ctx, attemptID, snapshot)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.saveStatus = SaveError
		s.writeCacheLocked()
		return err
	}
	if version > s.savedVersion {
		s.savedVersion = version
	}
	if s.savedVersion == s.version {
		s.saveStatus = SaveSaved
	} else {
		s.saveStatus = SavePending
	}
	return nil
}

// Submit sends the final answers and an optional video. A completed session returns
// its stored result. On failure the session keeps its answers and may be retried.
func (s *Session) Submit(ctx context.Context, video *Video) (*dto.TestAttemptDTO, error) {
	s.mu.Lock()
	switch s.state {
	case StateCompleted:
		res := s.result
		s.mu.Unlock()
		return res, nil
	case StateInProgress, StateExpired:
	default:
		state := s.state
		s.mu.Unlock()
		return nil, apperr.Conflict("cannot submit while the session is %s", state)
	}
	prev := s.state
	s.state = StateSubmitting
	if s.saveTimer != nil {
		s.saveTimer.Stop()
	}
	s.mu.Unlock()

	// waits for an in-flight autosave
	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	s.mu.RLock()
	attemptID := s.attempt.ID
	snapshot := s.answers.Clone()
	s.mu.RUnlock()

	res, err := s.store.SubmitAttempt(ctx, attemptID, snapshot, video)
	if err != nil {
		s.mu.Lock()
		s.state = prev
		s.saveStatus = SaveError
		s.writeCacheLocked()
		s.mu.Unlock()
		return nil, err
	}

	s.mu.Lock()
	s.stopTimersLocked()
	s.result = res
	s.attempt = res
	s.state = StateCompleted
	s.saveStatus = SaveSaved
	s.savedVersion = s.version
	s.mu.Unlock()
	s.dropCache()
	log.Info().Str("attemptID", attemptID).Msg("Attempt submitted")
	return res, nil
}

// expire runs when the countdown reaches zero and submits once with the current answers.
func (s *Session) expire() {
	s.mu.Lock()
	if s.state != StateInProgress || s.autoSubmitted || s.closed {
		s.mu.Unlock()
		return
	}
	s.state = StateExpired
	s.autoSubmitted = true
	s.mu.Unlock()

	res, err := s.Submit(context.Background(), nil)
	if err != nil {
		log.Error().Err(err).Str("testID", s.testID).Msg("Automatic submit failed")
	}
	if s.onAutoSubmit != nil {
		s.onAutoSubmit(res, err)
	}
}

// Close abandons the session. It never submits; unsaved answers go to the local cache.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.stopTimersLocked()
	if (s.state == StateInProgress || s.state == StateExpired) && s.version != s.savedVersion {
		s.writeCacheLocked()
	}
}

func (s *Session) stopTimersLocked() {
	if s.saveTimer != nil {
		s.saveTimer.Stop()
	}
	if s.countdown != nil {
		s.countdown.Stop()
	}
}

func (s *Session) writeCache(answers model.AnswerSet) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.storeCache(answers)
}

func (s *Session) writeCacheLocked() {
	s.storeCache(s.answers.Clone())
}

func (s *Session) storeCache(answers model.AnswerSet) {
	if s.attempt == nil {
		return
	}
	entry := CacheEntry{
		Version:   CacheVersion,
		AttemptID: s.attempt.ID,
		Answers:   answers,
		StartedAt: s.attempt.StartedAt,
		SavedAt:   s.now(),
	}
	if err := s.cache.Store(s.testID, s.userID, entry); err != nil {
		log.Error().Err(err).Str("testID", s.testID).Msg("Failed to write answer cache")
	}
}

func (s *Session) dropCache() {
	if err := s.cache.Delete(s.testID, s.userID); err != nil {
		log.Warn().Err(err).Str("testID", s.testID).Msg("Failed to delete answer cache")
	}
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) SaveStatus() SaveStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saveStatus
}

func (s *Session) Answers() model.AnswerSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.answers.Clone()
}

func (s *Session) AttemptID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.attempt == nil {
		return ""
	}
	return s.attempt.ID
}

// Result is the graded attempt once the session completed.
func (s *Session) Result() *dto.TestAttemptDTO {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result
}

// Remaining is the time left on the countdown. ok is false for untimed attempts.
func (s *Session) Remaining() (d time.Duration, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.attempt == nil || s.attempt.ExpiresAt == nil {
		return 0, false
	}
	return max(s.attempt.ExpiresAt.Sub(s.now()), 0), true
}

func isCompleted(a *dto.TestAttemptDTO) bool {
	return a.CompletedAt != nil || a.Status == dto.AttemptStatusCompleted
}
