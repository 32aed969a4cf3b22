package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lshigami/safetycert/internal/apperr"
	"github.com/lshigami/safetycert/internal/dto"
	"github.com/lshigami/safetycert/internal/model"
)

var errOffline = &apperr.NetworkError{Op: "request", Err: errors.New("connection refused")}

type fakeStore struct {
	mu        sync.Mutex
	attempts  map[string]*dto.TestAttemptDTO
	seq       int
	timeLimit time.Duration

	failSave   bool
	failSubmit bool

	// saveGate, when set, holds every SaveAnswers call until it is closed.
	saveGate    chan struct{}
	saveStarted chan struct{}

	starts    int
	saves     []model.AnswerSet
	submits   int
	submitted model.AnswerSet
	calls     []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{attempts: map[string]*dto.TestAttemptDTO{}}
}

func (f *fakeStore) add(a dto.TestAttemptDTO) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := a
	f.attempts[a.ID] = &cp
}

func (f *fakeStore) StartAttempt(_ context.Context, testID string) (*dto.TestAttemptDTO, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	f.seq++
	a := &dto.TestAttemptDTO{
		ID:        fmt.Sprintf("attempt-%d", f.seq),
		TestID:    testID,
		Status:    dto.AttemptStatusInProgress,
		StartedAt: time.Now(),
		Answers:   model.AnswerSet{},
	}
	if f.timeLimit > 0 {
		exp := a.StartedAt.Add(f.timeLimit)
		a.ExpiresAt = &exp
	}
	f.attempts[a.ID] = a
	cp := *a
	return &cp, nil
}

func (f *fakeStore) GetAttempt(_ context.Context, attemptID string) (*dto.TestAttemptDTO, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[attemptID]
	if !ok {
		return nil, apperr.NotFound("attempt", attemptID)
	}
	cp := *a
	cp.Answers = a.Answers.Clone()
	return &cp, nil
}

func (f *fakeStore) ListAttempts(_ context.Context, testID string) ([]dto.TestAttemptDTO, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []dto.TestAttemptDTO
	for _, a := range f.attempts {
		if a.TestID == testID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeStore) SaveAnswers(_ context.Context, attemptID string, answers model.AnswerSet) error {
	f.mu.Lock()
	gate, started := f.saveGate, f.saveStarted
	f.mu.Unlock()
	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSave {
		return errOffline
	}
	f.calls = append(f.calls, "save")
	f.saves = append(f.saves, answers.Clone())
	f.attempts[attemptID].Answers = answers.Clone()
	return nil
}

func (f *fakeStore) SubmitAttempt(_ context.Context, attemptID string, answers model.AnswerSet, _ *Video) (*dto.TestAttemptDTO, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSubmit {
		return nil, errOffline
	}
	f.submits++
	f.calls = append(f.calls, "submit")
	f.submitted = answers.Clone()
	a := f.attempts[attemptID]
	now := time.Now()
	a.Answers = a.Answers.Merge(answers)
	a.CompletedAt = &now
	a.Status = dto.AttemptStatusCompleted
	cp := *a
	return &cp, nil
}

func (f *fakeStore) counts() (starts, saves, submits int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, len(f.saves), f.submits
}

func (f *fakeStore) set(fn func(f *fakeStore)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func TestOpenStartsNewAttempt(t *testing.T) {
	store := newFakeStore()
	s := New(store, NewMemoryCache(), "test-1", "user-1")
	defer s.Close()

	require.NoError(t, s.Open(context.Background(), ""))
	assert.Equal(t, StateInProgress, s.State())
	assert.Equal(t, "attempt-1", s.AttemptID())
	starts, _, _ := store.counts()
	assert.Equal(t, 1, starts)

	assert.True(t, apperr.IsConflict(s.Open(context.Background(), "")))
}

func TestOpenResumesIncompleteServerAttempt(t *testing.T) {
	store := newFakeStore()
	store.add(dto.TestAttemptDTO{ID: "a-old", TestID: "test-1", Status: dto.AttemptStatusInProgress,
		Answers: model.AnswerSet{"q1": {"o1"}}})
	s := New(store, NewMemoryCache(), "test-1", "user-1")
	defer s.Close()

	require.NoError(t, s.Open(context.Background(), ""))
	assert.Equal(t, "a-old", s.AttemptID())
	assert.Equal(t, model.AnswerValue{"o1"}, s.Answers()["q1"])
	starts, _, _ := store.counts()
	assert.Zero(t, starts)
}

func TestOpenExplicitCompletedAttempt(t *testing.T) {
	store := newFakeStore()
	done := time.Now()
	store.add(dto.TestAttemptDTO{ID: "a-done", TestID: "test-1", CompletedAt: &done})
	s := New(store, NewMemoryCache(), "test-1", "user-1")

	require.NoError(t, s.Open(context.Background(), "a-done"))
	assert.Equal(t, StateCompleted, s.State())
	require.NotNil(t, s.Result())
	assert.Equal(t, "a-done", s.Result().ID)
}

func TestOpenExplicitAttemptKeepsCachedAnswers(t *testing.T) {
	store := newFakeStore()
	store.add(dto.TestAttemptDTO{ID: "a-1", TestID: "test-1", Status: dto.AttemptStatusInProgress,
		Answers: model.AnswerSet{"q1": {"x"}}})
	cache := NewMemoryCache()
	require.NoError(t, cache.Store("test-1", "user-1", CacheEntry{
		AttemptID: "a-1",
		Answers:   model.AnswerSet{"q1": {"x"}, "q2": {"unsaved"}},
	}))

	s := New(store, cache, "test-1", "user-1", WithDebounce(time.Hour))
	defer s.Close()
	require.NoError(t, s.Open(context.Background(), "a-1"))

	want := model.AnswerSet{"q1": {"x"}, "q2": {"unsaved"}}
	assert.Equal(t, want, s.Answers())
	assert.Equal(t, SavePending, s.SaveStatus())

	_, err := s.Submit(context.Background(), nil)
	require.NoError(t, err)
	store.mu.Lock()
	submitted := store.submitted
	store.mu.Unlock()
	assert.Equal(t, want, submitted)

	entry, err := cache.Load("test-1", "user-1")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestOpenExplicitCompletedAttemptDropsCache(t *testing.T) {
	store := newFakeStore()
	done := time.Now()
	store.add(dto.TestAttemptDTO{ID: "a-1", TestID: "test-1", CompletedAt: &done, Status: dto.AttemptStatusCompleted})
	cache := NewMemoryCache()
	require.NoError(t, cache.Store("test-1", "user-1", CacheEntry{AttemptID: "a-1", Answers: model.AnswerSet{"q1": {"late"}}}))

	s := New(store, cache, "test-1", "user-1")
	require.NoError(t, s.Open(context.Background(), "a-1"))
	assert.Equal(t, StateCompleted, s.State())

	entry, err := cache.Load("test-1", "user-1")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestOpenMergesCachedAnswersOverServer(t *testing.T) {
	store := newFakeStore()
	store.add(dto.TestAttemptDTO{ID: "a-1", TestID: "test-1", Status: dto.AttemptStatusInProgress,
		Answers: model.AnswerSet{"q1": {"server"}, "q2": {"server"}}})
	cache := NewMemoryCache()
	require.NoError(t, cache.Store("test-1", "user-1", CacheEntry{
		AttemptID: "a-1",
		Answers:   model.AnswerSet{"q2": {"cached"}, "q3": {"x", "y"}},
	}))

	s := New(store, cache, "test-1", "user-1", WithDebounce(5*time.Millisecond))
	defer s.Close()
	require.NoError(t, s.Open(context.Background(), ""))

	want := model.AnswerSet{"q1": {"server"}, "q2": {"cached"}, "q3": {"x", "y"}}
	assert.Equal(t, want, s.Answers())

	entry, err := cache.Load("test-1", "user-1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, want, entry.Answers)

	assert.Eventually(t, func() bool { return s.SaveStatus() == SaveSaved }, time.Second, 5*time.Millisecond)
	got, err := store.GetAttempt(context.Background(), "a-1")
	require.NoError(t, err)
	assert.Equal(t, want, got.Answers)
}

func TestOpenDropsCacheOfCompletedAttempt(t *testing.T) {
	store := newFakeStore()
	done := time.Now()
	store.add(dto.TestAttemptDTO{ID: "a-1", TestID: "test-1", CompletedAt: &done, Status: dto.AttemptStatusCompleted})
	cache := NewMemoryCache()
	require.NoError(t, cache.Store("test-1", "user-1", CacheEntry{AttemptID: "a-1", Answers: model.AnswerSet{"q1": {"o1"}}}))

	s := New(store, cache, "test-1", "user-1")
	defer s.Close()
	require.NoError(t, s.Open(context.Background(), ""))

	entry, err := cache.Load("test-1", "user-1")
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.NotEqual(t, "a-1", s.AttemptID())
	assert.Empty(t, s.Answers())
}

func TestDebouncedAutosaveCoalescesEdits(t *testing.T) {
	store := newFakeStore()
	s := New(store, NewMemoryCache(), "test-1", "user-1", WithDebounce(30*time.Millisecond))
	defer s.Close()
	require.NoError(t, s.Open(context.Background(), ""))

	require.NoError(t, s.RecordAnswer("q1", model.AnswerValue{"a"}))
	require.NoError(t, s.RecordAnswer("q1", model.AnswerValue{"b"}))
	require.NoError(t, s.RecordAnswer("q2", model.AnswerValue{"c", "d"}))
	assert.Equal(t, SavePending, s.SaveStatus())

	assert.Eventually(t, func() bool { return s.SaveStatus() == SaveSaved }, time.Second, 5*time.Millisecond)
	_, saves, _ := store.counts()
	assert.Equal(t, 1, saves)
	assert.Equal(t, model.AnswerSet{"q1": {"b"}, "q2": {"c", "d"}}, store.saves[0])
}

func TestAutosaveFailureFallsBackToCache(t *testing.T) {
	store := newFakeStore()
	store.failSave = true
	cache := NewMemoryCache()
	s := New(store, cache, "test-1", "user-1", WithDebounce(5*time.Millisecond))
	defer s.Close()
	require.NoError(t, s.Open(context.Background(), ""))

	require.NoError(t, s.RecordAnswer("q1", model.AnswerValue{"a"}))
	assert.Eventually(t, func() bool { return s.SaveStatus() == SaveError }, time.Second, 5*time.Millisecond)

	assert.Equal(t, model.AnswerSet{"q1": {"a"}}, s.Answers())
	entry, err := cache.Load("test-1", "user-1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, s.AttemptID(), entry.AttemptID)
	assert.Equal(t, model.AnswerSet{"q1": {"a"}}, entry.Answers)
}

func TestSubmitRetriesAfterNetworkFailure(t *testing.T) {
	store := newFakeStore()
	cache := NewMemoryCache()
	s := New(store, cache, "test-1", "user-1", WithDebounce(time.Hour))
	defer s.Close()
	require.NoError(t, s.Open(context.Background(), ""))
	require.NoError(t, s.RecordAnswer("q1", model.AnswerValue{"a"}))

	store.set(func(f *fakeStore) { f.failSubmit = true })
	_, err := s.Submit(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, apperr.IsNetwork(err))
	assert.Equal(t, StateInProgress, s.State())
	assert.Equal(t, model.AnswerSet{"q1": {"a"}}, s.Answers())

	entry, _ := cache.Load("test-1", "user-1")
	require.NotNil(t, entry)

	store.set(func(f *fakeStore) { f.failSubmit = false })
	res, err := s.Submit(context.Background(), &Video{ContentType: "video/webm", Data: []byte("v")})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, s.State())
	assert.Equal(t, model.AnswerValue{"a"}, res.Answers["q1"])

	entry, _ = cache.Load("test-1", "user-1")
	assert.Nil(t, entry)
}

func TestSubmitWaitsForInFlightAutosave(t *testing.T) {
	store := newFakeStore()
	gate := make(chan struct{})
	started := make(chan struct{}, 1)
	store.saveGate, store.saveStarted = gate, started
	s := New(store, NewMemoryCache(), "test-1", "user-1", WithDebounce(5*time.Millisecond))
	defer s.Close()
	require.NoError(t, s.Open(context.Background(), ""))

	require.NoError(t, s.RecordAnswer("q1", model.AnswerValue{"a"}))
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("autosave did not start")
	}
	// edited while the first save is still in flight
	require.NoError(t, s.RecordAnswer("q2", model.AnswerValue{"b"}))

	type submitResult struct {
		res *dto.TestAttemptDTO
		err error
	}
	done := make(chan submitResult, 1)
	go func() {
		res, err := s.Submit(context.Background(), nil)
		done <- submitResult{res, err}
	}()

	assert.Never(t, func() bool {
		_, _, submits := store.counts()
		return submits > 0
	}, 50*time.Millisecond, 5*time.Millisecond)

	close(gate)
	var out submitResult
	select {
	case out = <-done:
	case <-time.After(time.Second):
		t.Fatal("submit did not finish")
	}
	require.NoError(t, out.err)
	assert.Equal(t, StateCompleted, s.State())

	store.mu.Lock()
	defer store.mu.Unlock()
	require.NotEmpty(t, store.calls)
	assert.Equal(t, "save", store.calls[0])
	assert.Equal(t, "submit", store.calls[len(store.calls)-1])
	assert.Equal(t, 1, store.submits)
	assert.Equal(t, model.AnswerSet{"q1": {"a"}, "q2": {"b"}}, store.submitted)
}

func TestSubmitCompletedSessionIsNoop(t *testing.T) {
	store := newFakeStore()
	s := New(store, NewMemoryCache(), "test-1", "user-1")
	require.NoError(t, s.Open(context.Background(), ""))

	first, err := s.Submit(context.Background(), nil)
	require.NoError(t, err)
	second, err := s.Submit(context.Background(), nil)
	require.NoError(t, err)
	assert.Same(t, first, second)
	_, _, submits := store.counts()
	assert.Equal(t, 1, submits)

	assert.True(t, apperr.IsConflict(s.RecordAnswer("q1", model.AnswerValue{"a"})))
}

func TestCountdownSubmitsExactlyOnce(t *testing.T) {
	store := newFakeStore()
	store.timeLimit = 40 * time.Millisecond

	var mu sync.Mutex
	calls := 0
	s := New(store, NewMemoryCache(), "test-1", "user-1",
		OnAutoSubmit(func(res *dto.TestAttemptDTO, err error) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			assert.NoError(t, err)
			assert.NotNil(t, res)
		}))
	defer s.Close()
	require.NoError(t, s.Open(context.Background(), ""))
	require.NoError(t, s.RecordAnswer("q1", model.AnswerValue{"a"}))

	remaining, ok := s.Remaining()
	assert.True(t, ok)
	assert.LessOrEqual(t, remaining, 40*time.Millisecond)

	assert.Eventually(t, func() bool { return s.State() == StateCompleted }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	_, _, submits := store.counts()
	assert.Equal(t, 1, submits)
	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
	assert.Equal(t, model.AnswerValue{"a"}, s.Result().Answers["q1"])
}

func TestCloseNeverSubmits(t *testing.T) {
	store := newFakeStore()
	store.timeLimit = 30 * time.Millisecond
	cache := NewMemoryCache()
	s := New(store, cache, "test-1", "user-1", WithDebounce(time.Hour))
	require.NoError(t, s.Open(context.Background(), ""))
	require.NoError(t, s.RecordAnswer("q1", model.AnswerValue{"a"}))

	s.Close()
	time.Sleep(60 * time.Millisecond)

	_, saves, submits := store.counts()
	assert.Zero(t, saves)
	assert.Zero(t, submits)
	entry, err := cache.Load("test-1", "user-1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, model.AnswerSet{"q1": {"a"}}, entry.Answers)

	resumed := New(store, cache, "test-1", "user-1", WithDebounce(time.Hour))
	defer resumed.Close()
	require.NoError(t, resumed.Open(context.Background(), ""))
	assert.Equal(t, s.AttemptID(), resumed.AttemptID())
	assert.Equal(t, model.AnswerSet{"q1": {"a"}}, resumed.Answers())
}

func TestMemoryCacheIgnoresOtherVersions(t *testing.T) {
	cache := NewMemoryCache()
	require.NoError(t, cache.Store("t", "u", CacheEntry{Version: CacheVersion - 1, AttemptID: "a"}))
	entry, err := cache.Load("t", "u")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestFileCache(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewFileCache(dir)
	require.NoError(t, err)

	entry, err := cache.Load("test/1", "user 1")
	require.NoError(t, err)
	assert.Nil(t, entry)

	started := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, cache.Store("test/1", "user 1", CacheEntry{
		AttemptID: "a-1",
		Answers:   model.AnswerSet{"q1": {"o1", "o2"}},
		StartedAt: started,
	}))
	entry, err = cache.Load("test/1", "user 1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, CacheVersion, entry.Version)
	assert.Equal(t, "a-1", entry.AttemptID)
	assert.True(t, started.Equal(entry.StartedAt))
	assert.Equal(t, model.AnswerValue{"o1", "o2"}, entry.Answers["q1"])

	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	require.NoError(t, err)
	assert.Len(t, files, 1)

	require.NoError(t, os.WriteFile(files[0], []byte(`{"version":1,"attempt_id":"old"}`), 0o600))
	entry, err = cache.Load("test/1", "user 1")
	require.NoError(t, err)
	assert.Nil(t, entry)

	require.NoError(t, cache.Delete("test/1", "user 1"))
	require.NoError(t, cache.Delete("test/1", "user 1"))
}
