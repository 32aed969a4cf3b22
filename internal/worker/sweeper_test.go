package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lshigami/safetycert/config"
)

type fakeExpirer struct {
	calls atomic.Int32
	limit atomic.Int32
	err   error
}

func (f *fakeExpirer) ExpireOverdue(_ context.Context, _ time.Time, limit int) (int, error) {
	f.calls.Add(1)
	f.limit.Store(int32(limit))
	return 2, f.err
}

type fakeReconciler struct {
	calls atomic.Int32
	err   error
}

func (f *fakeReconciler) Reconcile(context.Context, int) (int, error) {
	f.calls.Add(1)
	return 0, f.err
}

func TestNewSweeperDefaults(t *testing.T) {
	s := NewSweeper(&config.Config{}, &fakeExpirer{}, &fakeReconciler{})
	assert.Equal(t, defaultSweepInterval, s.interval)
	assert.Equal(t, defaultSweepBatch, s.batch)
}

func TestRunOnceRunsBothJobs(t *testing.T) {
	exp, rec := &fakeExpirer{}, &fakeReconciler{}
	cfg := &config.Config{Exam: config.Exam{SweepBatch: 7}}
	s := NewSweeper(cfg, exp, rec)

	require.NoError(t, s.RunOnce(context.Background()))
	assert.EqualValues(t, 1, exp.calls.Load())
	assert.EqualValues(t, 7, exp.limit.Load())
	assert.EqualValues(t, 1, rec.calls.Load())
}

func TestRunOnceReportsFailureButRunsOtherJob(t *testing.T) {
	boom := errors.New("boom")
	exp, rec := &fakeExpirer{err: boom}, &fakeReconciler{}
	s := NewSweeper(&config.Config{}, exp, rec)

	err := s.RunOnce(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.EqualValues(t, 1, rec.calls.Load())
}

func TestStartStop(t *testing.T) {
	exp, rec := &fakeExpirer{}, &fakeReconciler{}
	s := NewSweeper(&config.Config{Exam: config.Exam{SweepInterval: 5 * time.Millisecond}}, exp, rec)

	s.Start()
	assert.Eventually(t, func() bool { return exp.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	s.Stop()

	after := exp.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, exp.calls.Load())
}
