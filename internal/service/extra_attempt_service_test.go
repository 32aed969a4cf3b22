package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lshigami/safetycert/internal/apperr"
	"github.com/lshigami/safetycert/internal/dto"
	"github.com/lshigami/safetycert/internal/model"
	"github.com/lshigami/safetycert/internal/repository"
)

func TestExtraAttemptRequestLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	test := h.seedTest(t, testSpec{maxAttempts: 1, weights: []float64{1}})

	h.takeAttempt(t, test, nil)

	_, err := h.extras.Create(ctx, test.ID, studentID, dto.ExtraAttemptCreateRequest{Reason: "   "})
	assert.True(t, apperr.IsValidation(err))

	req, err := h.extras.Create(ctx, test.ID, studentID, dto.ExtraAttemptCreateRequest{Reason: " technical issue "})
	require.NoError(t, err)
	assert.Equal(t, model.ExtraAttemptPending, req.Status)
	assert.Equal(t, "technical issue", req.Reason)

	_, err = h.extras.Create(ctx, test.ID, studentID, dto.ExtraAttemptCreateRequest{Reason: "again"})
	assert.True(t, apperr.IsConflict(err), "one pending request at a time")

	rejected, err := h.extras.Reject(ctx, req.ID, adminID, dto.ExtraAttemptDecisionRequest{})
	require.NoError(t, err)
	assert.Equal(t, model.ExtraAttemptRejected, rejected.Status)
	require.NotNil(t, rejected.AdminResponse)
	assert.Equal(t, defaultRejectionResponse, *rejected.AdminResponse)
	assert.Equal(t, adminID, *rejected.ProcessedBy)

	_, err = h.extras.Approve(ctx, req.ID, adminID, dto.ExtraAttemptDecisionRequest{})
	assert.True(t, apperr.IsConflict(err), "resolved requests are terminal")

	_, err = h.attempts.Start(ctx, test.ID, studentID)
	assert.True(t, apperr.IsAttemptLimit(err))

	h.clock.Advance(time.Minute)
	again, err := h.extras.Create(ctx, test.ID, studentID, dto.ExtraAttemptCreateRequest{Reason: "power outage"})
	require.NoError(t, err)
	approved, err := h.extras.Approve(ctx, again.ID, adminID, dto.ExtraAttemptDecisionRequest{AdminResponse: "ok"})
	require.NoError(t, err)
	assert.Equal(t, model.ExtraAttemptApproved, approved.Status)

	_, err = h.attempts.Start(ctx, test.ID, studentID)
	require.NoError(t, err)
}

func TestCurrentRequestPrefersPending(t *testing.T) {
	reqs := []model.ExtraAttemptRequest{
		{ID: "newest-approved", Status: model.ExtraAttemptApproved},
		{ID: "rejected-2", Status: model.ExtraAttemptRejected},
		{ID: "pending", Status: model.ExtraAttemptPending},
		{ID: "rejected-1", Status: model.ExtraAttemptRejected},
	}
	assert.Equal(t, "pending", CurrentRequest(reqs).ID)
	assert.Equal(t, "rejected-2", CurrentRequest(reqs[:2]).ID)
	assert.Nil(t, CurrentRequest(reqs[:1]))
}

func TestCurrentAndList(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	test := h.seedTest(t, testSpec{maxAttempts: 1, weights: []float64{1}})
	h.takeAttempt(t, test, nil)

	_, err := h.extras.Create(ctx, "missing", studentID, dto.ExtraAttemptCreateRequest{Reason: "sick"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = h.extras.Current(ctx, test.ID, studentID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	req, err := h.extras.Create(ctx, test.ID, studentID, dto.ExtraAttemptCreateRequest{Reason: "sick"})
	require.NoError(t, err)
	current, err := h.extras.Current(ctx, test.ID, studentID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, current.ID)

	pending, err := h.extras.List(ctx, repository.ExtraAttemptFilter{Status: model.ExtraAttemptPending})
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	_, err = h.extras.List(ctx, repository.ExtraAttemptFilter{Status: "bogus"})
	assert.True(t, apperr.IsValidation(err))
}
