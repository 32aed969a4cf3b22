package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lshigami/safetycert/internal/apperr"
	"github.com/lshigami/safetycert/internal/model"
	"github.com/lshigami/safetycert/internal/repository"
)

// passFinal completes a passed final exam and returns its protocol id.
func (h *harness) passFinal(t *testing.T) string {
	t.Helper()
	return h.passFinalOf(t, h.seedTest(t, testSpec{kind: model.TestKindFinalExam, passingScore: 50, weights: []float64{1}}))
}

func (h *harness) passFinalOf(t *testing.T, test *model.Test) string {
	t.Helper()
	attemptID := h.takeAttempt(t, test, answersFor(test, 0))
	p, err := h.protocols.FindByAttempt(context.Background(), attemptID)
	require.NoError(t, err)
	return p.ID
}

func TestCreateForAttemptIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.seedCommission(t)
	h.seedStudent(t)
	ctx := context.Background()
	id := h.passFinal(t)

	p, err := h.protocols.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.ProtocolPendingPDEK, p.Status)
	assert.Equal(t, model.ResultPassed, p.Result)
	assert.Equal(t, "Student Name", p.StudentName)
	assert.Equal(t, "900101300123", p.StudentIIN)
	require.Len(t, p.Signatures, 3)
	assert.Equal(t, model.SignerRoleChairman, p.Signatures[2].Role)
	assert.Equal(t, 3, p.Signatures[2].Position)
	assert.Empty(t, p.Warnings)

	stored, err := h.repos.Protocols.FindByID(ctx, id)
	require.NoError(t, err)
	attempt, err := h.repos.Attempts.FindByID(ctx, stored.AttemptID)
	require.NoError(t, err)
	test, err := h.repos.Tests.FindByID(ctx, stored.TestID)
	require.NoError(t, err)

	again, err := h.protocols.CreateForAttempt(ctx, attempt, test)
	require.NoError(t, err)
	assert.Equal(t, id, again.ID)

	all, err := h.protocols.List(ctx, repository.ProtocolFilter{UserID: studentID})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestFailedFinalExamHasNoProtocol(t *testing.T) {
	h := newHarness(t)
	h.seedCommission(t)
	test := h.seedTest(t, testSpec{kind: model.TestKindFinalExam, passingScore: 50, weights: []float64{1}})
	attemptID := h.takeAttempt(t, test, answersFor(test))

	_, err := h.protocols.FindByAttempt(context.Background(), attemptID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAggregateStatus(t *testing.T) {
	member := func(signed bool) model.Signature {
		return model.Signature{Role: model.SignerRoleMember, OTPVerified: signed}
	}
	chair := func(signed bool) model.Signature {
		return model.Signature{Role: model.SignerRoleChairman, OTPVerified: signed}
	}
	tests := []struct {
		name    string
		current string
		sigs    []model.Signature
		want    string
	}{
		{"nothing signed", model.ProtocolPendingPDEK, []model.Signature{member(false), member(false), chair(false)}, model.ProtocolPendingPDEK},
		{"one member", model.ProtocolPendingPDEK, []model.Signature{member(true), member(false), chair(false)}, model.ProtocolPendingPDEK},
		{"all members", model.ProtocolPendingPDEK, []model.Signature{member(true), member(true), chair(false)}, model.ProtocolSignedMembers},
		{"everyone", model.ProtocolSignedMembers, []model.Signature{member(true), member(true), chair(true)}, model.ProtocolSignedChairman},
		{"rejected stays", model.ProtocolRejected, []model.Signature{member(true), chair(true)}, model.ProtocolRejected},
		{"annulled stays", model.ProtocolAnnulled, []model.Signature{member(true), chair(true)}, model.ProtocolAnnulled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AggregateStatus(tt.current, tt.sigs))
		})
	}
}

func TestValidateSignatureOrder(t *testing.T) {
	early := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)

	ok := []model.Signature{
		{SignerName: "A", Role: model.SignerRoleMember, OTPVerified: true, SignedAt: &early},
		{SignerName: "C", Role: model.SignerRoleChairman, OTPVerified: true, SignedAt: &late},
	}
	assert.Empty(t, ValidateSignatureOrder(ok))

	chairFirst := []model.Signature{
		{SignerName: "A", Role: model.SignerRoleMember, OTPVerified: true, SignedAt: &late},
		{SignerName: "B", Role: model.SignerRoleMember},
		{SignerName: "C", Role: model.SignerRoleChairman, OTPVerified: true, SignedAt: &early},
	}
	warnings := ValidateSignatureOrder(chairFirst)
	require.Len(t, warnings, 2)
	assert.Contains(t, warnings[0], "before member A")
	assert.Contains(t, warnings[1], "member B has not signed")

	noChair := []model.Signature{{SignerName: "A", Role: model.SignerRoleMember}}
	assert.Equal(t, []string{"expected exactly one chairman signature, found 0"}, ValidateSignatureOrder(noChair))

	onlyChairs := []model.Signature{{Role: model.SignerRoleChairman}, {Role: model.SignerRoleChairman}}
	assert.Len(t, ValidateSignatureOrder(onlyChairs), 2)
}

func TestSigningFlow(t *testing.T) {
	h := newHarness(t)
	h.seedCommission(t)
	h.seedStudent(t)
	ctx := context.Background()
	id := h.passFinal(t)

	err := h.sign(t, id, chairmanID)
	assert.True(t, apperr.IsConflict(err), "chairman must wait for members")

	_, err = h.protocols.RequestSignature(ctx, id, "stranger")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	issued, err := h.protocols.RequestSignature(ctx, id, member1ID)
	require.NoError(t, err)
	msg, _ := h.sms.Last()
	assert.Equal(t, "+77010000001", msg.Phone)
	_, err = h.protocols.Sign(ctx, id, member1ID, "999999x")
	assert.ErrorIs(t, err, apperr.ErrOTPInvalid)
	p, err := h.protocols.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, p.Signatures[0].OTPVerified, "a failed code changes nothing")

	p, err = h.protocols.Sign(ctx, id, member1ID, issued.Code)
	require.NoError(t, err)
	assert.Equal(t, model.ProtocolPendingPDEK, p.Status)
	assert.True(t, p.Signatures[0].OTPVerified)

	err = h.sign(t, id, member1ID)
	assert.True(t, apperr.IsConflict(err), "double signing")

	h.clock.Advance(time.Minute)
	require.NoError(t, h.sign(t, id, member2ID))
	p, err = h.protocols.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.ProtocolSignedMembers, p.Status)

	h.clock.Advance(time.Minute)
	require.NoError(t, h.sign(t, id, chairmanID))
	p, err = h.protocols.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.ProtocolSignedChairman, p.Status)
	assert.Empty(t, p.Warnings)

	_, err = h.repos.Certificates.FindByProtocolID(ctx, id)
	assert.NoError(t, err, "certificate issued on the chairman signature")

	_, err = h.protocols.Reject(ctx, id, member1ID, "too late")
	assert.True(t, apperr.IsConflict(err))
}

func TestSignatureCodeIsBoundToProtocol(t *testing.T) {
	h := newHarness(t)
	h.seedCommission(t)
	h.seedStudent(t)
	ctx := context.Background()
	first := h.passFinal(t)
	second := h.passFinal(t)

	issuedFirst, err := h.protocols.RequestSignature(ctx, first, member1ID)
	require.NoError(t, err)
	issuedSecond, err := h.protocols.RequestSignature(ctx, second, member1ID)
	require.NoError(t, err)
	for issuedSecond.Code == issuedFirst.Code {
		issuedSecond, err = h.protocols.RequestSignature(ctx, second, member1ID)
		require.NoError(t, err)
	}

	_, err = h.protocols.Sign(ctx, second, member1ID, issuedFirst.Code)
	assert.ErrorIs(t, err, apperr.ErrOTPInvalid)
	p, err := h.protocols.Get(ctx, second)
	require.NoError(t, err)
	assert.False(t, p.Signatures[0].OTPVerified)

	// a code for the second protocol leaves the first one's code usable
	p, err = h.protocols.Sign(ctx, first, member1ID, issuedFirst.Code)
	require.NoError(t, err)
	assert.True(t, p.Signatures[0].OTPVerified)

	p, err = h.protocols.Sign(ctx, second, member1ID, issuedSecond.Code)
	require.NoError(t, err)
	assert.True(t, p.Signatures[0].OTPVerified)
}

func TestConcurrentMemberSignatures(t *testing.T) {
	h := newHarness(t)
	h.seedCommission(t)
	h.seedStudent(t)
	ctx := context.Background()
	id := h.passFinal(t)

	codes := map[string]string{}
	for _, signer := range []string{member1ID, member2ID} {
		issued, err := h.protocols.RequestSignature(ctx, id, signer)
		require.NoError(t, err)
		codes[signer] = issued.Code
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(codes))
	for signer, code := range codes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.protocols.Sign(ctx, id, signer, code)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	p, err := h.protocols.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.ProtocolSignedMembers, p.Status)
}

func TestRejectAndReopen(t *testing.T) {
	h := newHarness(t)
	h.seedCommission(t)
	h.seedStudent(t)
	ctx := context.Background()
	id := h.passFinal(t)
	require.NoError(t, h.sign(t, id, member1ID))

	_, err := h.protocols.Reject(ctx, id, member2ID, "  ")
	assert.True(t, apperr.IsValidation(err))
	_, err = h.protocols.Reject(ctx, id, "stranger", "no")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	p, err := h.protocols.Reject(ctx, id, member2ID, "wrong IIN")
	require.NoError(t, err)
	assert.Equal(t, model.ProtocolRejected, p.Status)
	assert.Equal(t, "wrong IIN", *p.RejectionReason)
	assert.Equal(t, member2ID, *p.RejectedBy)

	err = h.sign(t, id, member2ID)
	assert.True(t, apperr.IsConflict(err))

	p, err = h.protocols.Reopen(ctx, id, adminID)
	require.NoError(t, err)
	assert.Equal(t, model.ProtocolPendingPDEK, p.Status)
	assert.Nil(t, p.RejectionReason)
	require.Len(t, p.Signatures, 3)
	for _, s := range p.Signatures {
		assert.False(t, s.OTPVerified, "reopened protocols start from a fresh roster")
	}

	_, err = h.protocols.Reopen(ctx, id, adminID)
	assert.True(t, apperr.IsConflict(err))
}

func TestAnnul(t *testing.T) {
	h := newHarness(t)
	h.seedCommission(t)
	ctx := context.Background()
	id := h.passFinal(t)

	_, err := h.protocols.Annul(ctx, id, adminID, "")
	assert.True(t, apperr.IsValidation(err))

	p, err := h.protocols.Annul(ctx, id, adminID, "fraud")
	require.NoError(t, err)
	assert.Equal(t, model.ProtocolAnnulled, p.Status)
	assert.Equal(t, adminID, *p.AnnulledBy)

	_, err = h.protocols.Annul(ctx, id, adminID, "again")
	assert.True(t, apperr.IsConflict(err))
	err = h.sign(t, id, member1ID)
	assert.True(t, apperr.IsConflict(err))

	_, err = h.protocols.Annul(ctx, "missing", adminID, "x")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestIncompleteRosterLeavesProtocolGenerated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.repos.Commission.Upsert(ctx, &model.CommissionMember{
		UserID: member1ID, FullName: "Member One", Phone: "+77010000001", Role: model.SignerRoleMember, Active: true,
	}))
	id := h.passFinal(t)

	p, err := h.protocols.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.ProtocolGenerated, p.Status)
	assert.Empty(t, p.Signatures)

	_, err = h.protocols.Reopen(ctx, id, adminID)
	assert.True(t, apperr.IsConflict(err), "roster still has no chairman")

	h.seedCommission(t)
	p, err = h.protocols.Reopen(ctx, id, adminID)
	require.NoError(t, err)
	assert.Equal(t, model.ProtocolPendingPDEK, p.Status)
	assert.Len(t, p.Signatures, 3)
}
