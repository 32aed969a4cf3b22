package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lshigami/safetycert/internal/apperr"
	"github.com/lshigami/safetycert/internal/model"
	"github.com/lshigami/safetycert/internal/repository"
)

// certify runs a final exam through every signature and returns the protocol id.
func (h *harness) certify(t *testing.T, validityMonths int) string {
	t.Helper()
	test := h.seedTest(t, testSpec{
		kind:          model.TestKindFinalExam,
		passingScore:  50,
		validityMonth: validityMonths,
		weights:       []float64{1},
	})
	id := h.passFinalOf(t, test)
	for _, signer := range []string{member1ID, member2ID, chairmanID} {
		require.NoError(t, h.sign(t, id, signer))
	}
	return id
}

func TestFormatCertificateNumber(t *testing.T) {
	assert.Equal(t, "PDEK-2025-000001", FormatCertificateNumber("PDEK", 2025, 1))
	assert.Equal(t, "X-2026-123456", FormatCertificateNumber("X", 2026, 123456))
}

func TestIssueForProtocol(t *testing.T) {
	h := newHarness(t)
	h.seedCommission(t)
	h.seedStudent(t)
	ctx := context.Background()
	protocolID := h.certify(t, 12)

	cert, err := h.repos.Certificates.FindByProtocolID(ctx, protocolID)
	require.NoError(t, err)
	assert.Equal(t, "PDEK-2025-000001", cert.Number)
	assert.Equal(t, "Student Name", cert.StudentName)
	require.NotNil(t, cert.ValidUntil)
	assert.Equal(t, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), *cert.ValidUntil)

	again, err := h.certs.IssueForProtocol(ctx, protocolID)
	require.NoError(t, err)
	assert.Equal(t, cert.ID, again.ID)
	assert.Equal(t, cert.Number, again.Number)

	issued, err := h.certs.Reconcile(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, issued)

	all, err := h.certs.List(ctx, repository.CertificateFilter{UserID: studentID})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	sent := h.mailer.Messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "student@example.com", sent[0].ToEmail)
	assert.Equal(t, "Your certificate has been issued", sent[0].Subject)
	assert.Contains(t, sent[0].TextContent, "PDEK-2025-000001")
}

func TestIssueRequiresChairmanSignature(t *testing.T) {
	h := newHarness(t)
	h.seedCommission(t)
	ctx := context.Background()
	protocolID := h.passFinal(t)

	_, err := h.certs.IssueForProtocol(ctx, protocolID)
	assert.True(t, apperr.IsConflict(err))

	_, err = h.certs.IssueForProtocol(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestReconcileIssuesMissingCertificates(t *testing.T) {
	h := newHarness(t)
	h.seedCommission(t)
	ctx := context.Background()
	protocolID := h.certify(t, 0)

	cert, err := h.repos.Certificates.FindByProtocolID(ctx, protocolID)
	require.NoError(t, err)
	assert.Nil(t, cert.ValidUntil, "no validity period configured")

	// a second signed protocol whose issuance did not happen
	p, err := h.repos.Protocols.FindByID(ctx, h.passFinal(t))
	require.NoError(t, err)
	p.Status = model.ProtocolSignedChairman
	require.NoError(t, h.repos.Protocols.Update(ctx, p))

	issued, err := h.certs.Reconcile(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, issued)

	second, err := h.repos.Certificates.FindByProtocolID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "PDEK-2025-000002", second.Number)
	assert.Empty(t, h.mailer.Messages(), "no e-mail without a profile")
}

func TestReissue(t *testing.T) {
	h := newHarness(t)
	h.seedCommission(t)
	h.seedStudent(t)
	ctx := context.Background()
	protocolID := h.certify(t, 12)
	cert, err := h.repos.Certificates.FindByProtocolID(ctx, protocolID)
	require.NoError(t, err)

	h.clock.Advance(24 * time.Hour)
	re, err := h.certs.Reissue(ctx, cert.ID, adminID)
	require.NoError(t, err)
	assert.Equal(t, cert.ID, re.ID)
	assert.Equal(t, "PDEK-2025-000002", re.Number)
	require.NotNil(t, re.PreviousNumber)
	assert.Equal(t, "PDEK-2025-000001", *re.PreviousNumber)
	assert.Equal(t, 1, re.ReissueCount)
	require.NotNil(t, re.ReissuedAt)
	assert.Equal(t, h.clock.Now(), *re.ReissuedAt)

	sent := h.mailer.Messages()
	require.Len(t, sent, 2)
	assert.Equal(t, "Your certificate has been reissued", sent[1].Subject)

	_, err = h.protocols.Annul(ctx, protocolID, adminID, "forged documents")
	require.NoError(t, err)
	_, err = h.certs.Reissue(ctx, cert.ID, adminID)
	assert.True(t, apperr.IsConflict(err))

	_, err = h.certs.Reissue(ctx, "missing", adminID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUploadAndDownload(t *testing.T) {
	h := newHarness(t)
	h.seedCommission(t)
	ctx := context.Background()
	protocolID := h.certify(t, 12)
	cert, err := h.repos.Certificates.FindByProtocolID(ctx, protocolID)
	require.NoError(t, err)

	file, err := h.certs.Download(ctx, cert.ID)
	require.NoError(t, err)
	assert.Equal(t, "PDEK-2025-000001.html", file.Name)
	assert.True(t, strings.HasPrefix(file.ContentType, "text/html"))
	assert.Contains(t, string(file.Data), "PDEK-2025-000001")
	assert.Contains(t, string(file.Data), "Valid until: 2026-03-01")

	_, err = h.certs.UploadFile(ctx, cert.ID, "cert.pdf", "application/pdf", nil)
	assert.True(t, apperr.IsValidation(err))
	_, err = h.certs.UploadFile(ctx, cert.ID, "cert.pdf", "", make([]byte, maxCertificateFileSize+1))
	assert.True(t, apperr.IsValidation(err))

	pdf := []byte("%PDF-1.4 test document")
	out, err := h.certs.UploadFile(ctx, cert.ID, "cert.pdf", "", pdf)
	require.NoError(t, err)
	assert.True(t, out.HasFile)

	file, err = h.certs.Download(ctx, cert.ID)
	require.NoError(t, err)
	assert.Equal(t, "cert.pdf", file.Name)
	assert.Equal(t, "application/pdf", file.ContentType)
	assert.Equal(t, pdf, file.Data)

	_, err = h.certs.Download(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
