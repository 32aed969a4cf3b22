package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lshigami/safetycert/config"
	"github.com/lshigami/safetycert/internal/apperr"
	"github.com/lshigami/safetycert/internal/dto"
	"github.com/lshigami/safetycert/internal/mail"
	"github.com/lshigami/safetycert/internal/model"
	"github.com/lshigami/safetycert/internal/repository"
)

const maxCertificateFileSize = 10 << 20

// CertificateFile is a downloadable certificate document.
type CertificateFile struct {
	Name        string
	ContentType string
	Data        []byte
}

type CertificateService interface {
	CertificateIssuer
	Reissue(ctx context.Context, certificateID, adminID string) (*dto.CertificateDTO, error)
	List(ctx context.Context, filter repository.CertificateFilter) ([]dto.CertificateDTO, error)
	Get(ctx context.Context, certificateID string) (*dto.CertificateDTO, error)
	UploadFile(ctx context.Context, certificateID, name, contentType string, data []byte) (*dto.CertificateDTO, error)
	// Download returns the uploaded file, or an HTML rendering when none was uploaded.
	Download(ctx context.Context, certificateID string) (*CertificateFile, error)
	// Reconcile issues certificates for fully signed protocols that have none.
	Reconcile(ctx context.Context, limit int) (int, error)
}

type certificateService struct {
	tx           repository.Transactor
	certRepo     repository.CertificateRepository
	protocolRepo repository.ProtocolRepository
	testRepo     repository.TestRepository
	profileRepo  repository.UserProfileRepository
	mailer       mail.Sender
	prefix       string
	now          func() time.Time
}

func NewCertificateService(
	cfg *config.Config,
	tx repository.Transactor,
	certRepo repository.CertificateRepository,
	protocolRepo repository.ProtocolRepository,
	testRepo repository.TestRepository,
	profileRepo repository.UserProfileRepository,
	mailer mail.Sender,
) CertificateService {
	prefix := cfg.Certificate.NumberPrefix
	if prefix == "" {
		prefix = "PDEK"
	}
	return &certificateService{
		tx:           tx,
		certRepo:     certRepo,
		protocolRepo: protocolRepo,
		testRepo:     testRepo,
		profileRepo:  profileRepo,
		mailer:       mailer,
		prefix:       prefix,
		now:          time.Now,
	}
}

// FormatCertificateNumber renders <prefix>-<year>-<serial padded to six digits>.
func FormatCertificateNumber(prefix string, year, serial int) string {
	return fmt.Sprintf("%s-%d-%06d", prefix, year, serial)
}

func (s *certificateService) nextNumber(ctx context.Context, at time.Time) (string, error) {
	serial, err := s.certRepo.NextSerial(ctx, at.Year())
	if err != nil {
		return "", fmt.Errorf("failed to allocate certificate number: %w", err)
	}
	return FormatCertificateNumber(s.prefix, at.Year(), serial), nil
}

func (s *certificateService) IssueForProtocol(ctx context.Context, protocolID string) (*dto.CertificateDTO, error) {
	var (
		cert    *model.Certificate
		created bool
	)
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		p, err := s.protocolRepo.FindByIDForUpdate(ctx, protocolID)
		if err != nil {
			return err
		}
		existing, err := s.certRepo.FindByProtocolID(ctx, protocolID)
		if err == nil {
			cert = existing
			return nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		if p.Status != model.ProtocolSignedChairman {
			return apperr.Conflict("protocol %s is %s, certificates require a chairman signature", p.ID, p.Status)
		}
		test, err := s.testRepo.FindByID(ctx, p.TestID)
		if err != nil {
			return fmt.Errorf("error fetching test %s: %w", p.TestID, err)
		}

		now := s.now()
		number, err := s.nextNumber(ctx, now)
		if err != nil {
			return err
		}
		cert = &model.Certificate{
			ProtocolID:  p.ID,
			TestID:      p.TestID,
			CourseID:    p.CourseID,
			UserID:      p.UserID,
			Number:      number,
			StudentName: p.StudentName,
			CourseTitle: p.CourseTitle,
			IssuedAt:    now,
		}
		if test.CertificateValidityMonths > 0 {
			validUntil := now.AddDate(0, test.CertificateValidityMonths, 0)
			cert.ValidUntil = &validUntil
		}
		created = true
		return s.certRepo.Create(ctx, cert)
	})
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.NotFound("protocol", protocolID)
		}
		log.Error().Err(err).Str("protocolID", protocolID).Msg("Certificate issuance failed")
		return nil, err
	}
	if created {
		log.Info().Str("certificateID", cert.ID).Str("number", cert.Number).Str("protocolID", protocolID).Msg("Certificate issued")
		s.notify(ctx, cert, "Your certificate has been issued")
	}
	return toCertificateDTO(cert), nil
}

func (s *certificateService) Reissue(ctx context.Context, certificateID, adminID string) (*dto.CertificateDTO, error) {
	var cert *model.Certificate
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		c, err := s.certRepo.FindByID(ctx, certificateID)
		if err != nil {
			return err
		}
		// the protocol row lock serializes reissue against issuance of the same protocol
		p, err := s.protocolRepo.FindByIDForUpdate(ctx, c.ProtocolID)
		if err != nil {
			return err
		}
		if p.Status == model.ProtocolAnnulled {
			return apperr.Conflict("protocol %s is annulled, certificate %s cannot be reissued", p.ID, c.Number)
		}
		now := s.now()
		number, err := s.nextNumber(ctx, now)
		if err != nil {
			return err
		}
		previous := c.Number
		c.PreviousNumber = &previous
		c.Number = number
		c.ReissuedAt = &now
		c.ReissueCount++
		if err := s.certRepo.Update(ctx, c); err != nil {
			return err
		}
		cert = c
		return nil
	})
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.NotFound("certificate", certificateID)
		}
		return nil, err
	}
	log.Info().Str("certificateID", cert.ID).Str("number", cert.Number).Str("previous", *cert.PreviousNumber).Str("adminID", adminID).Msg("Certificate reissued")
	s.notify(ctx, cert, "Your certificate has been reissued")
	return toCertificateDTO(cert), nil
}

func (s *certificateService) List(ctx context.Context, filter repository.CertificateFilter) ([]dto.CertificateDTO, error) {
	certs, err := s.certRepo.List(ctx, filter)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list certificates")
		return nil, fmt.Errorf("error fetching certificates: %w", err)
	}
	out := make([]dto.CertificateDTO, 0, len(certs))
	for i := range certs {
		out = append(out, *toCertificateDTO(&certs[i]))
	}
	return out, nil
}

func (s *certificateService) find(ctx context.Context, certificateID string) (*model.Certificate, error) {
	c, err := s.certRepo.FindByID(ctx, certificateID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.NotFound("certificate", certificateID)
		}
		return nil, fmt.Errorf("error fetching certificate %s: %w", certificateID, err)
	}
	return c, nil
}

func (s *certificateService) Get(ctx context.Context, certificateID string) (*dto.CertificateDTO, error) {
	c, err := s.find(ctx, certificateID)
	if err != nil {
		return nil, err
	}
	return toCertificateDTO(c), nil
}

func (s *certificateService) UploadFile(ctx context.Context, certificateID, name, contentType string, data []byte) (*dto.CertificateDTO, error) {
	if len(data) == 0 {
		return nil, apperr.Validation("file", "file is empty")
	}
	if len(data) > maxCertificateFileSize {
		return nil, apperr.Validation("file", "file exceeds 10 MB")
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	var cert *model.Certificate
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		c, err := s.certRepo.FindByID(ctx, certificateID)
		if err != nil {
			return err
		}
		c.FileName = name
		c.FileContentType = contentType
		c.FileData = data
		cert = c
		return s.certRepo.Update(ctx, c)
	})
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.NotFound("certificate", certificateID)
		}
		return nil, err
	}
	log.Info().Str("certificateID", certificateID).Str("fileName", name).Int("size", len(data)).Msg("Certificate file uploaded")
	return toCertificateDTO(cert), nil
}

var certificateTemplate = template.Must(template.New("certificate").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Certificate {{.Number}}</title></head>
<body>
<h1>Certificate of completion</h1>
<p>No. <strong>{{.Number}}</strong></p>
<p>This certifies that <strong>{{.StudentName}}</strong> has passed the knowledge check of the safety training course
<strong>{{.CourseTitle}}</strong>.</p>
<p>Issued: {{.IssuedAt.Format "2006-01-02"}}</p>
{{if .ValidUntil}}<p>Valid until: {{.ValidUntil.Format "2006-01-02"}}</p>{{end}}
{{if .PreviousNumber}}<p>Replaces certificate No. {{.PreviousNumber}}</p>{{end}}
</body>
</html>
`))

// RenderCertificateHTML renders the default certificate document.
func RenderCertificateHTML(c *model.Certificate) ([]byte, error) {
	var buf bytes.Buffer
	if err := certificateTemplate.Execute(&buf, c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *certificateService) Download(ctx context.Context, certificateID string) (*CertificateFile, error) {
	c, err := s.find(ctx, certificateID)
	if err != nil {
		return nil, err
	}
	if c.HasFile() {
		name := c.FileName
		if name == "" {
			name = c.Number
		}
		return &CertificateFile{Name: name, ContentType: c.FileContentType, Data: c.FileData}, nil
	}
	html, err := RenderCertificateHTML(c)
	if err != nil {
		return nil, fmt.Errorf("failed to render certificate %s: %w", c.Number, err)
	}
	return &CertificateFile{Name: c.Number + ".html", ContentType: "text/html; charset=utf-8", Data: html}, nil
}

func (s *certificateService) Reconcile(ctx context.Context, limit int) (int, error) {
	pending, err := s.protocolRepo.FindSignedWithoutCertificate(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("error fetching signed protocols: %w", err)
	}
	issued := 0
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return issued, err
		}
		if _, err := s.IssueForProtocol(ctx, p.ID); err != nil {
			log.Error().Err(err).Str("protocolID", p.ID).Msg("Reconcile: certificate issuance failed")
			continue
		}
		issued++
	}
	return issued, nil
}

// notify e-mails the student. Failures are logged only.
func (s *certificateService) notify(ctx context.Context, c *model.Certificate, subject string) {
	if s.mailer == nil {
		return
	}
	profile, err := s.profileRepo.FindByUserID(ctx, c.UserID)
	if err != nil || strings.TrimSpace(profile.Email) == "" {
		log.Debug().Str("userID", c.UserID).Msg("No e-mail address, skipping certificate notification")
		return
	}
	html, err := RenderCertificateHTML(c)
	if err != nil {
		log.Error().Err(err).Str("certificateID", c.ID).Msg("Failed to render certificate e-mail")
		return
	}
	msg := mail.Message{
		ToEmail:     profile.Email,
		ToName:      profile.FullName,
		Subject:     subject,
		TextContent: fmt.Sprintf("Certificate No. %s for the course %q has been issued to %s.", c.Number, c.CourseTitle, c.StudentName),
		HTMLContent: string(html),
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		log.Error().Err(err).Str("certificateID", c.ID).Msg("Failed to send certificate notification")
	}
}

func toCertificateDTO(c *model.Certificate) *dto.CertificateDTO {
	return &dto.CertificateDTO{
		ID:             c.ID,
		ProtocolID:     c.ProtocolID,
		TestID:         c.TestID,
		CourseID:       c.CourseID,
		UserID:         c.UserID,
		Number:         c.Number,
		StudentName:    c.StudentName,
		CourseTitle:    c.CourseTitle,
		IssuedAt:       c.IssuedAt,
		ValidUntil:     c.ValidUntil,
		HasFile:        c.HasFile() || c.FileName != "",
		FileName:       c.FileName,
		PreviousNumber: c.PreviousNumber,
		ReissuedAt:     c.ReissuedAt,
		ReissueCount:   c.ReissueCount,
	}
}
