// Package mail delivers notification e-mails through SendGrid, or to the log when no key is configured.
package mail

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/lshigami/safetycert/config"
	"github.com/lshigami/safetycert/internal/apperr"
)

var (
	host     = "https://api.sendgrid.com"
	endpoint = "/v3/mail/send"
)

type Message struct {
	ToEmail     string
	ToName      string
	Subject     string
	TextContent string
	HTMLContent string
	Attachments []Attachment
}

type Attachment struct {
	Filename    string
	ContentType string
	// Content is base64 encoded.
	Content string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// NewSender picks SendGrid when an API key is configured.
func NewSender(cfg *config.Config) Sender {
	if cfg.Mail.SendgridApiKey == "" {
		log.Warn().Msg("SENDGRID_API_KEY is not set. E-mails will only be logged.")
		return &LogSender{}
	}
	return NewSendgridSender(cfg.Mail)
}

type sendgridSender struct {
	key        string
	from       *sgmail.Email
	subjPrefix string
}

func NewSendgridSender(cfg config.Mail) Sender {
	return &sendgridSender{
		key:        cfg.SendgridApiKey,
		from:       sgmail.NewEmail(cfg.FromName, cfg.FromEmail),
		subjPrefix: "[" + cfg.FromName + "] ",
	}
}

func (s *sendgridSender) prepare(msg Message) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = s.subjPrefix + msg.Subject
	p.AddTos(sgmail.NewEmail(msg.ToName, msg.ToEmail))

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/plain", msg.TextContent))
	if msg.HTMLContent != "" {
		m.AddContent(sgmail.NewContent("text/html", msg.HTMLContent))
	}
	for _, a := range msg.Attachments {
		m.AddAttachment(&sgmail.Attachment{
			Content:     a.Content,
			Type:        a.ContentType,
			Filename:    a.Filename,
			Disposition: "attachment",
		})
	}
	return m
}

func (s *sendgridSender) Send(ctx context.Context, msg Message) error {
	if msg.ToEmail == "" {
		return apperr.Validation("email", "recipient address is required")
	}
	req := sendgrid.GetRequest(s.key, endpoint, host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(s.prepare(msg))

	res, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("Sending email failed")
		return &apperr.NetworkError{Op: "send email", Err: err}
	}
	if res.StatusCode >= http.StatusBadRequest {
		log.Error().Int("status", res.StatusCode).Str("body", res.Body).Msg("SendGrid rejected email")
		return fmt.Errorf("sendgrid responded with status %d", res.StatusCode)
	}
	log.Info().Str("subject", msg.Subject).Msg("Email sent")
	return nil
}

// LogSender logs messages instead of sending them and keeps them for inspection.
type LogSender struct {
	mu   sync.Mutex
	Sent []Message
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.mu.Lock()
	s.Sent = append(s.Sent, msg)
	s.mu.Unlock()
	log.Info().Str("to", msg.ToEmail).Str("subject", msg.Subject).Msg("Email (log only)")
	return nil
}

func (s *LogSender) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.Sent...)
}
