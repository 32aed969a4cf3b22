package otp

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// SMSSender delivers a text message to a phone number.
type SMSSender interface {
	Send(ctx context.Context, phone, text string) error
}

// LogSender writes messages to the log instead of an SMS provider.
type LogSender struct {
	// Verbose includes the message body, which contains the code.
	Verbose bool
}

func NewLogSender() SMSSender {
	return &LogSender{}
}

func (s *LogSender) Send(_ context.Context, phone, text string) error {
	ev := log.Info().Str("phone", MaskPhone(phone))
	if s.Verbose {
		ev = ev.Str("text", text)
	}
	ev.Msg("SMS dispatched")
	return nil
}

// RecordingSender keeps every message in memory.
type RecordingSender struct {
	mu       sync.Mutex
	Messages []Message
	Err      error
}

type Message struct {
	Phone string
	Text  string
}

func (s *RecordingSender) Send(_ context.Context, phone, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Messages = append(s.Messages, Message{Phone: phone, Text: text})
	return nil
}

func (s *RecordingSender) Last() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}
