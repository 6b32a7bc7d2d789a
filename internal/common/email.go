package common

import (
	"slices"
	"sync"

	"github.com/rs/zerolog"
)

// EmailSender delivers one rendered HTML message.
type EmailSender interface {
	Send(to, subject, html string) error
}

type Email struct {
	To, Subject, HTML string
}

// InMemoryEmail collects messages instead of delivering them. The zero value
// is ready to use.
type InMemoryEmail struct {
	mu   sync.Mutex
	sent []Email
}

func (m *InMemoryEmail) Send(to, subject, html string) error {
	m.mu.Lock()
	m.sent = append(m.sent, Email{To: to, Subject: subject, HTML: html})
	m.mu.Unlock()
	return nil
}

// Sent returns the collected messages in send order.
func (m *InMemoryEmail) Sent() []Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.sent)
}

// LogEmailSender stands in for a mail relay in development: it logs the
// envelope and drops the body.
type LogEmailSender struct {
	From   string
	Logger zerolog.Logger
}

func (l LogEmailSender) Send(to, subject, html string) error {
	l.Logger.Info().
		Str("from", l.From).
		Str("to", to).
		Str("subject", subject).
		Int("html_bytes", len(html)).
		Msg("email_logged")
	return nil
}
