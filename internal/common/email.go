package common

import "github.com/rs/zerolog"

// EmailSender defines the contract for sending emails.
type EmailSender interface {
	Send(to, subject, body string) error
}

// InMemoryEmail provides a test-friendly email sender that records messages.
type InMemoryEmail struct {
	Outbox []Email
}

// Email represents a single email message captured by InMemoryEmail.
type Email struct {
	To      string
	Subject string
	Body    string
}

// Send records the email in memory.
func (m *InMemoryEmail) Send(to, subject, body string) error {
	if m == nil {
		return nil
	}
	m.Outbox = append(m.Outbox, Email{To: to, Subject: subject, Body: body})
	return nil
}

// LogEmailSender writes outgoing mail to the structured log instead of an SMTP relay.
type LogEmailSender struct {
	Logger zerolog.Logger
	From   string
}

// Send implements EmailSender.
func (l LogEmailSender) Send(to, subject, body string) error {
	l.Logger.Info().
		Str("from", l.From).
		Str("to", to).
		Str("subject", subject).
		Int("body_bytes", len(body)).
		Msg("email_sent")
	return nil
}

// NopEmailSender implements EmailSender without performing any action.
type NopEmailSender struct{}

// Send implements EmailSender.
func (NopEmailSender) Send(string, string, string) error { return nil }
