// Package mailer sends transactional email through a pluggable provider.
//
// Every provider implements Mailer. Build picks one from configuration:
//
//   - "brevo": JSON POST to {base}/v3/smtp/email with an api-key header
//   - "sendgrid": v3 mail/send built with sendgrid-go helpers
//   - "smtp": plain SMTP relay (STARTTLS when offered, implicit TLS on 465)
//   - "log": writes the message summary to the logger and drops it
//
// The package also owns the strict address validator used to filter
// notification recipients.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tbourn/go-forms-backend/internal/config"
)

// Address is a mailbox with an optional display name.
type Address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Message is a provider-neutral email.
type Message struct {
	From    Address
	To      []Address
	Subject string
	HTML    string
	Text    string
	Headers map[string]string
}

// Mailer delivers a single message. Implementations must honor ctx.
type Mailer interface {
	Send(ctx context.Context, m Message) error
	Name() string
}

// ErrInvalidMessage is returned when a message has no sender, no recipients
// or no body.
var ErrInvalidMessage = errors.New("invalid email message")

// ProviderError carries a non-2xx provider response.
type ProviderError struct {
	Provider string
	Status   int
	Body     string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, e.Body)
}

func (m Message) check() error {
	if m.From.Email == "" || len(m.To) == 0 || (m.HTML == "" && m.Text == "") {
		return ErrInvalidMessage
	}
	return nil
}

// Build returns the Mailer selected by cfg.Provider. timeout bounds each
// provider call.
func Build(cfg config.EmailConfig, timeout time.Duration) (Mailer, error) {
	switch cfg.Provider {
	case "", "log":
		return NewLog(), nil
	case "brevo":
		return NewBrevo(cfg.BrevoBaseURL, cfg.BrevoAPIKey, timeout), nil
	case "sendgrid":
		return NewSendGrid(cfg.SendGridBaseURL, cfg.SendGridAPIKey, timeout), nil
	case "smtp":
		return &SMTP{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			UseAuth:  cfg.SMTP.UseAuth,
			Timeout:  timeout,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported email provider %q", cfg.Provider)
	}
}
