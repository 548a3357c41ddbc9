package mailer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGrid sends through the SendGrid v3 mail/send API.
type SendGrid struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// NewSendGrid returns a SendGrid mailer whose HTTP client times out after timeout.
func NewSendGrid(baseURL, apiKey string, timeout time.Duration) *SendGrid {
	if baseURL == "" {
		baseURL = "https://api.sendgrid.com"
	}
	return &SendGrid{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: timeout},
	}
}

func (s *SendGrid) Name() string { return "sendgrid" }

// Send implements Mailer.
func (s *SendGrid) Send(ctx context.Context, m Message) error {
	if err := m.check(); err != nil {
		return err
	}

	message := mail.NewV3Mail()
	message.SetFrom(mail.NewEmail(m.From.Name, m.From.Email))
	message.Subject = m.Subject

	p := mail.NewPersonalization()
	for _, to := range m.To {
		p.AddTos(mail.NewEmail(to.Name, to.Email))
	}
	message.AddPersonalizations(p)

	// text/plain must precede text/html
	if m.Text != "" {
		message.AddContent(mail.NewContent("text/plain", m.Text))
	}
	if m.HTML != "" {
		message.AddContent(mail.NewContent("text/html", m.HTML))
	}
	for k, v := range m.Headers {
		message.SetHeader(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/v3/mail/send", bytes.NewReader(mail.GetRequestBody(message)))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &ProviderError{Provider: s.Name(), Status: resp.StatusCode, Body: string(snippet)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
