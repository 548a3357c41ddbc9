package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Brevo posts messages to a Brevo-compatible transactional endpoint.
type Brevo struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// NewBrevo returns a Brevo mailer whose HTTP client times out after timeout.
func NewBrevo(baseURL, apiKey string, timeout time.Duration) *Brevo {
	return &Brevo{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: timeout},
	}
}

func (b *Brevo) Name() string { return "brevo" }

type brevoRequest struct {
	Sender      Address           `json:"sender"`
	To          []Address         `json:"to"`
	Subject     string            `json:"subject"`
	HTMLContent string            `json:"htmlContent,omitempty"`
	TextContent string            `json:"textContent,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// Send implements Mailer.
func (b *Brevo) Send(ctx context.Context, m Message) error {
	if err := m.check(); err != nil {
		return err
	}
	body, err := json.Marshal(brevoRequest{
		Sender:      m.From,
		To:          m.To,
		Subject:     m.Subject,
		HTMLContent: m.HTML,
		TextContent: m.Text,
		Headers:     m.Headers,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.BaseURL+"/v3/smtp/email", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("api-key", b.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := b.Client.Do(req)
	if err != nil {
		return fmt.Errorf("brevo send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &ProviderError{Provider: b.Name(), Status: resp.StatusCode, Body: string(snippet)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
