package mailer

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Log records messages instead of sending them. It keeps the last messages
// in memory so local runs and tests can inspect them.
type Log struct {
	mu   sync.Mutex
	sent []Message
}

// NewLog returns an empty Log mailer.
func NewLog() *Log { return &Log{} }

func (l *Log) Name() string { return "log" }

// Send implements Mailer.
func (l *Log) Send(ctx context.Context, m Message) error {
	if err := m.check(); err != nil {
		return err
	}
	to := make([]string, 0, len(m.To))
	for _, a := range m.To {
		to = append(to, a.Email)
	}
	log.Info().
		Str("provider", l.Name()).
		Strs("to", to).
		Str("subject", m.Subject).
		Int("html_bytes", len(m.HTML)).
		Msg("email (not sent)")

	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, m)
	if len(l.sent) > 100 {
		l.sent = l.sent[len(l.sent)-100:]
	}
	return nil
}

// Sent returns a copy of the recorded messages.
func (l *Log) Sent() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Message(nil), l.sent...)
}
