package services

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-forms-backend/internal/domain"
	"github.com/tbourn/go-forms-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Recent response listing bounds.
const (
	DefaultRecentLimit = 10
	MaxRecentLimit     = 100
)

// ZapierService backs the Zapier REST hook and polling endpoints. Every call
// is authenticated by a client API key.
type ZapierService struct {
	DB   *gorm.DB
	Keys *APIKeyService
}

// FormSummary is the Zapier view of a form.
type FormSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

// Subscribe registers targetURL for new responses of formID.
func (s *ZapierService) Subscribe(ctx context.Context, apiKey, formID, targetURL string) (*domain.WebhookSubscription, error) {
	tr := otel.Tracer("services/ZapierService")
	ctx, span := tr.Start(ctx, "Subscribe", trace.WithAttributes(attribute.String("form.id", formID)))
	defer span.End()

	clientID, err := s.authorize(ctx, apiKey, formID)
	if err != nil {
		return nil, err
	}
	target, err := normalizeTarget(targetURL)
	if err != nil {
		return nil, err
	}
	sub, err := repo.CreateSubscription(ctx, s.DB, clientID, formID, target)
	if errors.Is(err, repo.ErrDuplicate) {
		return nil, ErrSubscriptionExists
	}
	if err != nil {
		return nil, err
	}
	log.Info().Str("form_id", formID).Str("subscription_id", sub.ID).Msg("zapier subscription created")
	return sub, nil
}

// Unsubscribe removes the (formID, targetURL) subscription.
func (s *ZapierService) Unsubscribe(ctx context.Context, apiKey, formID, targetURL string) error {
	tr := otel.Tracer("services/ZapierService")
	ctx, span := tr.Start(ctx, "Unsubscribe", trace.WithAttributes(attribute.String("form.id", formID)))
	defer span.End()

	clientID, err := s.authorize(ctx, apiKey, formID)
	if err != nil {
		return err
	}
	target, err := normalizeTarget(targetURL)
	if err != nil {
		return err
	}
	err = repo.DeleteSubscription(ctx, s.DB, clientID, formID, target)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrSubscriptionNotFound
	}
	return err
}

// ListForms returns the forms of the key's client.
func (s *ZapierService) ListForms(ctx context.Context, apiKey string) ([]FormSummary, error) {
	tr := otel.Tracer("services/ZapierService")
	ctx, span := tr.Start(ctx, "ListForms")
	defer span.End()

	k, err := s.Keys.Authenticate(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	forms, err := repo.ListFormsByClient(ctx, s.DB, k.ClientID)
	if err != nil {
		return nil, err
	}
	out := make([]FormSummary, 0, len(forms))
	for _, f := range forms {
		out = append(out, FormSummary{ID: f.ID, Name: f.Name, IsActive: f.IsActive})
	}
	return out, nil
}

// RecentResponses returns up to limit payloads of formID, newest first.
// limit is clamped to [1, MaxRecentLimit]; zero or less means the default.
func (s *ZapierService) RecentResponses(ctx context.Context, apiKey, formID string, limit int) ([]*ResponsePayload, error) {
	tr := otel.Tracer("services/ZapierService")
	ctx, span := tr.Start(ctx, "RecentResponses",
		trace.WithAttributes(attribute.String("form.id", formID), attribute.Int("limit", limit)),
	)
	defer span.End()

	if _, err := s.authorize(ctx, apiKey, formID); err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = DefaultRecentLimit
	case limit > MaxRecentLimit:
		limit = MaxRecentLimit
	}

	f, err := repo.GetForm(ctx, s.DB, formID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrFormNotFound
	}
	if err != nil {
		return nil, err
	}
	responses, err := repo.ListRecentResponses(ctx, s.DB, formID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*ResponsePayload, 0, len(responses))
	for i := range responses {
		rows, err := repo.ListAnswers(ctx, s.DB, responses[i].ID)
		if err != nil {
			return nil, err
		}
		out = append(out, BuildPayload(&responses[i], f, rows))
	}
	return out, nil
}

// authorize authenticates apiKey and checks that formID belongs to its
// client, returning the client id.
func (s *ZapierService) authorize(ctx context.Context, apiKey, formID string) (string, error) {
	k, err := s.Keys.Authenticate(ctx, apiKey)
	if err != nil {
		return "", err
	}
	ok, err := repo.FormBelongsTo(ctx, s.DB, formID, k.ClientID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrFormForbidden
	}
	return k.ClientID, nil
}

func normalizeTarget(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", ErrInvalidTargetURL
	}
	return u.String(), nil
}
