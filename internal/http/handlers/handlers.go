package handlers

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-forms-backend/internal/domain"
	"github.com/tbourn/go-forms-backend/internal/form"
	"github.com/tbourn/go-forms-backend/internal/repo"
	"github.com/tbourn/go-forms-backend/internal/services"
	"github.com/tbourn/go-forms-backend/internal/worker"
)

//
// Service contracts (context-aware)
//

// FormService renders, validates and stores public form submissions.
type FormService interface {
	Describe(ctx context.Context, formID string) (*services.FormView, error)
	Validate(ctx context.Context, formID string, answers map[string]form.Answer) error
	Submit(ctx context.Context, req services.SubmitRequest) (*services.SubmitResult, error)
}

// ZapierService implements the API-key authenticated Zapier endpoints.
type ZapierService interface {
	Subscribe(ctx context.Context, apiKey, formID, targetURL string) (*domain.WebhookSubscription, error)
	Unsubscribe(ctx context.Context, apiKey, formID, targetURL string) error
	ListForms(ctx context.Context, apiKey string) ([]services.FormSummary, error)
	RecentResponses(ctx context.Context, apiKey, formID string, limit int) ([]*services.ResponsePayload, error)
}

// AdminService backs queue inspection and response management.
type AdminService interface {
	WebhookJobs(ctx context.Context, q services.JobQuery) ([]domain.WebhookNotification, error)
	EmailJobs(ctx context.Context, q services.JobQuery) ([]domain.EmailNotification, error)
	Stats(ctx context.Context) (repo.QueueStats, error)
	Response(ctx context.Context, id string) (*services.ResponsePayload, error)
	DeleteResponse(ctx context.Context, id string) error
	OpenIssues(ctx context.Context, limit int) ([]domain.SubmissionIssue, error)
}

// KeyIssuer issues and revokes Zapier API keys.
type KeyIssuer interface {
	Issue(ctx context.Context, clientID, name string) (*services.IssuedKey, error)
	Revoke(ctx context.Context, id string) error
}

// EmailSender sends the queued email of one response immediately.
type EmailSender interface {
	SendFor(ctx context.Context, responseID string) error
}

// Queue runs one delivery pass over a notification channel.
type Queue interface {
	ProcessPending(ctx context.Context) (services.DeliveryReport, error)
}

// PassRunner runs a full dispatcher pass (backfill, webhooks, emails).
type PassRunner interface {
	RunOnce(ctx context.Context) (worker.Report, error)
}

//
// Handler wiring
//

// Deps lists the services the handlers depend on. Nil members disable the
// routes that need them.
type Deps struct {
	Forms      FormService
	Zapier     ZapierService
	Admin      AdminService
	Keys       KeyIssuer
	Email      EmailSender
	Webhooks   Queue
	Emails     Queue
	Dispatcher PassRunner
}

// Handlers groups the HTTP endpoints.
type Handlers struct {
	forms      FormService
	zapier     ZapierService
	admin      AdminService
	keys       KeyIssuer
	email      EmailSender
	webhooks   Queue
	emails     Queue
	dispatcher PassRunner
}

// New constructs a Handlers bound to the given services.
func New(d Deps) *Handlers {
	return &Handlers{
		forms:      d.Forms,
		zapier:     d.Zapier,
		admin:      d.Admin,
		keys:       d.Keys,
		email:      d.Email,
		webhooks:   d.Webhooks,
		emails:     d.Emails,
		dispatcher: d.Dispatcher,
	}
}

// apiKey reads the Zapier API key from the query string or the X-API-Key
// header, in that order.
func apiKey(c *gin.Context) string {
	if k := strings.TrimSpace(c.Query("api_key")); k != "" {
		return k
	}
	return strings.TrimSpace(c.GetHeader("X-API-Key"))
}
