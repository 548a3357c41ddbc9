package services

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-forms-backend/internal/domain"
	"github.com/tbourn/go-forms-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// NotificationProducer turns stored responses into queued notification jobs.
type NotificationProducer struct {
	DB *gorm.DB

	// BackfillLimit bounds the responses repaired per EnqueueMissing call.
	BackfillLimit int
}

// EnqueueResult reports the jobs inserted for one or more responses.
type EnqueueResult struct {
	Webhooks int64 `json:"webhooks"`
	Emails   int64 `json:"emails"`
}

func (r *EnqueueResult) add(o EnqueueResult) {
	r.Webhooks += o.Webhooks
	r.Emails += o.Emails
}

// record counts committed jobs; call it only after the enclosing
// transaction succeeded.
func (r EnqueueResult) record() {
	if r.Webhooks > 0 {
		jobsEnqueued.WithLabelValues(channelWebhook).Add(float64(r.Webhooks))
	}
	if r.Emails > 0 {
		jobsEnqueued.WithLabelValues(channelEmail).Add(float64(r.Emails))
	}
}

// Plan records on resp the channels its form's client has configured right
// now:
//
//   - the client's webhook_url, when set;
//   - each distinct Zapier subscription URL of the form;
//   - email, when notifications are enabled and the client has a primary or
//     additional address.
//
// Call it before the response row is inserted. f must have its Client loaded.
func (p *NotificationProducer) Plan(ctx context.Context, db *gorm.DB, resp *domain.Response, f *domain.Form) error {
	urls, err := webhookTargets(ctx, db, f)
	if err != nil {
		return err
	}
	resp.NotifyWebhookURLs = urls
	resp.NotifyWebhooks = len(urls)
	resp.NotifyEmail = wantsEmail(f.Client)
	return nil
}

// Enqueue inserts the jobs recorded on resp by Plan, using tx so the caller
// can commit them atomically with the response. Existing jobs are left
// untouched, so it is safe to call again for the same response.
func (p *NotificationProducer) Enqueue(ctx context.Context, tx *gorm.DB, resp *domain.Response) (EnqueueResult, error) {
	var res EnqueueResult
	var err error
	if res.Webhooks, err = repo.InsertWebhookJobs(ctx, tx, resp.ID, resp.NotifyWebhookURLs); err != nil {
		return res, err
	}
	if resp.NotifyEmail {
		ok, err := repo.InsertEmailJob(ctx, tx, resp.ID)
		if err != nil {
			return res, err
		}
		if ok {
			res.Emails = 1
		}
	}
	return res, nil
}

// EnqueueMissing repairs responses submitted since the given time that lack
// some of the jobs recorded at submission. Later configuration changes
// (a new webhook_url, new subscriptions, email switched on) never reach
// older responses.
func (p *NotificationProducer) EnqueueMissing(ctx context.Context, since time.Time) (EnqueueResult, error) {
	tr := otel.Tracer("services/NotificationProducer")
	ctx, span := tr.Start(ctx, "EnqueueMissing",
		trace.WithAttributes(attribute.String("since", since.UTC().Format(time.RFC3339))),
	)
	defer span.End()

	var total EnqueueResult
	limit := p.BackfillLimit
	if limit <= 0 {
		limit = 500
	}
	responses, err := repo.ListResponsesMissingJobs(ctx, p.DB, since, limit)
	if err != nil {
		span.RecordError(err)
		return total, err
	}

	for i := range responses {
		r := &responses[i]
		var got EnqueueResult
		err := p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			got, err = p.Enqueue(ctx, tx, r)
			return err
		})
		if err != nil {
			span.RecordError(err)
			return total, err
		}
		got.record()
		total.add(got)
	}

	span.SetAttributes(
		attribute.Int("responses", len(responses)),
		attribute.Int64("jobs.webhook", total.Webhooks),
		attribute.Int64("jobs.email", total.Emails),
	)
	if total.Webhooks > 0 || total.Emails > 0 {
		log.Info().
			Int64("webhooks", total.Webhooks).
			Int64("emails", total.Emails).
			Msg("backfilled notification jobs")
	}
	return total, nil
}

func webhookTargets(ctx context.Context, db *gorm.DB, f *domain.Form) ([]string, error) {
	var urls []string
	seen := map[string]bool{}
	if f.Client != nil && f.Client.WebhookURL != nil {
		if u := strings.TrimSpace(*f.Client.WebhookURL); u != "" {
			urls = append(urls, u)
			seen[u] = true
		}
	}
	subs, err := repo.ListSubscriptionURLs(ctx, db, f.ID)
	if err != nil {
		return nil, err
	}
	for _, u := range subs {
		if !seen[u] {
			urls = append(urls, u)
			seen[u] = true
		}
	}
	return urls, nil
}

func wantsEmail(c *domain.Client) bool {
	if c == nil || !c.EmailNotificationsEnabled {
		return false
	}
	if c.ClientEmail != nil && strings.TrimSpace(*c.ClientEmail) != "" {
		return true
	}
	for _, e := range c.AdditionalEmails {
		if strings.TrimSpace(e) != "" {
			return true
		}
	}
	return false
}
