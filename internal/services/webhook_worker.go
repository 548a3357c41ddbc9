package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-forms-backend/internal/domain"
	"github.com/tbourn/go-forms-backend/internal/events"
	"github.com/tbourn/go-forms-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Delivery defaults used when a worker field is left zero.
const (
	DefaultMaxAttempts = 5
	DefaultBatchSize   = 50
	DefaultClaimTTL    = 5 * time.Minute
)

// DeliveryHeader carries the job id so receivers can drop duplicates of an
// at-least-once delivery.
const DeliveryHeader = "X-Webhook-Delivery"

// Poster sends one webhook request. *webhook.Client implements it.
type Poster interface {
	Post(ctx context.Context, url string, payload any, headers map[string]string) (int, error)
}

// DeliveryReport summarizes one worker pass.
type DeliveryReport struct {
	Candidates int `json:"candidates"`
	Claimed    int `json:"claimed"`
	Sent       int `json:"sent"`
	Retried    int `json:"retried"`
	Failed     int `json:"failed"`
}

func (r *DeliveryReport) add(o DeliveryReport) {
	r.Candidates += o.Candidates
	r.Claimed += o.Claimed
	r.Sent += o.Sent
	r.Retried += o.Retried
	r.Failed += o.Failed
}

// DeadLetter is the data of a notification.dead_lettered event.
type DeadLetter struct {
	Channel    string `json:"channel"`
	JobID      string `json:"job_id"`
	ResponseID string `json:"response_id"`
	Target     string `json:"target,omitempty"`
	Attempts   int    `json:"attempts"`
	Reason     string `json:"reason"`
	Error      string `json:"error"`
}

// WebhookWorker delivers queued webhook jobs.
type WebhookWorker struct {
	DB     *gorm.DB
	Client Poster

	// Events receives dead-letter events; nil disables them.
	Events   events.Publisher
	DLQTopic string

	MaxAttempts int
	BatchSize   int
	ClaimTTL    time.Duration

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// ProcessPending runs one pass: it selects a batch of claimable jobs, claims
// each with a compare-and-swap and delivers the ones it won. Jobs lost to a
// concurrent worker are skipped. Delivery failures are recorded on the job;
// only database errors abort the pass.
func (w *WebhookWorker) ProcessPending(ctx context.Context) (DeliveryReport, error) {
	tr := otel.Tracer("services/WebhookWorker")
	ctx, span := tr.Start(ctx, "ProcessPending")
	defer span.End()

	var rep DeliveryReport
	now := w.now()
	cutoff := now.Add(-w.claimTTL())
	jobs, err := repo.ListClaimableWebhooks(ctx, w.DB, cutoff, w.batchSize())
	if err != nil {
		span.RecordError(err)
		return rep, err
	}
	rep.Candidates = len(jobs)

	payloads := map[string]*ResponsePayload{}
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		claimAt := w.now()
		won, err := repo.ClaimWebhook(ctx, w.DB, job.ID, claimAt, cutoff)
		if err != nil {
			span.RecordError(err)
			return rep, err
		}
		if !won {
			continue
		}
		stamp := repo.ClaimStamp(claimAt)
		job.ClaimedAt = &stamp
		rep.Claimed++
		if err := w.deliver(ctx, job, payloads, &rep); err != nil {
			span.RecordError(err)
			return rep, err
		}
	}

	span.SetAttributes(
		attribute.Int("jobs.claimed", rep.Claimed),
		attribute.Int("jobs.sent", rep.Sent),
		attribute.Int("jobs.failed", rep.Failed),
	)
	return rep, nil
}

func (w *WebhookWorker) deliver(ctx context.Context, job domain.WebhookNotification, cache map[string]*ResponsePayload, rep *DeliveryReport) error {
	ctx, span := otel.Tracer("services/WebhookWorker").Start(ctx, "deliver",
		trace.WithAttributes(
			attribute.String("job.id", job.ID),
			attribute.String("response.id", job.ResponseID),
		),
	)
	defer span.End()

	payload, ok := cache[job.ResponseID]
	if !ok {
		var err error
		payload, err = LoadPayload(ctx, w.DB, job.ResponseID)
		switch {
		case errors.Is(err, ErrResponseNotFound), errors.Is(err, ErrFormNotFound):
			rep.Failed++
			return w.deadLetter(ctx, job, job.Attempts, "missing_data", err.Error())
		case err != nil:
			return err
		}
		cache[job.ResponseID] = payload
	}

	start := time.Now()
	status, sendErr := w.Client.Post(ctx, job.WebhookURL, payload, map[string]string{DeliveryHeader: job.ID})
	deliveryDuration.WithLabelValues(channelWebhook).Observe(time.Since(start).Seconds())
	attempts := job.Attempts + 1
	span.SetAttributes(attribute.Int("http.status_code", status), attribute.Int("attempts", attempts))

	if sendErr == nil {
		deliveryAttempts.WithLabelValues(channelWebhook, outcomeSent).Inc()
		rep.Sent++
		return ignoreLostClaim(repo.MarkWebhookSent(ctx, w.DB, job.ID, *job.ClaimedAt, attempts, w.now()))
	}

	span.RecordError(sendErr)
	span.SetStatus(codes.Error, "delivery failed")
	if attempts >= w.maxAttempts() {
		rep.Failed++
		return w.deadLetter(ctx, job, attempts, "max_attempts", sendErr.Error())
	}
	deliveryAttempts.WithLabelValues(channelWebhook, outcomeRetry).Inc()
	rep.Retried++
	log.Warn().
		Err(sendErr).
		Str("job_id", job.ID).
		Int("attempts", attempts).
		Msg("webhook delivery failed, will retry")
	return ignoreLostClaim(repo.MarkWebhookFailed(ctx, w.DB, job.ID, *job.ClaimedAt, attempts, domain.StatusPending, sendErr.Error(), w.now()))
}

// deadLetter marks the job failed and announces it.
func (w *WebhookWorker) deadLetter(ctx context.Context, job domain.WebhookNotification, attempts int, reason, msg string) error {
	deliveryAttempts.WithLabelValues(channelWebhook, outcomeFailed).Inc()
	deadLetters.WithLabelValues(channelWebhook, reason).Inc()
	log.Error().
		Str("job_id", job.ID).
		Str("response_id", job.ResponseID).
		Int("attempts", attempts).
		Str("reason", reason).
		Msg("webhook delivery failed permanently: " + msg)

	if err := repo.MarkWebhookFailed(ctx, w.DB, job.ID, *job.ClaimedAt, attempts, domain.StatusFailed, msg, w.now()); err != nil {
		return ignoreLostClaim(err)
	}
	publishDeadLetter(ctx, w.Events, w.DLQTopic, DeadLetter{
		Channel:    channelWebhook,
		JobID:      job.ID,
		ResponseID: job.ResponseID,
		Target:     job.WebhookURL,
		Attempts:   attempts,
		Reason:     reason,
		Error:      msg,
	})
	return nil
}

func (w *WebhookWorker) now() time.Time {
	if w.Now != nil {
		return w.Now().UTC()
	}
	return time.Now().UTC()
}

func (w *WebhookWorker) maxAttempts() int {
	if w.MaxAttempts > 0 {
		return w.MaxAttempts
	}
	return DefaultMaxAttempts
}

func (w *WebhookWorker) batchSize() int {
	if w.BatchSize > 0 {
		return w.BatchSize
	}
	return DefaultBatchSize
}

func (w *WebhookWorker) claimTTL() time.Duration {
	if w.ClaimTTL > 0 {
		return w.ClaimTTL
	}
	return DefaultClaimTTL
}

// ignoreLostClaim treats a completion update that matched no processing row
// as a lost claim rather than a pass failure.
func ignoreLostClaim(err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		log.Warn().Msg("notification claim lost before completion")
		return nil
	}
	return err
}

func publishDeadLetter(ctx context.Context, pub events.Publisher, topic string, dl DeadLetter) {
	if pub == nil || topic == "" {
		return
	}
	if err := pub.Publish(ctx, topic, events.New(events.TypeDeliveryDead, dl.ResponseID, dl)); err != nil {
		log.Warn().Err(err).Str("job_id", dl.JobID).Msg("publish dead letter")
	}
}
