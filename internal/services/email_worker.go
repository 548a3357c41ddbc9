package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-forms-backend/internal/domain"
	"github.com/tbourn/go-forms-backend/internal/events"
	"github.com/tbourn/go-forms-backend/internal/form"
	"github.com/tbourn/go-forms-backend/internal/mailer"
	"github.com/tbourn/go-forms-backend/internal/notify"
	"github.com/tbourn/go-forms-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// EmailWorker sends queued response notification emails.
type EmailWorker struct {
	DB       *gorm.DB
	Mailer   mailer.Mailer
	Renderer *notify.Renderer
	Sender   mailer.Address

	// Events receives dead-letter events; nil disables them.
	Events   events.Publisher
	DLQTopic string

	MaxAttempts int
	BatchSize   int
	ClaimTTL    time.Duration

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// SendFor claims the pending email jobs of one response and sends the
// notification. It returns ErrNoPendingEmail when nothing was claimable,
// ErrNoRecipients or ErrNotificationsDisabled for terminal configuration
// failures, or the provider error of a failed send.
func (w *EmailWorker) SendFor(ctx context.Context, responseID string) error {
	var rep DeliveryReport
	outcome, err := w.sendFor(ctx, responseID, &rep)
	if err != nil {
		return err
	}
	if rep.Claimed == 0 {
		return ErrNoPendingEmail
	}
	return outcome
}

// ProcessPending sends the emails of a batch of responses with claimable
// jobs. Send failures are recorded on the jobs; only database errors abort
// the pass.
func (w *EmailWorker) ProcessPending(ctx context.Context) (DeliveryReport, error) {
	tr := otel.Tracer("services/EmailWorker")
	ctx, span := tr.Start(ctx, "ProcessPending")
	defer span.End()

	var rep DeliveryReport
	cutoff := w.now().Add(-w.claimTTL())
	ids, err := repo.ListPendingEmailResponses(ctx, w.DB, cutoff, w.batchSize())
	if err != nil {
		span.RecordError(err)
		return rep, err
	}
	rep.Candidates = len(ids)
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if _, err := w.sendFor(ctx, id, &rep); err != nil {
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

// sendFor returns the delivery outcome (nil on success) separately from
// errors that should abort a pass.
func (w *EmailWorker) sendFor(ctx context.Context, responseID string, rep *DeliveryReport) (outcome, err error) {
	ctx, span := otel.Tracer("services/EmailWorker").Start(ctx, "SendFor",
		trace.WithAttributes(attribute.String("response.id", responseID)),
	)
	defer span.End()

	now := w.now()
	jobs, err := repo.ClaimEmailJobs(ctx, w.DB, responseID, now, now.Add(-w.claimTTL()))
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	rep.Claimed += len(jobs)

	resp, err := repo.GetResponse(ctx, w.DB, responseID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrResponseNotFound, w.fail(ctx, jobs, rep, "missing_data", ErrResponseNotFound)
	}
	if err != nil {
		return nil, err
	}
	f, err := repo.GetForm(ctx, w.DB, resp.FormID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrFormNotFound, w.fail(ctx, jobs, rep, "missing_data", ErrFormNotFound)
	}
	if err != nil {
		return nil, err
	}
	client := f.Client
	if !client.EmailNotificationsEnabled {
		return ErrNotificationsDisabled, w.fail(ctx, jobs, rep, "disabled", ErrNotificationsDisabled)
	}

	raw := append([]string{deref(client.ClientEmail)}, client.AdditionalEmails...)
	recipients, rejected := mailer.Recipients(raw...)
	if len(rejected) > 0 {
		log.Warn().
			Str("client_id", client.ID).
			Strs("rejected", rejected).
			Msg("dropping invalid notification recipients")
	}
	if len(recipients) == 0 {
		return ErrNoRecipients, w.fail(ctx, jobs, rep, "no_recipients", ErrNoRecipients)
	}

	rows, err := repo.ListAnswers(ctx, w.DB, responseID)
	if err != nil {
		return nil, err
	}
	body, err := w.renderer().Render(buildEmail(resp, f, rows))
	if err != nil {
		return nil, fmt.Errorf("render email: %w", err)
	}

	msg := mailer.Message{
		From:    w.Sender,
		Subject: notify.Subject(f.Name),
		HTML:    body.HTML,
		Text:    body.Text,
	}
	for _, r := range recipients {
		msg.To = append(msg.To, mailer.Address{Email: r})
	}

	start := time.Now()
	sendErr := w.Mailer.Send(ctx, msg)
	deliveryDuration.WithLabelValues(channelEmail).Observe(time.Since(start).Seconds())

	if sendErr == nil {
		deliveryAttempts.WithLabelValues(channelEmail, outcomeSent).Inc()
		for _, j := range jobs {
			if err := ignoreLostClaim(repo.MarkEmailSent(ctx, w.DB, j.ID, *j.ClaimedAt, recipients, w.now())); err != nil {
				return nil, err
			}
			rep.Sent++
		}
		log.Info().
			Str("response_id", responseID).
			Str("provider", w.Mailer.Name()).
			Int("recipients", len(recipients)).
			Msg("notification email sent")
		return nil, nil
	}

	span.RecordError(sendErr)
	span.SetStatus(codes.Error, "send failed")
	for _, j := range jobs {
		retries := j.RetryCount + 1
		if retries >= w.maxAttempts() {
			if err := w.failOne(ctx, j, retries, rep, "max_attempts", sendErr); err != nil {
				return nil, err
			}
			continue
		}
		deliveryAttempts.WithLabelValues(channelEmail, outcomeRetry).Inc()
		if err := ignoreLostClaim(repo.MarkEmailFailed(ctx, w.DB, j.ID, *j.ClaimedAt, retries, domain.StatusPending, sendErr.Error(), w.now())); err != nil {
			return nil, err
		}
		rep.Retried++
		log.Warn().
			Err(sendErr).
			Str("job_id", j.ID).
			Int("retry_count", retries).
			Msg("notification email failed, will retry")
	}
	return sendErr, nil
}

// fail marks every claimed job failed without counting an extra retry.
func (w *EmailWorker) fail(ctx context.Context, jobs []domain.EmailNotification, rep *DeliveryReport, reason string, cause error) error {
	for _, j := range jobs {
		if err := w.failOne(ctx, j, j.RetryCount, rep, reason, cause); err != nil {
			return err
		}
	}
	return nil
}

func (w *EmailWorker) failOne(ctx context.Context, j domain.EmailNotification, retries int, rep *DeliveryReport, reason string, cause error) error {
	deliveryAttempts.WithLabelValues(channelEmail, outcomeFailed).Inc()
	deadLetters.WithLabelValues(channelEmail, reason).Inc()
	log.Error().
		Str("job_id", j.ID).
		Str("response_id", j.ResponseID).
		Str("reason", reason).
		Msg("notification email failed permanently: " + cause.Error())

	if err := repo.MarkEmailFailed(ctx, w.DB, j.ID, *j.ClaimedAt, retries, domain.StatusFailed, cause.Error(), w.now()); err != nil {
		return ignoreLostClaim(err)
	}
	rep.Failed++
	publishDeadLetter(ctx, w.Events, w.DLQTopic, DeadLetter{
		Channel:    channelEmail,
		JobID:      j.ID,
		ResponseID: j.ResponseID,
		Attempts:   retries,
		Reason:     reason,
		Error:      cause.Error(),
	})
	return nil
}

// buildEmail maps stored rows to the renderer's view of a response.
func buildEmail(resp *domain.Response, f *domain.Form, rows []domain.ResponseAnswer) notify.Email {
	e := notify.Email{
		FormName:    f.Name,
		ResponseID:  resp.ID,
		SubmittedAt: resp.SubmittedAt,
		Contact: notify.Contact{
			Name:     deref(resp.ContactName),
			Email:    deref(resp.ContactEmail),
			Phone:    deref(resp.ContactPhone),
			Postcode: deref(resp.ContactPostcode),
		},
	}
	if c := f.Client; c != nil {
		e.Brand = notify.Branding{
			ClientName:     c.Name,
			PrimaryColor:   c.PrimaryColor,
			SecondaryColor: c.SecondaryColor,
			LogoURL:        deref(c.LogoURL),
		}
	}
	for _, row := range rows {
		if row.Step == nil {
			continue
		}
		e.Lines = append(e.Lines, lineFromRow(row))
	}
	return e
}

func lineFromRow(row domain.ResponseAnswer) notify.Line {
	kind := form.Kind(row.Step.Kind)
	l := notify.Line{Label: row.Step.Title, Kind: kind}

	switch form.TagFor(kind) {
	case form.TagFile:
		if row.FileURL != nil {
			l.File = &notify.File{URL: *row.FileURL, Name: deref(row.FileName), Size: derefInt64(row.FileSize)}
		}
		return l
	case form.TagScale:
		l.Rating = row.ScaleRating
		_, l.RatingMax = form.ScaleBounds(FieldFromStep(*row.Step, nil))
		return l
	case form.TagDimensions:
		l.Dimensions = &notify.Dimensions{Width: row.Width, Height: row.Height, Depth: row.Depth, Units: deref(row.Units)}
		return l
	case form.TagFrames:
		l.Frames = []form.FrameMeasurement(row.FrameMeasurements)
		return l
	case form.TagOptions:
		l.Text = deref(row.AnswerText)
		if so := row.SelectedOption; so != nil {
			if strings.TrimSpace(l.Text) == "" {
				l.Text = so.Label
			}
			l.ImageURL = deref(so.ImageURL)
		}
		return l
	}
	l.Text = form.Display(AnswerFromRow(kind, row))
	if l.Text == "" {
		l.Text = deref(row.AnswerText)
	}
	return l
}

func (w *EmailWorker) renderer() *notify.Renderer {
	if w.Renderer != nil {
		return w.Renderer
	}
	return notify.NewRenderer()
}

func (w *EmailWorker) now() time.Time {
	if w.Now != nil {
		return w.Now().UTC()
	}
	return time.Now().UTC()
}

func (w *EmailWorker) maxAttempts() int {
	if w.MaxAttempts > 0 {
		return w.MaxAttempts
	}
	return DefaultMaxAttempts
}

func (w *EmailWorker) batchSize() int {
	if w.BatchSize > 0 {
		return w.BatchSize
	}
	return DefaultBatchSize
}

func (w *EmailWorker) claimTTL() time.Duration {
	if w.ClaimTTL > 0 {
		return w.ClaimTTL
	}
	return DefaultClaimTTL
}
