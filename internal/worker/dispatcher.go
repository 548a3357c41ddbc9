// Package worker drives the notification pipeline on a schedule: each pass
// backfills missing jobs, then drains the webhook queue, then the email
// queue. The same pass is available as RunOnce for cron-style invocation.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-forms-backend/internal/services"
)

// Defaults used when the corresponding Dispatcher field is zero.
const (
	DefaultInterval       = 30 * time.Second
	DefaultBackfillWindow = 24 * time.Hour
)

// Backfiller inserts jobs for responses that are missing them.
type Backfiller interface {
	EnqueueMissing(ctx context.Context, since time.Time) (services.EnqueueResult, error)
}

// Queue delivers one batch of pending jobs.
type Queue interface {
	ProcessPending(ctx context.Context) (services.DeliveryReport, error)
}

// Report is the outcome of one pass.
type Report struct {
	Backfilled services.EnqueueResult  `json:"backfilled"`
	Webhooks   services.DeliveryReport `json:"webhooks"`
	Emails     services.DeliveryReport `json:"emails"`
}

var (
	passDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "worker_pass_duration_seconds",
		Help:    "Duration of one dispatcher pass.",
		Buckets: prometheus.DefBuckets,
	})
	passErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "worker_pass_errors_total",
		Help: "Dispatcher stage failures by stage.",
	}, []string{"stage"})
	lastPass = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "worker_last_pass_timestamp_seconds",
		Help: "Unix time of the last completed dispatcher pass.",
	})
)

func init() {
	prometheus.MustRegister(passDuration, passErrors, lastPass)
}

// Dispatcher runs the backfill, webhook and email stages in order. Any stage
// may be nil.
type Dispatcher struct {
	Producer Backfiller
	Webhooks Queue
	Emails   Queue

	Interval       time.Duration
	BackfillWindow time.Duration

	// Now is the clock; nil means time.Now.
	Now func() time.Time

	mu sync.Mutex // serializes passes
}

// RunOnce runs one pass. A failing stage does not stop later stages; the
// stage errors are joined in the returned error.
func (d *Dispatcher) RunOnce(ctx context.Context) (Report, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	start := time.Now()
	defer func() { passDuration.Observe(time.Since(start).Seconds()) }()

	var rep Report
	var errs []error
	stageErr := func(stage string, err error) {
		passErrors.WithLabelValues(stage).Inc()
		log.Error().Err(err).Str("stage", stage).Msg("dispatcher stage failed")
		errs = append(errs, err)
	}

	if d.Producer != nil {
		since := d.now().Add(-d.backfillWindow())
		got, err := d.Producer.EnqueueMissing(ctx, since)
		if err != nil {
			stageErr("backfill", err)
		}
		rep.Backfilled = got
	}
	if d.Webhooks != nil {
		got, err := d.Webhooks.ProcessPending(ctx)
		if err != nil {
			stageErr("webhook", err)
		}
		rep.Webhooks = got
	}
	if d.Emails != nil {
		got, err := d.Emails.ProcessPending(ctx)
		if err != nil {
			stageErr("email", err)
		}
		rep.Emails = got
	}

	lastPass.SetToCurrentTime()
	if rep.Webhooks.Claimed > 0 || rep.Emails.Claimed > 0 {
		log.Info().
			Int("webhooks_sent", rep.Webhooks.Sent).
			Int("webhooks_failed", rep.Webhooks.Failed).
			Int("emails_sent", rep.Emails.Sent).
			Int("emails_failed", rep.Emails.Failed).
			Dur("took", time.Since(start)).
			Msg("dispatcher pass")
	}
	return rep, errors.Join(errs...)
}

// Run executes a pass immediately and then every Interval until ctx is
// cancelled. It returns ctx.Err().
func (d *Dispatcher) Run(ctx context.Context) error {
	interval := d.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	log.Info().Dur("interval", interval).Msg("dispatcher started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		_, _ = d.RunOnce(ctx)
		select {
		case <-ctx.Done():
			log.Info().Msg("dispatcher stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Dispatcher) backfillWindow() time.Duration {
	if d.BackfillWindow > 0 {
		return d.BackfillWindow
	}
	return DefaultBackfillWindow
}
