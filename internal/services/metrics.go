package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// deliveryAttempts counts delivery attempts by channel and outcome
	// (sent, retry, failed).
	deliveryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_attempted_total",
			Help: "Notification delivery attempts by channel and outcome.",
		},
		[]string{"channel", "outcome"},
	)

	// deliveryDuration observes one send (HTTP POST or provider call).
	deliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_send_duration_seconds",
			Help:    "Time taken to deliver one notification.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	// deadLetters counts jobs that reached a terminal failure.
	deadLetters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_dlq_total",
			Help: "Notifications moved to a terminal failed state.",
		},
		[]string{"channel", "reason"},
	)

	// jobsEnqueued counts notification jobs inserted by the producer.
	jobsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_jobs_enqueued_total",
			Help: "Notification jobs inserted by the producer.",
		},
		[]string{"channel"},
	)

	// submissions counts form submissions by result.
	submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "form_submissions_total",
			Help: "Form submissions by result (created, replayed, invalid, error).",
		},
		[]string{"result"},
	)
)

const (
	channelWebhook = "webhook"
	channelEmail   = "email"

	outcomeSent   = "sent"
	outcomeRetry  = "retry"
	outcomeFailed = "failed"
)

func init() {
	prometheus.MustRegister(deliveryAttempts, deliveryDuration, deadLetters, jobsEnqueued, submissions)
}
