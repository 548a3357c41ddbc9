// Package app assembles the services of the forms backend from configuration.
// Both binaries (API server and delivery worker) build their object graph
// here so they share the same tuning.
package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/tbourn/go-forms-backend/internal/config"
	"github.com/tbourn/go-forms-backend/internal/events"
	"github.com/tbourn/go-forms-backend/internal/http/handlers"
	"github.com/tbourn/go-forms-backend/internal/mailer"
	"github.com/tbourn/go-forms-backend/internal/notify"
	"github.com/tbourn/go-forms-backend/internal/repo"
	"github.com/tbourn/go-forms-backend/internal/services"
	"github.com/tbourn/go-forms-backend/internal/uploads"
	"github.com/tbourn/go-forms-backend/internal/webhook"
	"github.com/tbourn/go-forms-backend/internal/worker"
)

// OpenDB connects to the configured database and migrates the schema.
func OpenDB(cfg config.Config) (*gorm.DB, error) {
	dsn := cfg.DBPath
	if cfg.DBDriver == repo.DriverPostgres {
		dsn = cfg.DatabaseURL
	}
	db, err := repo.Open(cfg.DBDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.DBDriver, err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Adapters are the outbound integrations. Tests substitute fakes.
type Adapters struct {
	Uploader uploads.Uploader
	Mailer   mailer.Mailer
	Poster   services.Poster
	Events   events.Publisher
}

// AdaptersFromConfig builds the production adapters.
func AdaptersFromConfig(cfg config.Config) (Adapters, error) {
	up, err := uploads.FromConfig(cfg.Uploads)
	if err != nil {
		return Adapters{}, fmt.Errorf("uploads: %w", err)
	}
	m, err := mailer.Build(cfg.Email, cfg.Delivery.EmailTimeout)
	if err != nil {
		return Adapters{}, fmt.Errorf("mailer: %w", err)
	}
	return Adapters{
		Uploader: up,
		Mailer:   m,
		Poster:   webhook.New(cfg.Delivery.WebhookTimeout),
		Events:   events.FromBrokers(cfg.Events.KafkaBrokers),
	}, nil
}

// App holds the wired services.
type App struct {
	Submission *services.SubmissionService
	Producer   *services.NotificationProducer
	Webhooks   *services.WebhookWorker
	Emails     *services.EmailWorker
	Keys       *services.APIKeyService
	Zapier     *services.ZapierService
	Admin      *services.AdminService
	Dispatcher *worker.Dispatcher
}

// New wires the services on db.
func New(db *gorm.DB, cfg config.Config, ad Adapters) *App {
	d := cfg.Delivery
	producer := &services.NotificationProducer{DB: db, BackfillLimit: d.BatchSize}
	keys := &services.APIKeyService{DB: db}

	a := &App{
		Producer: producer,
		Keys:     keys,
		Submission: &services.SubmissionService{
			DB:             db,
			Uploader:       ad.Uploader,
			Producer:       producer,
			Events:         ad.Events,
			Topic:          cfg.Events.Topic,
			PhoneRegion:    cfg.PhoneRegion,
			IdempotencyTTL: cfg.IdempotencyTTL,
		},
		Webhooks: &services.WebhookWorker{
			DB:          db,
			Client:      ad.Poster,
			Events:      ad.Events,
			DLQTopic:    cfg.Events.DLQTopic,
			MaxAttempts: d.MaxAttempts,
			BatchSize:   d.BatchSize,
			ClaimTTL:    d.ClaimTTL,
		},
		Emails: &services.EmailWorker{
			DB:          db,
			Mailer:      ad.Mailer,
			Renderer:    notify.NewRenderer(),
			Sender:      mailer.Address{Email: cfg.Email.SenderEmail, Name: cfg.Email.SenderName},
			Events:      ad.Events,
			DLQTopic:    cfg.Events.DLQTopic,
			MaxAttempts: d.MaxAttempts,
			BatchSize:   d.BatchSize,
			ClaimTTL:    d.ClaimTTL,
		},
		Zapier: &services.ZapierService{DB: db, Keys: keys},
		Admin:  &services.AdminService{DB: db},
	}
	a.Dispatcher = &worker.Dispatcher{
		Producer:       producer,
		Webhooks:       a.Webhooks,
		Emails:         a.Emails,
		Interval:       d.Interval,
		BackfillWindow: d.BackfillWindow,
	}
	return a
}

// HandlerDeps exposes the services to the HTTP layer.
func (a *App) HandlerDeps() handlers.Deps {
	return handlers.Deps{
		Forms:      a.Submission,
		Zapier:     a.Zapier,
		Admin:      a.Admin,
		Keys:       a.Keys,
		Email:      a.Emails,
		Webhooks:   a.Webhooks,
		Emails:     a.Emails,
		Dispatcher: a.Dispatcher,
	}
}
