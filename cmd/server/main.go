// Command server runs the forms HTTP API: public form routes, the Zapier
// REST hook API and the operator API. With EMBED_WORKER set it also runs the
// notification dispatcher in-process.
//
// @title                      Forms Backend API
// @version                    1.0
// @description                Form submissions, Zapier REST hooks and notification delivery.
// @BasePath                   /
// @securityDefinitions.apikey AdminToken
// @in                         header
// @name                       Authorization
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	_ "github.com/tbourn/go-forms-backend/docs"
	"github.com/tbourn/go-forms-backend/internal/app"
	"github.com/tbourn/go-forms-backend/internal/config"
	httpapi "github.com/tbourn/go-forms-backend/internal/http"
	"github.com/tbourn/go-forms-backend/internal/observability"
	"github.com/tbourn/go-forms-backend/internal/sysutil"
)

var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	_ = godotenv.Load()
	cfg := config.MustLoad()
	sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty, "server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.Setup(ctx, cfg.OTEL, observability.Build{
		Version:   sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version),
		Component: "server",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup")
	}
	defer func() { _ = shutdownOTel(context.Background()) }()

	db, err := app.OpenDB(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("database")
	}
	ad, err := app.AdaptersFromConfig(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("adapters")
	}
	defer func() { _ = ad.Events.Close() }()
	a := app.New(db, cfg, ad)

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, cfg, a.HandlerDeps())

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	workerDone := make(chan struct{})
	if cfg.Delivery.EmbedWorker {
		go func() {
			defer close(workerDone)
			if err := a.Dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("embedded dispatcher stopped")
			}
		}()
		log.Info().Dur("interval", cfg.Delivery.Interval).Msg("embedded dispatcher started")
	} else {
		close(workerDone)
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("mailer", ad.Mailer.Name()).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	<-workerDone
}
