// Command worker drains the notification queues. By default it runs the
// dispatcher every WORKER_INTERVAL until interrupted; with -once it runs a
// single pass and exits non-zero if any stage failed, for cron schedulers.
//
// A small HTTP listener exposes /metrics and /health on -metrics-addr.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-forms-backend/internal/app"
	"github.com/tbourn/go-forms-backend/internal/config"
	"github.com/tbourn/go-forms-backend/internal/observability"
	"github.com/tbourn/go-forms-backend/internal/sysutil"
)

var version = "dev"

func main() {
	once := flag.Bool("once", false, "run a single dispatcher pass and exit")
	metricsAddr := flag.String("metrics-addr", ":9091", "listen address for /metrics and /health; empty disables it")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.MustLoad()
	sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.Setup(ctx, cfg.OTEL, observability.Build{
		Version:   sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version),
		Component: "worker",
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

	if *once {
		rep, err := a.Dispatcher.RunOnce(ctx)
		log.Info().
			Interface("backfilled", rep.Backfilled).
			Interface("webhooks", rep.Webhooks).
			Interface("emails", rep.Emails).
			Msg("single pass finished")
		if err != nil {
			log.Error().Err(err).Msg("pass failed")
			os.Exit(1)
		}
		return
	}

	if *metricsAddr != "" {
		srv := metricsServer(*metricsAddr)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics listener")
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	log.Info().Str("mailer", ad.Mailer.Name()).Msg("worker started")
	if err := a.Dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("dispatcher")
	}
}

func metricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}
