package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/time/rate"

	"github.com/jwalitptl/outreach-engine/internal/app"
	"github.com/jwalitptl/outreach-engine/internal/config"
	"github.com/jwalitptl/outreach-engine/internal/handler/health"
	"github.com/jwalitptl/outreach-engine/internal/handler/prometheus"
	sequenceHandler "github.com/jwalitptl/outreach-engine/internal/handler/sequence"
	trackingHandler "github.com/jwalitptl/outreach-engine/internal/handler/tracking"
	"github.com/jwalitptl/outreach-engine/internal/router"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log := app.NewLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal(err, "failed to initialise application")
	}
	defer a.Close()

	// Setup router
	r := router.NewRouter(
		log,
		a.Reporter,
		prometheus.New("outreach", a.Registry, a.Registry),
		health.NewHandler(a.HealthChecks()),
		sequenceHandler.NewHandler(a.Engine),
		trackingHandler.NewHandler(a.Engagement, log),
		router.RouterConfig{
			CronSecret:  cfg.Sequencer.CronSecret,
			PublicRate:  rate.Limit(20),
			PublicBurst: 40,
		},
	)
	r.Setup()

	if cfg.Sequencer.CronSecret == "" {
		log.Warn("sequencer.cron_secret is empty; the cron trigger is unauthenticated")
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err, "failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "server forced to shutdown")
	}

	log.Info("server exited properly")
}
