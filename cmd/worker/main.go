package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jwalitptl/outreach-engine/internal/app"
	"github.com/jwalitptl/outreach-engine/internal/config"
	"github.com/jwalitptl/outreach-engine/pkg/logger"
	"github.com/jwalitptl/outreach-engine/pkg/worker"
)

func main() {
	once := flag.Bool("once", false, "process a single batch and exit (for an external scheduler)")
	metricsAddr := flag.String("metrics-addr", ":9090", "address for /metrics and /health; empty disables")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := app.NewLogger(cfg.Log).WithFields(map[string]interface{}{"component": "worker"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal(err, "failed to initialise application")
	}
	defer a.Close()

	processor := worker.NewSequenceProcessor(
		a.Engine,
		a.Locker,
		worker.SequenceProcessorConfig{
			BatchSize:    cfg.Sequencer.BatchSize,
			PollInterval: cfg.Sequencer.PollInterval,
			LockKey:      "sequence-tick",
			LockTTL:      cfg.Redis.LockTTL,
		},
		log,
	)

	if *once {
		res, err := processor.RunOnce(ctx)
		if err != nil {
			log.Error(err, "sequence tick failed")
			a.Close()
			os.Exit(1)
		}
		if res != nil {
			_ = json.NewEncoder(os.Stdout).Encode(res)
		}
		return
	}

	if *metricsAddr != "" {
		srv := setupHealthCheck(*metricsAddr, a, log)
		defer func() {
			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Shutting down...")
		cancel()
	}()

	processor.Start(ctx)
}

func setupHealthCheck(addr string, a *app.App, log *logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		for name, check := range a.HealthChecks() {
			if err := check.PingContext(r.Context()); err != nil {
				http.Error(w, name+" unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "health server failed")
		}
	}()
	return srv
}
