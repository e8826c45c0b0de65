// Package app builds the process-wide dependencies shared by the API server
// and the worker from a loaded configuration.
package app

import (
	"context"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/jwalitptl/outreach-engine/internal/ai"
	"github.com/jwalitptl/outreach-engine/internal/config"
	"github.com/jwalitptl/outreach-engine/internal/email"
	"github.com/jwalitptl/outreach-engine/internal/handler/health"
	"github.com/jwalitptl/outreach-engine/internal/repository"
	"github.com/jwalitptl/outreach-engine/internal/repository/cache"
	"github.com/jwalitptl/outreach-engine/internal/repository/memory"
	"github.com/jwalitptl/outreach-engine/internal/repository/postgres"
	"github.com/jwalitptl/outreach-engine/internal/service/engagement"
	"github.com/jwalitptl/outreach-engine/internal/service/sequence"
	"github.com/jwalitptl/outreach-engine/internal/tracking"
	"github.com/jwalitptl/outreach-engine/pkg/errreport"
	"github.com/jwalitptl/outreach-engine/pkg/lock"
	"github.com/jwalitptl/outreach-engine/pkg/logger"
	"github.com/jwalitptl/outreach-engine/pkg/messaging"
	"github.com/jwalitptl/outreach-engine/pkg/messaging/redis"
	"github.com/jwalitptl/outreach-engine/pkg/metrics"
)

const metricsNamespace = "outreach"

type App struct {
	Config     *config.Config
	Logger     *logger.Logger
	Reporter   errreport.Reporter
	Registry   *prometheus.Registry
	Metrics    *metrics.Metrics
	Store      repository.Store
	Locker     lock.Locker
	Engine     *sequence.Engine
	Engagement engagement.Service

	db      *sqlx.DB
	redis   *goredis.Client
	closers []func() error
}

// NewLogger builds the process logger from the log section.
func NewLogger(cfg config.LogConfig) *logger.Logger {
	return logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Level),
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
		JSON:       cfg.Format == "json",
	})
}

func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{
		Config:   cfg,
		Logger:   log,
		Registry: prometheus.NewRegistry(),
		Locker:   lock.Noop{},
	}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(metricsNamespace, a.Registry)

	reporter, err := errreport.New(errreport.SentryConfig{
		DSN:         cfg.Sentry.DSN,
		Environment: cfg.Sentry.Environment,
		Release:     cfg.Sentry.Release,
	}, log)
	if err != nil {
		return nil, err
	}
	a.Reporter = reporter

	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}

	publisher, err := a.openRedis(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	smtp := email.Config{
		Host:      cfg.SMTP.Host,
		Port:      cfg.SMTP.Port,
		Username:  cfg.SMTP.Username,
		Password:  cfg.SMTP.Password,
		FromEmail: cfg.SMTP.FromEmail,
		FromName:  cfg.SMTP.FromName,
		RateLimit: cfg.SMTP.RateLimit,
		Burst:     cfg.SMTP.Burst,
	}
	tracker := tracking.New(cfg.Tracking.BaseURL)
	channel := email.NewChannel(
		smtp,
		email.NewDialer(smtp),
		a.Store.Contacts(),
		a.Store.Activities(),
		email.WithTracker(tracker),
		email.WithLogger(log),
		email.WithMetrics(a.Metrics),
	)

	// Prompt steps fail with a content generation error until a key is set.
	var generator sequence.ContentGenerator
	if cfg.AI.APIKey != "" {
		generator = ai.NewClient(ai.Config{
			APIKey:     cfg.AI.APIKey,
			BaseURL:    cfg.AI.BaseURL,
			Model:      cfg.AI.Model,
			Timeout:    cfg.AI.Timeout,
			MaxRetries: cfg.AI.MaxRetries,
		}, log)
	} else {
		log.Warn("ai.api_key is not set; AI prompt steps will fail")
	}

	a.Engine = sequence.NewEngine(
		sequence.DependenciesFrom(a.Store, generator, channel),
		sequence.Config{
			BatchSize:   cfg.Sequencer.BatchSize,
			MaxAttempts: cfg.Sequencer.MaxAttempts,
			Concurrency: cfg.Sequencer.Concurrency,
			ClaimTTL:    cfg.Sequencer.ClaimTTL,
		},
		sequence.WithLogger(log),
		sequence.WithReporter(a.Reporter),
		sequence.WithMetrics(a.Metrics),
		sequence.WithPublisher(publisher),
	)
	a.Engagement = engagement.NewService(a.Store.Contacts(), a.Store.Activities(), a.Engine, log)
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	switch a.Config.Store.Driver {
	case "memory":
		a.Logger.Warn("using the in-memory store; state is lost on exit")
		a.Store = memory.NewStore()
		return nil
	default:
		db, err := postgres.NewDB(ctx, a.Config.Database)
		if err != nil {
			return err
		}
		a.db = db
		a.closers = append(a.closers, db.Close)

		if a.Config.Database.AutoMigrate {
			if err := postgres.Migrate(ctx, db); err != nil {
				return err
			}
		}

		var store repository.Store = postgres.NewStore(db, a.Metrics)
		if ttl := a.Config.Sequencer.SequenceCacheTTL; ttl > 0 {
			store = cachedStore{Store: store, sequences: cache.NewSequenceRepository(store.Sequences(), ttl)}
		}
		a.Store = store
		return nil
	}
}

// openRedis connects the lifecycle event broker and the tick lock. Without a
// redis URL events are dropped and ticks run unlocked.
func (a *App) openRedis(ctx context.Context) (messaging.Publisher, error) {
	cfg := a.Config.Redis
	if cfg.URL == "" {
		return messaging.NopPublisher{}, nil
	}

	client, err := redis.NewClient(ctx, redis.Config{
		URL:          cfg.URL,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})
	if err != nil {
		return nil, err
	}
	a.redis = client

	broker := redis.NewRedisBroker(client, a.Logger, a.Metrics)
	a.closers = append(a.closers, broker.Close)
	a.Locker = lock.NewRedisLocker(client, "outreach:lock:")
	return messaging.NewBrokerPublisher(broker, cfg.EventChannel), nil
}

// HealthChecks lists the backing services readiness depends on.
func (a *App) HealthChecks() map[string]health.Pinger {
	checks := map[string]health.Pinger{}
	if a.db != nil {
		checks["database"] = a.db
	}
	if a.redis != nil {
		client := a.redis
		checks["redis"] = health.PingerFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	}
	return checks
}

// Close releases connections in reverse order of opening and flushes the
// error reporter.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("failed to close resource", "error", err.Error())
		}
	}
	a.closers = nil
	if a.Reporter != nil {
		a.Reporter.Flush(2 * time.Second)
	}
}

type cachedStore struct {
	repository.Store
	sequences repository.SequenceRepository
}

func (s cachedStore) Sequences() repository.SequenceRepository { return s.sequences }
