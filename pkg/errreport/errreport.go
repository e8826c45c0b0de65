// Package errreport forwards failures that need human attention to an
// error-reporting sink.
package errreport

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/jwalitptl/outreach-engine/pkg/logger"
)

type Reporter interface {
	Report(ctx context.Context, err error, tags map[string]string)
	Flush(timeout time.Duration)
}

type SentryConfig struct {
	DSN         string
	Environment string
	Release     string
}

// SentryReporter sends errors to Sentry and logs them locally as well.
type SentryReporter struct {
	hub    *sentry.Hub
	logger *logger.Logger
}

func NewSentryReporter(cfg SentryConfig, log *logger.Logger) (*SentryReporter, error) {
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sentry client: %w", err)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &SentryReporter{
		hub:    sentry.NewHub(client, sentry.NewScope()),
		logger: log,
	}, nil
}

func (r *SentryReporter) Report(ctx context.Context, err error, tags map[string]string) {
	if err == nil {
		return
	}
	r.logger.Error(err, "reported error", tagFields(tags)...)

	hub := r.hub
	if h := sentry.GetHubFromContext(ctx); h != nil {
		hub = h
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		hub.CaptureException(err)
	})
}

func (r *SentryReporter) Flush(timeout time.Duration) {
	r.hub.Flush(timeout)
}

// LogReporter only logs. It is used when no Sentry DSN is configured.
type LogReporter struct {
	logger *logger.Logger
}

func NewLogReporter(log *logger.Logger) *LogReporter {
	if log == nil {
		log = logger.Nop()
	}
	return &LogReporter{logger: log}
}

func (r *LogReporter) Report(_ context.Context, err error, tags map[string]string) {
	if err == nil {
		return
	}
	r.logger.Error(err, "reported error", tagFields(tags)...)
}

func (r *LogReporter) Flush(time.Duration) {}

// Nop discards every report.
type Nop struct{}

func (Nop) Report(context.Context, error, map[string]string) {}

func (Nop) Flush(time.Duration) {}

// New picks the Sentry reporter when cfg carries a DSN and the log reporter
// otherwise.
func New(cfg SentryConfig, log *logger.Logger) (Reporter, error) {
	if cfg.DSN == "" {
		return NewLogReporter(log), nil
	}
	return NewSentryReporter(cfg, log)
}

func tagFields(tags map[string]string) []interface{} {
	fields := make([]interface{}, 0, len(tags)*2)
	for k, v := range tags {
		fields = append(fields, k, v)
	}
	return fields
}
