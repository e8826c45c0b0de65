// Package sequence runs outreach sequences: it enrolls contacts, decides per
// step whether to send, resolves content, dispatches it and moves each
// enrollment along its schedule.
package sequence

import (
	"context"
	"time"

	"github.com/jwalitptl/outreach-engine/internal/email"
	"github.com/jwalitptl/outreach-engine/internal/repository"
	"github.com/jwalitptl/outreach-engine/pkg/errreport"
	"github.com/jwalitptl/outreach-engine/pkg/logger"
	"github.com/jwalitptl/outreach-engine/pkg/messaging"
	"github.com/jwalitptl/outreach-engine/pkg/metrics"
)

// ContentGenerator writes a message from a prompt and returns a JSON object.
type ContentGenerator interface {
	GenerateJSON(ctx context.Context, system, user string) (string, error)
}

// DeliveryChannel dispatches one message and records it as sent.
type DeliveryChannel interface {
	Send(ctx context.Context, req email.SendRequest) (*email.SendResult, error)
}

type Config struct {
	BatchSize int
	// MaxAttempts is how many failed attempts at one step pause the
	// enrollment. Zero retries forever.
	MaxAttempts int
	// Concurrency is how many claimed enrollments a batch runs at once.
	Concurrency int
	// ClaimTTL is how long a claim is honoured before it is treated as
	// abandoned by a crashed worker.
	ClaimTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		BatchSize:   50,
		MaxAttempts: 5,
		Concurrency: 1,
		ClaimTTL:    10 * time.Minute,
	}
}

// Dependencies are the stores and collaborators the engine drives.
type Dependencies struct {
	Sequences     repository.SequenceRepository
	Enrollments   repository.EnrollmentRepository
	Contacts      repository.ContactRepository
	Activities    repository.ActivityRepository
	Templates     repository.TemplateRepository
	Organizations repository.OrganizationRepository
	Generator     ContentGenerator
	Delivery      DeliveryChannel
}

// DependenciesFrom fills the store fields from a repository.Store.
func DependenciesFrom(store repository.Store, generator ContentGenerator, delivery DeliveryChannel) Dependencies {
	return Dependencies{
		Sequences:     store.Sequences(),
		Enrollments:   store.Enrollments(),
		Contacts:      store.Contacts(),
		Activities:    store.Activities(),
		Templates:     store.Templates(),
		Organizations: store.Organizations(),
		Generator:     generator,
		Delivery:      delivery,
	}
}

type Option func(*core)

func WithClock(now func() time.Time) Option {
	return func(c *core) { c.now = now }
}

func WithLogger(l *logger.Logger) Option {
	return func(c *core) { c.logger = l }
}

func WithReporter(r errreport.Reporter) Option {
	return func(c *core) { c.reporter = r }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *core) { c.metrics = m }
}

func WithPublisher(p messaging.Publisher) Option {
	return func(c *core) { c.publisher = p }
}

// core is shared by every component of one engine.
type core struct {
	deps      Dependencies
	cfg       Config
	now       func() time.Time
	logger    *logger.Logger
	reporter  errreport.Reporter
	metrics   *metrics.Metrics
	publisher messaging.Publisher
}

func (c *core) clock() time.Time {
	return c.now().UTC()
}

// log prefers the request-scoped logger carried by ctx.
func (c *core) log(ctx context.Context) *logger.Logger {
	return logger.FromContext(ctx, c.logger)
}

// Engine bundles the enrollment manager, step executor and batch processor
// over one set of dependencies.
type Engine struct {
	*Manager
	*Executor
	*Processor
}

func NewEngine(deps Dependencies, cfg Config, opts ...Option) *Engine {
	defaults := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaults.Concurrency
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = defaults.ClaimTTL
	}
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}

	c := &core{
		deps:      deps,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger.Nop(),
		reporter:  errreport.Nop{},
		publisher: messaging.NopPublisher{},
	}
	for _, opt := range opts {
		opt(c)
	}

	executor := &Executor{
		core:      c,
		evaluator: NewEvaluator(deps.Activities),
		resolver:  NewResolver(deps.Templates, deps.Organizations, deps.Generator),
	}
	return &Engine{
		Manager:   &Manager{core: c},
		Executor:  executor,
		Processor: &Processor{core: c, executor: executor},
	}
}
