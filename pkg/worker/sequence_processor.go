package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jwalitptl/outreach-engine/internal/model"
	"github.com/jwalitptl/outreach-engine/pkg/lock"
	"github.com/jwalitptl/outreach-engine/pkg/logger"
)

// BatchProcessor drains one batch of due enrollments.
type BatchProcessor interface {
	ProcessDueEnrollments(ctx context.Context, batchSize int) (*model.BatchResult, error)
}

type SequenceProcessorConfig struct {
	BatchSize    int
	PollInterval time.Duration
	// LockKey names the lease held for the length of a tick.
	LockKey string
	LockTTL time.Duration
}

type SequenceProcessor struct {
	processor BatchProcessor
	locker    lock.Locker
	config    SequenceProcessorConfig
	logger    *logger.Logger
}

func NewSequenceProcessor(
	processor BatchProcessor,
	locker lock.Locker,
	config SequenceProcessorConfig,
	logger *logger.Logger,
) *SequenceProcessor {
	if config.BatchSize <= 0 {
		panic("BatchSize must be greater than 0")
	}
	if config.PollInterval <= 0 {
		panic("PollInterval must be greater than 0")
	}
	if config.LockKey == "" {
		config.LockKey = "sequence-tick"
	}
	if config.LockTTL <= 0 {
		config.LockTTL = 5 * time.Minute
	}
	if locker == nil {
		locker = lock.Noop{}
	}

	return &SequenceProcessor{
		processor: processor,
		locker:    locker,
		config:    config,
		logger:    logger,
	}
}

// Start runs a tick immediately and then once per poll interval until ctx is
// cancelled.
func (p *SequenceProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.logger.Info("Starting sequence processor",
		"batch_size", p.config.BatchSize,
		"poll_interval", p.config.PollInterval.String())

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Shutting down sequence processor")
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *SequenceProcessor) tick(ctx context.Context) {
	if _, err := p.RunOnce(ctx); err != nil {
		p.logger.Error(err, "Failed to process due enrollments")
	}
}

// RunOnce processes a single batch under the tick lock. It returns a nil
// result when another worker holds the lock.
func (p *SequenceProcessor) RunOnce(ctx context.Context) (*model.BatchResult, error) {
	release, err := p.locker.Acquire(ctx, p.config.LockKey, p.config.LockTTL)
	if errors.Is(err, lock.ErrNotAcquired) {
		p.logger.Debug("Sequence tick already running elsewhere, skipping")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to acquire tick lock: %w", err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			p.logger.Warn("Failed to release tick lock", "error", err.Error())
		}
	}()

	return p.processor.ProcessDueEnrollments(ctx, p.config.BatchSize)
}
