package sequence

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jwalitptl/outreach-engine/internal/model"
)

// Processor drains due enrollments in bounded batches.
type Processor struct {
	*core
	executor *Executor
}

// ProcessDueEnrollments claims up to batchSize due enrollments, oldest due
// first, and executes each one. One enrollment failing never aborts the
// batch. A batchSize of zero or less uses the configured default.
func (p *Processor) ProcessDueEnrollments(ctx context.Context, batchSize int) (*model.BatchResult, error) {
	if batchSize <= 0 {
		batchSize = p.cfg.BatchSize
	}
	started := time.Now()
	now := p.clock()

	claimed, err := p.deps.Enrollments.ClaimDue(ctx, now, batchSize, now.Add(-p.cfg.ClaimTTL))
	if err != nil {
		return nil, fmt.Errorf("failed to claim due enrollments: %w", err)
	}

	results := make([]model.StepResult, len(claimed))
	if p.cfg.Concurrency <= 1 || len(claimed) <= 1 {
		for i, e := range claimed {
			results[i] = p.run(ctx, e)
		}
	} else {
		g := new(errgroup.Group)
		g.SetLimit(p.cfg.Concurrency)
		for i, e := range claimed {
			i, e := i, e
			g.Go(func() error {
				results[i] = p.run(ctx, e)
				return nil
			})
		}
		_ = g.Wait()
	}

	batch := &model.BatchResult{Results: make([]model.StepResult, 0, len(results))}
	for _, r := range results {
		batch.Add(r)
	}
	p.metrics.ObserveBatch(len(claimed), started)

	if batch.Processed > 0 {
		p.log(ctx).Info("sequence batch processed",
			"processed", batch.Processed,
			"sent", batch.Sent,
			"advanced", batch.Advanced,
			"skipped", batch.Skipped,
			"failed", batch.Failed,
			"duration_ms", time.Since(started).Milliseconds())
	}
	return batch, nil
}

// run executes one claimed enrollment and turns a panic into a failed result.
func (p *Processor) run(ctx context.Context, e *model.Enrollment) (res model.StepResult) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic executing enrollment %s: %v", e.ID, r)
			p.log(ctx).Error(err, "sequence step panicked", "enrollment_id", e.ID.String())
			p.reporter.Report(ctx, err, map[string]string{"component": "sequence", "enrollment_id": e.ID.String()})
			p.executor.release(ctx, e)
			res = model.StepResult{
				EnrollmentID: e.ID,
				ContactID:    e.ContactID,
				StepOrder:    e.CurrentStep,
				Status:       model.StepFailed,
				Reason:       err.Error(),
			}
			p.metrics.ObserveStep(string(model.StepFailed))
		}
	}()
	return p.executor.execute(ctx, e)
}
