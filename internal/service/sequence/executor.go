package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/outreach-engine/internal/email"
	"github.com/jwalitptl/outreach-engine/internal/model"
	"github.com/jwalitptl/outreach-engine/internal/repository"
	apperrors "github.com/jwalitptl/outreach-engine/pkg/errors"
)

// Executor runs the current step of one enrollment.
type Executor struct {
	*core
	evaluator *Evaluator
	resolver  *Resolver
}

// ExecuteStep claims the enrollment and runs its current step, whether or not
// it is due yet. It fails with ErrEnrollmentBusy while another worker holds
// the claim.
func (x *Executor) ExecuteStep(ctx context.Context, enrollmentID uuid.UUID) (model.StepResult, error) {
	now := x.clock()
	e, err := x.deps.Enrollments.Claim(ctx, enrollmentID, now, now.Add(-x.cfg.ClaimTTL))
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return model.StepResult{}, fmt.Errorf("failed to claim enrollment: %w", err)
		}
		if _, getErr := x.deps.Enrollments.Get(ctx, enrollmentID); errors.Is(getErr, repository.ErrNotFound) {
			return model.StepResult{}, apperrors.ErrEnrollmentNotFound
		}
		return model.StepResult{}, apperrors.ErrEnrollmentBusy
	}
	return x.execute(ctx, e), nil
}

// execute runs one claimed enrollment. Every path ends with a state write or
// a release, so the claim never outlives the call.
func (x *Executor) execute(ctx context.Context, e *model.Enrollment) model.StepResult {
	res := model.StepResult{
		EnrollmentID: e.ID,
		ContactID:    e.ContactID,
		StepOrder:    e.CurrentStep,
	}

	if !e.IsActive() {
		x.release(ctx, e)
		return skipped(res, fmt.Sprintf("enrollment %s", e.Status))
	}

	seq, err := x.deps.Sequences.Get(ctx, e.SequenceID, e.OrganizationID, false)
	if errors.Is(err, repository.ErrNotFound) {
		x.cancel(ctx, e, model.ReasonSequenceDeleted)
		return skipped(res, "sequence deleted")
	}
	if err != nil {
		return x.fail(ctx, e, res, fmt.Errorf("failed to load sequence: %w", err))
	}

	now := x.clock()
	step, ok := seq.StepAt(e.CurrentStep)
	if !ok {
		from := e.Status
		e.Complete(now)
		if x.write(ctx, e) {
			x.recordTransition(ctx, e, from)
		}
		return skipped(res, "sequence complete")
	}

	contact, err := x.deps.Contacts.Get(ctx, e.ContactID)
	if errors.Is(err, repository.ErrNotFound) {
		x.cancel(ctx, e, model.ReasonContactDeleted)
		return skipped(res, "Contact deleted")
	}
	if err != nil {
		return x.fail(ctx, e, res, fmt.Errorf("failed to load contact: %w", err))
	}
	if reason := contact.IneligibleReason(); reason != "" {
		x.cancel(ctx, e, reason)
		return skipped(res, "Contact "+reason)
	}

	send, err := x.evaluator.ShouldExecute(ctx, step.Condition, contact.ID)
	if err != nil {
		return x.fail(ctx, e, res, err)
	}
	if !send {
		x.advance(ctx, e, seq, now)
		res.Status = model.StepAdvanced
		res.Reason = fmt.Sprintf("condition %s not met", step.Condition)
		x.observe(res)
		return res
	}

	content, err := x.resolver.Resolve(ctx, step, seq, contact)
	if err != nil {
		if step.Content != nil {
			x.metrics.ContentGenerationFailed(step.Content.Kind())
		}
		return x.fail(ctx, e, res, err)
	}

	sent, err := x.deps.Delivery.Send(ctx, email.SendRequest{
		ContactID:      contact.ID,
		OrganizationID: seq.OrganizationID,
		SequenceID:     seq.ID,
		EnrollmentID:   e.ID,
		StepOrder:      step.StepOrder,
		ActorID:        seq.CreatedByID,
		Subject:        content.Subject,
		Body:           content.Body,
		TrackOpens:     seq.TrackOpens,
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrContactIneligible) {
			if reason := x.ineligibleNow(ctx, contact.ID); reason != "" {
				x.cancel(ctx, e, reason)
				return skipped(res, "Contact "+reason)
			}
		}
		return x.fail(ctx, e, res, err)
	}

	x.advance(ctx, e, seq, x.clock())
	res.Status = model.StepSent
	res.EmailID = sent.EmailID
	x.observe(res)
	return res
}

// ineligibleNow re-reads the contact after the delivery channel refused it.
func (x *Executor) ineligibleNow(ctx context.Context, contactID uuid.UUID) string {
	contact, err := x.deps.Contacts.Get(ctx, contactID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.ReasonContactDeleted
	}
	if err != nil {
		return ""
	}
	return contact.IneligibleReason()
}

func (x *Executor) advance(ctx context.Context, e *model.Enrollment, seq *model.Sequence, now time.Time) {
	from := e.Status
	if completed := e.Advance(seq, now); completed {
		if x.write(ctx, e) {
			x.recordTransition(ctx, e, from)
		}
		return
	}
	x.write(ctx, e)
}

func (x *Executor) cancel(ctx context.Context, e *model.Enrollment, reason string) {
	from := e.Status
	e.Cancel(reason)
	if x.write(ctx, e) {
		x.recordTransition(ctx, e, from)
	}
}

// fail counts a failed attempt. The step stays due, so the enrollment comes
// back on the next scan until the attempt ceiling pauses it.
func (x *Executor) fail(ctx context.Context, e *model.Enrollment, res model.StepResult, err error) model.StepResult {
	from := e.Status
	paused := e.RecordFailure(err, x.cfg.MaxAttempts)
	if x.write(ctx, e) && paused {
		x.recordTransition(ctx, e, from)
	}

	x.log(ctx).Error(err, "sequence step failed",
		"enrollment_id", e.ID.String(),
		"contact_id", e.ContactID.String(),
		"step_order", res.StepOrder,
		"attempts", e.Attempts)
	x.reporter.Report(ctx, err, map[string]string{
		"component":     "sequence",
		"enrollment_id": e.ID.String(),
		"contact_id":    e.ContactID.String(),
	})

	res.Status = model.StepFailed
	res.Reason = err.Error()
	if paused {
		res.Reason = fmt.Sprintf("%s; paused after %d attempts", res.Reason, e.Attempts)
	}
	x.observe(res)
	return res
}

// write persists e and releases its claim. The write is not tied to ctx's
// cancellation so a shutdown mid-step still records what was done. It loses
// to any write made since the claim, such as an unenroll or pause, and the
// stored state is kept.
func (x *Executor) write(ctx context.Context, e *model.Enrollment) bool {
	ctx = context.WithoutCancel(ctx)
	err := x.deps.Enrollments.UpdateClaimed(ctx, e)
	if err == nil {
		return true
	}
	if errors.Is(err, repository.ErrClaimLost) {
		fields := []interface{}{
			"enrollment_id", e.ID.String(),
			"discarded_status", string(e.Status),
		}
		if current, getErr := x.deps.Enrollments.Get(ctx, e.ID); getErr == nil {
			fields = append(fields, "status", string(current.Status))
		}
		x.log(ctx).Info("enrollment changed while its step ran, keeping stored state", fields...)
		return false
	}

	x.log(ctx).Error(err, "failed to write enrollment state",
		"enrollment_id", e.ID.String(),
		"status", string(e.Status))
	x.reporter.Report(ctx, err, map[string]string{"component": "sequence", "enrollment_id": e.ID.String()})
	x.release(ctx, e)
	return false
}

func (x *Executor) release(ctx context.Context, e *model.Enrollment) {
	if err := x.deps.Enrollments.Release(context.WithoutCancel(ctx), e); err != nil {
		x.log(ctx).Warn("failed to release enrollment claim",
			"enrollment_id", e.ID.String(),
			"error", err.Error())
	}
}

func (x *Executor) observe(res model.StepResult) {
	x.metrics.ObserveStep(string(res.Status))
	x.logger.Debug("sequence step executed",
		"enrollment_id", res.EnrollmentID.String(),
		"contact_id", res.ContactID.String(),
		"step_order", res.StepOrder,
		"status", string(res.Status),
		"reason", res.Reason)
}

func skipped(res model.StepResult, reason string) model.StepResult {
	res.Status = model.StepSkipped
	res.Reason = reason
	return res
}
