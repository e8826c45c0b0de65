package sequence

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/outreach-engine/internal/model"
	"github.com/jwalitptl/outreach-engine/internal/repository"
	apperrors "github.com/jwalitptl/outreach-engine/pkg/errors"
)

// Manager handles the lifecycle calls made directly by upstream flows.
type Manager struct {
	*core
}

// Enroll starts (or restarts) contactID on the sequence. Enrolling a contact
// that already has an enrollment for the sequence resets it to the first step.
func (m *Manager) Enroll(ctx context.Context, contactID, sequenceID, organizationID uuid.UUID) (*model.EnrollResult, error) {
	seq, err := m.deps.Sequences.Get(ctx, sequenceID, organizationID, true)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.ErrSequenceNotFound
		}
		return nil, fmt.Errorf("failed to load sequence: %w", err)
	}
	first, ok := seq.StepAt(0)
	if !ok {
		return nil, apperrors.ErrSequenceHasNoSteps
	}

	e := &model.Enrollment{
		ContactID:      contactID,
		SequenceID:     sequenceID,
		OrganizationID: organizationID,
	}
	e.Reset(m.clock().Add(first.Delay()))

	if err := m.deps.Enrollments.Upsert(ctx, e); err != nil {
		return nil, fmt.Errorf("failed to save enrollment: %w", err)
	}
	m.recordTransition(ctx, e, "")

	m.log(ctx).Info("contact enrolled",
		"enrollment_id", e.ID.String(),
		"contact_id", contactID.String(),
		"sequence_id", sequenceID.String())

	return &model.EnrollResult{EnrollmentID: e.ID, NextStepAt: *e.NextStepAt}, nil
}

// Unenroll cancels the contact's active enrollment in the sequence. It is a
// no-op when there is none.
func (m *Manager) Unenroll(ctx context.Context, contactID, sequenceID uuid.UUID, reason string) error {
	e, err := m.deps.Enrollments.GetActive(ctx, contactID, sequenceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to load enrollment: %w", err)
	}
	return m.cancel(ctx, e, reason)
}

// UnenrollAll cancels every active enrollment of the contact and returns how
// many were cancelled.
func (m *Manager) UnenrollAll(ctx context.Context, contactID uuid.UUID, reason string) (int, error) {
	enrollments, err := m.deps.Enrollments.ListActiveByContact(ctx, contactID)
	if err != nil {
		return 0, fmt.Errorf("failed to list enrollments: %w", err)
	}
	cancelled := 0
	for _, e := range enrollments {
		if err := m.cancel(ctx, e, reason); err != nil {
			return cancelled, err
		}
		cancelled++
	}
	return cancelled, nil
}

func (m *Manager) cancel(ctx context.Context, e *model.Enrollment, reason string) error {
	from := e.Status
	e.Cancel(reason)
	if err := m.deps.Enrollments.Update(ctx, e); err != nil {
		return fmt.Errorf("failed to cancel enrollment: %w", err)
	}
	m.recordTransition(ctx, e, from)
	return nil
}

// Pause suspends an active enrollment. Enrollments in any other status are
// returned unchanged.
func (m *Manager) Pause(ctx context.Context, enrollmentID uuid.UUID, reason *string) (*model.Enrollment, error) {
	e, err := m.load(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if !e.IsActive() {
		return e, nil
	}

	from := e.Status
	e.Pause(reason)
	if err := m.deps.Enrollments.Update(ctx, e); err != nil {
		return nil, fmt.Errorf("failed to pause enrollment: %w", err)
	}
	m.recordTransition(ctx, e, from)
	return e, nil
}

// Resume reschedules a paused enrollment at its current step, due after that
// step's delay. When the step no longer exists the enrollment completes.
func (m *Manager) Resume(ctx context.Context, enrollmentID uuid.UUID) (*model.Enrollment, error) {
	e, err := m.load(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if e.Status != model.EnrollmentPaused {
		return nil, apperrors.ErrEnrollmentNotPausable
	}

	seq, err := m.deps.Sequences.Get(ctx, e.SequenceID, e.OrganizationID, false)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.ErrSequenceNotFound
		}
		return nil, fmt.Errorf("failed to load sequence: %w", err)
	}

	from := e.Status
	now := m.clock()
	if step, ok := seq.StepAt(e.CurrentStep); ok {
		e.ScheduleStep(e.CurrentStep, now.Add(step.Delay()))
	} else {
		e.Complete(now)
	}
	if err := m.deps.Enrollments.Update(ctx, e); err != nil {
		return nil, fmt.Errorf("failed to resume enrollment: %w", err)
	}
	m.recordTransition(ctx, e, from)
	return e, nil
}

func (m *Manager) load(ctx context.Context, id uuid.UUID) (*model.Enrollment, error) {
	e, err := m.deps.Enrollments.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.ErrEnrollmentNotFound
		}
		return nil, fmt.Errorf("failed to load enrollment: %w", err)
	}
	return e, nil
}
