package model

import (
	"time"

	"github.com/google/uuid"
)

type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "ACTIVE"
	EnrollmentPaused    EnrollmentStatus = "PAUSED"
	EnrollmentCancelled EnrollmentStatus = "CANCELLED"
	EnrollmentCompleted EnrollmentStatus = "COMPLETED"
)

// Reasons recorded in PausedReason by the engine itself.
const (
	ReasonContactDeleted      = "contact_deleted"
	ReasonUnsubscribed        = "unsubscribed"
	ReasonBounced             = "bounced"
	ReasonSequenceDeleted     = "sequence_deleted"
	ReasonMaxAttemptsExceeded = "max_attempts_exceeded"
)

// Enrollment links one contact to one sequence. The transition methods below
// keep NextStepAt non-nil exactly when Status is ACTIVE.
type Enrollment struct {
	ID             uuid.UUID        `json:"id" db:"id"`
	ContactID      uuid.UUID        `json:"contact_id" db:"contact_id"`
	SequenceID     uuid.UUID        `json:"sequence_id" db:"sequence_id"`
	OrganizationID uuid.UUID        `json:"organization_id" db:"organization_id"`
	CurrentStep    int              `json:"current_step" db:"current_step"`
	Status         EnrollmentStatus `json:"status" db:"status"`
	NextStepAt     *time.Time       `json:"next_step_at,omitempty" db:"next_step_at"`
	PausedReason   *string          `json:"paused_reason,omitempty" db:"paused_reason"`
	Attempts       int              `json:"attempts" db:"attempts"`
	LastError      *string          `json:"last_error,omitempty" db:"last_error"`
	ClaimedAt      *time.Time       `json:"-" db:"claimed_at"`
	// Version changes on every write, including claims.
	Version        int64            `json:"-" db:"version"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at" db:"updated_at"`
}

func (e *Enrollment) IsActive() bool {
	return e.Status == EnrollmentActive
}

// Reset puts the enrollment back at the first step, due at nextStepAt.
func (e *Enrollment) Reset(nextStepAt time.Time) {
	e.ScheduleStep(0, nextStepAt)
	e.CompletedAt = nil
}

// ScheduleStep makes step index the current one, due at at.
func (e *Enrollment) ScheduleStep(index int, at time.Time) {
	at = at.UTC()
	e.CurrentStep = index
	e.Status = EnrollmentActive
	e.NextStepAt = &at
	e.PausedReason = nil
	e.Attempts = 0
	e.LastError = nil
}

// Advance moves past the current step. When the sequence has no further step
// the enrollment completes. It reports whether the enrollment completed.
func (e *Enrollment) Advance(seq *Sequence, now time.Time) bool {
	next := e.CurrentStep + 1
	step, ok := seq.StepAt(next)
	if !ok {
		e.CurrentStep = next
		if e.CurrentStep > len(seq.Steps) {
			e.CurrentStep = len(seq.Steps)
		}
		e.Complete(now)
		return true
	}
	e.ScheduleStep(next, now.Add(step.Delay()))
	return false
}

func (e *Enrollment) Complete(now time.Time) {
	now = now.UTC()
	e.Status = EnrollmentCompleted
	e.NextStepAt = nil
	e.PausedReason = nil
	e.CompletedAt = &now
}

func (e *Enrollment) Cancel(reason string) {
	e.Status = EnrollmentCancelled
	e.NextStepAt = nil
	e.PausedReason = &reason
}

func (e *Enrollment) Pause(reason *string) {
	e.Status = EnrollmentPaused
	e.NextStepAt = nil
	e.PausedReason = reason
}

// RecordFailure counts a failed attempt at the current step. Once maxAttempts
// is reached the enrollment is paused; it reports whether that happened.
// A maxAttempts of zero disables the ceiling.
func (e *Enrollment) RecordFailure(err error, maxAttempts int) bool {
	e.Attempts++
	msg := err.Error()
	e.LastError = &msg
	if maxAttempts > 0 && e.Attempts >= maxAttempts {
		reason := ReasonMaxAttemptsExceeded
		e.Pause(&reason)
		return true
	}
	return false
}

// EnrollResult is returned by a successful enroll.
type EnrollResult struct {
	EnrollmentID uuid.UUID `json:"enrollment_id"`
	NextStepAt   time.Time `json:"next_step_at"`
}
