package model

import "github.com/google/uuid"

// StepStatus is the outcome of executing one enrollment's current step.
type StepStatus string

const (
	// StepSent means a message was dispatched and the enrollment advanced.
	StepSent StepStatus = "sent"
	// StepAdvanced means the condition was not met; nothing was sent but the
	// enrollment still moved on.
	StepAdvanced StepStatus = "advanced"
	StepSkipped  StepStatus = "skipped"
	StepFailed   StepStatus = "failed"
)

type StepResult struct {
	EnrollmentID uuid.UUID  `json:"enrollment_id"`
	ContactID    uuid.UUID  `json:"contact_id"`
	StepOrder    int        `json:"step_order"`
	Status       StepStatus `json:"status"`
	Reason       string     `json:"reason,omitempty"`
	EmailID      string     `json:"email_id,omitempty"`
}

// BatchResult summarises one batch tick.
type BatchResult struct {
	Processed int          `json:"processed"`
	Sent      int          `json:"sent"`
	Advanced  int          `json:"advanced"`
	Skipped   int          `json:"skipped"`
	Failed    int          `json:"failed"`
	Results   []StepResult `json:"results"`
}

func (b *BatchResult) Add(r StepResult) {
	b.Processed++
	switch r.Status {
	case StepSent:
		b.Sent++
	case StepAdvanced:
		b.Advanced++
	case StepSkipped:
		b.Skipped++
	default:
		b.Failed++
	}
	b.Results = append(b.Results, r)
}
