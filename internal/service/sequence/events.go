package sequence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/outreach-engine/internal/model"
)

// EventStatusChanged is published whenever an enrollment changes status or is
// reset by a re-enroll.
const EventStatusChanged = "outreach.enrollment.status_changed"

type StatusChangedEvent struct {
	EnrollmentID   uuid.UUID              `json:"enrollment_id"`
	ContactID      uuid.UUID              `json:"contact_id"`
	SequenceID     uuid.UUID              `json:"sequence_id"`
	OrganizationID uuid.UUID              `json:"organization_id"`
	From           model.EnrollmentStatus `json:"from,omitempty"`
	To             model.EnrollmentStatus `json:"to"`
	Reason         string                 `json:"reason,omitempty"`
	CurrentStep    int                    `json:"current_step"`
	OccurredAt     time.Time              `json:"occurred_at"`
}

// recordTransition appends a STATUS_CHANGE activity and publishes the event.
// Neither failure undoes the state change already written; both are logged
// and reported.
func (c *core) recordTransition(ctx context.Context, e *model.Enrollment, from model.EnrollmentStatus) {
	reason := ""
	if e.PausedReason != nil {
		reason = *e.PausedReason
	}
	now := c.clock()

	meta := model.JSONMap{
		model.MetaSequenceID:   e.SequenceID.String(),
		model.MetaEnrollmentID: e.ID.String(),
		model.MetaToStatus:     string(e.Status),
		model.MetaStepOrder:    e.CurrentStep,
	}
	if from != "" {
		meta[model.MetaFromStatus] = string(from)
	}
	if reason != "" {
		meta[model.MetaReason] = reason
	}

	activity := &model.ContactActivity{
		ContactID:   e.ContactID,
		Type:        model.ActivityStatusChange,
		Description: describeTransition(from, e.Status, reason),
		Metadata:    meta,
		CreatedAt:   now,
	}
	if err := c.deps.Activities.Append(ctx, activity); err != nil {
		c.log(ctx).Error(err, "failed to record status change",
			"enrollment_id", e.ID.String(),
			"contact_id", e.ContactID.String())
		c.reporter.Report(ctx, err, map[string]string{"component": "sequence", "enrollment_id": e.ID.String()})
	}

	event := StatusChangedEvent{
		EnrollmentID:   e.ID,
		ContactID:      e.ContactID,
		SequenceID:     e.SequenceID,
		OrganizationID: e.OrganizationID,
		From:           from,
		To:             e.Status,
		Reason:         reason,
		CurrentStep:    e.CurrentStep,
		OccurredAt:     now,
	}
	if err := c.publisher.Publish(ctx, EventStatusChanged, event); err != nil {
		c.log(ctx).Warn("failed to publish status change",
			"enrollment_id", e.ID.String(),
			"error", err.Error())
	}
	c.metrics.EnrollmentTransition(string(e.Status))
}

func describeTransition(from, to model.EnrollmentStatus, reason string) string {
	var s string
	if from == "" || from == to {
		s = fmt.Sprintf("Sequence enrollment %s", to)
	} else {
		s = fmt.Sprintf("Sequence enrollment %s -> %s", from, to)
	}
	if reason != "" {
		s += fmt.Sprintf(" (%s)", reason)
	}
	return s
}
