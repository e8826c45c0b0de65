// Package engagement records what contacts do with the messages they were
// sent. Those activities are what the sequence conditions gate on.
package engagement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/outreach-engine/internal/model"
	"github.com/jwalitptl/outreach-engine/internal/repository"
	apperrors "github.com/jwalitptl/outreach-engine/pkg/errors"
	"github.com/jwalitptl/outreach-engine/pkg/logger"
)

type EventType string

const (
	EventOpened       EventType = "opened"
	EventClicked      EventType = "clicked"
	EventReplied      EventType = "replied"
	EventBounced      EventType = "bounced"
	EventUnsubscribed EventType = "unsubscribed"
)

// Event is an engagement notification from the mail provider.
type Event struct {
	Type       EventType  `json:"event_type" binding:"required"`
	EmailID    string     `json:"email_id" binding:"required"`
	URL        string     `json:"url,omitempty"`
	OccurredAt *time.Time `json:"occurred_at,omitempty"`
}

// Unenroller stops a contact's running sequences.
type Unenroller interface {
	UnenrollAll(ctx context.Context, contactID uuid.UUID, reason string) (int, error)
}

type Service interface {
	// RecordOpen logs the first open of an email. Repeat opens are ignored.
	RecordOpen(ctx context.Context, contactID uuid.UUID, emailID string) error
	RecordClick(ctx context.Context, contactID uuid.UUID, emailID, url string) error
	HandleEvent(ctx context.Context, event Event) error
}

type service struct {
	contacts   repository.ContactRepository
	activities repository.ActivityRepository
	unenroller Unenroller
	logger     *logger.Logger
	now        func() time.Time
}

func NewService(contacts repository.ContactRepository, activities repository.ActivityRepository, unenroller Unenroller, log *logger.Logger) Service {
	if log == nil {
		log = logger.Nop()
	}
	return &service{
		contacts:   contacts,
		activities: activities,
		unenroller: unenroller,
		logger:     log,
		now:        time.Now,
	}
}

func (s *service) RecordOpen(ctx context.Context, contactID uuid.UUID, emailID string) error {
	if _, err := s.sentEmail(ctx, contactID, emailID); err != nil {
		return err
	}
	return s.recordOpen(ctx, contactID, emailID, s.now())
}

func (s *service) RecordClick(ctx context.Context, contactID uuid.UUID, emailID, url string) error {
	if _, err := s.sentEmail(ctx, contactID, emailID); err != nil {
		return err
	}
	return s.append(ctx, contactID, model.ActivityLinkClicked, emailID, "Clicked "+url, s.now(), model.JSONMap{model.MetaURL: url})
}

func (s *service) HandleEvent(ctx context.Context, event Event) error {
	sent, err := s.activities.FindByEmailID(ctx, model.ActivityEmailSent, event.EmailID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.ErrEmailNotFound
		}
		return fmt.Errorf("failed to find sent email: %w", err)
	}
	contactID := sent.ContactID
	at := s.now()
	if event.OccurredAt != nil {
		at = *event.OccurredAt
	}

	switch event.Type {
	case EventOpened:
		return s.recordOpen(ctx, contactID, event.EmailID, at)
	case EventClicked:
		return s.append(ctx, contactID, model.ActivityLinkClicked, event.EmailID, "Clicked "+event.URL, at, model.JSONMap{model.MetaURL: event.URL})
	case EventReplied:
		return s.append(ctx, contactID, model.ActivityEmailReplied, event.EmailID, "Replied", at, nil)
	case EventBounced:
		if err := s.append(ctx, contactID, model.ActivityEmailBounced, event.EmailID, "Email bounced", at, nil); err != nil {
			return err
		}
		if err := s.contacts.MarkBounced(ctx, contactID); err != nil {
			return fmt.Errorf("failed to mark contact bounced: %w", err)
		}
		return s.stopSequences(ctx, contactID, model.ReasonBounced)
	case EventUnsubscribed:
		if err := s.append(ctx, contactID, model.ActivityUnsubscribed, event.EmailID, "Unsubscribed", at, nil); err != nil {
			return err
		}
		if err := s.contacts.MarkUnsubscribed(ctx, contactID, at); err != nil {
			return fmt.Errorf("failed to mark contact unsubscribed: %w", err)
		}
		return s.stopSequences(ctx, contactID, model.ReasonUnsubscribed)
	default:
		return apperrors.Wrap(apperrors.ErrUnknownEngagementEvent, fmt.Errorf("%q", event.Type))
	}
}

// sentEmail checks that emailID was sent to contactID. Tracking links are
// unauthenticated, so anything else is rejected.
func (s *service) sentEmail(ctx context.Context, contactID uuid.UUID, emailID string) (*model.ContactActivity, error) {
	sent, err := s.activities.FindByEmailID(ctx, model.ActivityEmailSent, emailID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.ErrEmailNotFound
		}
		return nil, fmt.Errorf("failed to find sent email: %w", err)
	}
	if sent.ContactID != contactID {
		return nil, apperrors.ErrEmailNotFound
	}
	return sent, nil
}

func (s *service) recordOpen(ctx context.Context, contactID uuid.UUID, emailID string, at time.Time) error {
	seen, err := s.activities.ExistsForEmail(ctx, contactID, model.ActivityEmailOpened, emailID)
	if err != nil {
		return fmt.Errorf("failed to check opens: %w", err)
	}
	if seen {
		return nil
	}
	return s.append(ctx, contactID, model.ActivityEmailOpened, emailID, "Opened email", at, nil)
}

func (s *service) append(ctx context.Context, contactID uuid.UUID, typ model.ActivityType, emailID, description string, at time.Time, meta model.JSONMap) error {
	if meta == nil {
		meta = model.JSONMap{}
	}
	meta[model.MetaEmailID] = emailID
	err := s.activities.Append(ctx, &model.ContactActivity{
		ContactID:   contactID,
		Type:        typ,
		Description: description,
		Metadata:    meta,
		CreatedAt:   at.UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to record %s: %w", typ, err)
	}
	s.logger.Debug("engagement recorded",
		"contact_id", contactID.String(),
		"email_id", emailID,
		"type", string(typ))
	return nil
}

func (s *service) stopSequences(ctx context.Context, contactID uuid.UUID, reason string) error {
	n, err := s.unenroller.UnenrollAll(ctx, contactID, reason)
	if err != nil {
		return fmt.Errorf("failed to unenroll contact: %w", err)
	}
	s.logger.Info("contact removed from sequences",
		"contact_id", contactID.String(),
		"reason", reason,
		"cancelled", n)
	return nil
}
