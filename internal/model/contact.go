package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Contact struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	OrganizationID  uuid.UUID  `json:"organization_id" db:"organization_id"`
	Email           string     `json:"email" db:"email"`
	FirstName       string     `json:"first_name" db:"first_name"`
	LastName        string     `json:"last_name" db:"last_name"`
	Company         string     `json:"company" db:"company"`
	Title           string     `json:"title" db:"title"`
	Status          string     `json:"status" db:"status"`
	EngagementScore int        `json:"engagement_score" db:"engagement_score"`
	UnsubscribedAt  *time.Time `json:"unsubscribed_at,omitempty" db:"unsubscribed_at"`
	EmailBounced    bool       `json:"email_bounced" db:"email_bounced"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`

	// RecentActivity holds the latest activities, newest first.
	RecentActivity []ContactActivity `json:"recent_activity,omitempty" db:"-"`
}

func (c *Contact) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// IneligibleReason returns why the contact must never be emailed, or "" when
// it may be.
func (c *Contact) IneligibleReason() string {
	switch {
	case c.UnsubscribedAt != nil:
		return ReasonUnsubscribed
	case c.EmailBounced:
		return ReasonBounced
	case c.DeletedAt != nil:
		return ReasonContactDeleted
	default:
		return ""
	}
}

type ActivityType string

const (
	ActivityEmailSent    ActivityType = "EMAIL_SENT"
	ActivityEmailOpened  ActivityType = "EMAIL_OPENED"
	ActivityEmailReplied ActivityType = "EMAIL_REPLIED"
	ActivityLinkClicked  ActivityType = "LINK_CLICKED"
	ActivityEmailBounced ActivityType = "EMAIL_BOUNCED"
	ActivityUnsubscribed ActivityType = "UNSUBSCRIBED"
	ActivityStatusChange ActivityType = "STATUS_CHANGE"
)

// Metadata keys shared by the engine, the delivery channel and tracking.
const (
	MetaEmailID      = "email_id"
	MetaSequenceID   = "sequence_id"
	MetaEnrollmentID = "enrollment_id"
	MetaStepOrder    = "step_order"
	MetaFromStatus   = "from_status"
	MetaToStatus     = "to_status"
	MetaReason       = "reason"
	MetaURL          = "url"
	MetaActorID      = "actor_id"
	MetaSubject      = "subject"
)

// ContactActivity is one entry of the append-only engagement log.
type ContactActivity struct {
	ID          uuid.UUID    `json:"id" db:"id"`
	ContactID   uuid.UUID    `json:"contact_id" db:"contact_id"`
	Type        ActivityType `json:"type" db:"type"`
	Description string       `json:"description" db:"description"`
	Metadata    JSONMap      `json:"metadata" db:"metadata"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
}

// EmailID is the message id an activity refers to, if any.
func (a *ContactActivity) EmailID() string {
	return a.Metadata.String(MetaEmailID)
}
