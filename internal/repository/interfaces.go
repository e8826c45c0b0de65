package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/outreach-engine/internal/model"
)

// ErrNotFound is returned by single-record lookups that match nothing.
var ErrNotFound = errors.New("record not found")

// ErrClaimLost is returned when an enrollment was written by someone else
// after the caller claimed it.
var ErrClaimLost = errors.New("enrollment claim lost")

// All repository interfaces in one file
type (
	// SequenceRepository is read-only to the engine.
	SequenceRepository interface {
		// Get returns the sequence with its steps ordered by step_order.
		Get(ctx context.Context, id, organizationID uuid.UUID, activeOnly bool) (*model.Sequence, error)
	}

	EnrollmentRepository interface {
		// Upsert inserts or resets the enrollment keyed by (contact, sequence)
		// and fills in its id.
		Upsert(ctx context.Context, enrollment *model.Enrollment) error
		Get(ctx context.Context, id uuid.UUID) (*model.Enrollment, error)
		GetActive(ctx context.Context, contactID, sequenceID uuid.UUID) (*model.Enrollment, error)
		ListActiveByContact(ctx context.Context, contactID uuid.UUID) ([]*model.Enrollment, error)
		// Update writes the full enrollment state and releases any claim. A
		// worker holding a claim on the row loses its write-back.
		Update(ctx context.Context, enrollment *model.Enrollment) error
		// UpdateClaimed writes the state of an enrollment the caller claimed and
		// releases the claim. It fails with ErrClaimLost when the row's version
		// no longer matches enrollment.Version.
		UpdateClaimed(ctx context.Context, enrollment *model.Enrollment) error
		// ClaimDue stamps claimed_at on up to limit ACTIVE enrollments whose
		// next_step_at <= now and that are unclaimed or were claimed before
		// staleBefore. Results are ordered by next_step_at ascending.
		ClaimDue(ctx context.Context, now time.Time, limit int, staleBefore time.Time) ([]*model.Enrollment, error)
		// Claim claims a single enrollment regardless of due time. It returns
		// ErrNotFound when the enrollment does not exist or holds a live claim.
		Claim(ctx context.Context, id uuid.UUID, now, staleBefore time.Time) (*model.Enrollment, error)
		// Release drops the claim held by enrollment. A row that changed since
		// the claim is left alone.
		Release(ctx context.Context, enrollment *model.Enrollment) error
	}

	ContactRepository interface {
		// Get returns a non-deleted contact with its most recent activities.
		Get(ctx context.Context, id uuid.UUID) (*model.Contact, error)
		MarkBounced(ctx context.Context, id uuid.UUID) error
		MarkUnsubscribed(ctx context.Context, id uuid.UUID, at time.Time) error
	}

	ActivityRepository interface {
		Append(ctx context.Context, activity *model.ContactActivity) error
		// FindLatest returns the newest activity of type for the contact,
		// optionally only those created strictly after after. It returns
		// nil, nil when there is none.
		FindLatest(ctx context.Context, contactID uuid.UUID, activityType model.ActivityType, after *time.Time) (*model.ContactActivity, error)
		// ExistsForEmail reports whether the contact has an activity of type
		// whose metadata references emailID.
		ExistsForEmail(ctx context.Context, contactID uuid.UUID, activityType model.ActivityType, emailID string) (bool, error)
		// FindByEmailID returns the activity of type that references emailID.
		FindByEmailID(ctx context.Context, activityType model.ActivityType, emailID string) (*model.ContactActivity, error)
		ListRecent(ctx context.Context, contactID uuid.UUID, limit int) ([]model.ContactActivity, error)
	}

	TemplateRepository interface {
		Get(ctx context.Context, id, organizationID uuid.UUID) (*model.EmailTemplate, error)
	}

	OrganizationRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.Organization, error)
	}
)

// RecentActivityLimit is how many activities a contact lookup carries.
const RecentActivityLimit = 5

// Store groups the repositories one backend provides.
type Store interface {
	Sequences() SequenceRepository
	Enrollments() EnrollmentRepository
	Contacts() ContactRepository
	Activities() ActivityRepository
	Templates() TemplateRepository
	Organizations() OrganizationRepository
}
