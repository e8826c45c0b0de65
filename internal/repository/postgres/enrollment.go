package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/outreach-engine/internal/model"
	"github.com/jwalitptl/outreach-engine/internal/repository"
)

const enrollmentColumns = `
	id, contact_id, sequence_id, organization_id, current_step, status,
	next_step_at, paused_reason, attempts, last_error, claimed_at,
	version, completed_at, created_at, updated_at`

type enrollmentRepository struct {
	BaseRepository
}

func NewEnrollmentRepository(base BaseRepository) repository.EnrollmentRepository {
	return &enrollmentRepository{base}
}

func (r *enrollmentRepository) Upsert(ctx context.Context, e *model.Enrollment) (err error) {
	defer r.observe("enrollment_upsert", time.Now(), &err)

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	query := `
		INSERT INTO sequence_enrollments (
			id, contact_id, sequence_id, organization_id, current_step, status,
			next_step_at, paused_reason, attempts, last_error, claimed_at,
			completed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULL, $11, NOW(), NOW())
		ON CONFLICT (contact_id, sequence_id) DO UPDATE SET
			organization_id = EXCLUDED.organization_id,
			current_step    = EXCLUDED.current_step,
			status          = EXCLUDED.status,
			next_step_at    = EXCLUDED.next_step_at,
			paused_reason   = EXCLUDED.paused_reason,
			attempts        = EXCLUDED.attempts,
			last_error      = EXCLUDED.last_error,
			claimed_at      = NULL,
			version         = sequence_enrollments.version + 1,
			completed_at    = EXCLUDED.completed_at,
			updated_at      = NOW()
		RETURNING ` + enrollmentColumns

	var stored model.Enrollment
	err = r.db.GetContext(ctx, &stored, query,
		e.ID,
		e.ContactID,
		e.SequenceID,
		e.OrganizationID,
		e.CurrentStep,
		e.Status,
		e.NextStepAt,
		e.PausedReason,
		e.Attempts,
		e.LastError,
		e.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert enrollment: %w", err)
	}
	*e = stored
	return nil
}

func (r *enrollmentRepository) Get(ctx context.Context, id uuid.UUID) (_ *model.Enrollment, err error) {
	defer r.observe("enrollment_get", time.Now(), &err)

	var e model.Enrollment
	query := `SELECT ` + enrollmentColumns + ` FROM sequence_enrollments WHERE id = $1`
	if err = r.db.GetContext(ctx, &e, query, id); err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

func (r *enrollmentRepository) GetActive(ctx context.Context, contactID, sequenceID uuid.UUID) (_ *model.Enrollment, err error) {
	defer r.observe("enrollment_get_active", time.Now(), &err)

	var e model.Enrollment
	query := `
		SELECT ` + enrollmentColumns + `
		FROM sequence_enrollments
		WHERE contact_id = $1 AND sequence_id = $2 AND status = $3
	`
	if err = r.db.GetContext(ctx, &e, query, contactID, sequenceID, model.EnrollmentActive); err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

func (r *enrollmentRepository) ListActiveByContact(ctx context.Context, contactID uuid.UUID) (_ []*model.Enrollment, err error) {
	defer r.observe("enrollment_list_active", time.Now(), &err)

	query := `
		SELECT ` + enrollmentColumns + `
		FROM sequence_enrollments
		WHERE contact_id = $1 AND status = $2
		ORDER BY created_at ASC
	`
	var enrollments []*model.Enrollment
	if err = r.db.SelectContext(ctx, &enrollments, query, contactID, model.EnrollmentActive); err != nil {
		return nil, fmt.Errorf("failed to list active enrollments: %w", err)
	}
	return enrollments, nil
}

func (r *enrollmentRepository) Update(ctx context.Context, e *model.Enrollment) (err error) {
	defer r.observe("enrollment_update", time.Now(), &err)
	return r.update(ctx, e, false)
}

func (r *enrollmentRepository) UpdateClaimed(ctx context.Context, e *model.Enrollment) (err error) {
	defer r.observe("enrollment_update_claimed", time.Now(), &err)

	err = r.update(ctx, e, true)
	if errors.Is(err, repository.ErrNotFound) {
		return repository.ErrClaimLost
	}
	return err
}

// update writes e and bumps its version. With checkVersion the write only
// lands while the row still carries e.Version.
func (r *enrollmentRepository) update(ctx context.Context, e *model.Enrollment, checkVersion bool) error {
	query := `
		UPDATE sequence_enrollments
		SET current_step  = $1,
			status        = $2,
			next_step_at  = $3,
			paused_reason = $4,
			attempts      = $5,
			last_error    = $6,
			completed_at  = $7,
			claimed_at    = NULL,
			version       = version + 1,
			updated_at    = $8
		WHERE id = $9
		AND (NOT $10 OR version = $11)
		RETURNING version
	`
	updatedAt := time.Now().UTC()

	var version int64
	err := r.db.GetContext(ctx, &version, query,
		e.CurrentStep,
		e.Status,
		e.NextStepAt,
		e.PausedReason,
		e.Attempts,
		e.LastError,
		e.CompletedAt,
		updatedAt,
		e.ID,
		checkVersion,
		e.Version,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return repository.ErrNotFound
		}
		return fmt.Errorf("failed to update enrollment: %w", err)
	}
	e.UpdatedAt = updatedAt
	e.ClaimedAt = nil
	e.Version = version
	return nil
}

// ClaimDue claims due rows in one statement. SKIP LOCKED keeps two concurrent
// claimers from blocking on, or both taking, the same row.
func (r *enrollmentRepository) ClaimDue(ctx context.Context, now time.Time, limit int, staleBefore time.Time) (_ []*model.Enrollment, err error) {
	defer r.observe("enrollment_claim_due", time.Now(), &err)

	query := `
		UPDATE sequence_enrollments
		SET claimed_at = $1, version = version + 1
		WHERE id IN (
			SELECT id
			FROM sequence_enrollments
			WHERE status = $4
			AND next_step_at <= $1
			AND (claimed_at IS NULL OR claimed_at < $3)
			ORDER BY next_step_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + enrollmentColumns

	var claimed []*model.Enrollment
	if err = r.db.SelectContext(ctx, &claimed, query, now.UTC(), limit, staleBefore.UTC(), model.EnrollmentActive); err != nil {
		return nil, fmt.Errorf("failed to claim due enrollments: %w", err)
	}

	// RETURNING does not preserve the subquery's order.
	sort.SliceStable(claimed, func(i, j int) bool {
		return claimed[i].NextStepAt.Before(*claimed[j].NextStepAt)
	})
	return claimed, nil
}

func (r *enrollmentRepository) Claim(ctx context.Context, id uuid.UUID, now, staleBefore time.Time) (_ *model.Enrollment, err error) {
	defer r.observe("enrollment_claim", time.Now(), &err)

	query := `
		UPDATE sequence_enrollments
		SET claimed_at = $2, version = version + 1
		WHERE id = $1
		AND (claimed_at IS NULL OR claimed_at < $3)
		RETURNING ` + enrollmentColumns

	var e model.Enrollment
	if err = r.db.GetContext(ctx, &e, query, id, now.UTC(), staleBefore.UTC()); err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

func (r *enrollmentRepository) Release(ctx context.Context, e *model.Enrollment) (err error) {
	defer r.observe("enrollment_release", time.Now(), &err)

	_, err = r.db.ExecContext(ctx, `
		UPDATE sequence_enrollments
		SET claimed_at = NULL, version = version + 1
		WHERE id = $1 AND version = $2
	`, e.ID, e.Version)
	return err
}
