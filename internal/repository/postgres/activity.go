package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/outreach-engine/internal/model"
	"github.com/jwalitptl/outreach-engine/internal/repository"
)

const activityColumns = `id, contact_id, type, description, metadata, created_at`

type activityRepository struct {
	BaseRepository
}

func NewActivityRepository(base BaseRepository) repository.ActivityRepository {
	return &activityRepository{base}
}

func (r *activityRepository) Append(ctx context.Context, a *model.ContactActivity) (err error) {
	defer r.observe("activity_append", time.Now(), &err)

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.Metadata == nil {
		a.Metadata = model.JSONMap{}
	}

	query := `
		INSERT INTO contact_activities (` + activityColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = r.db.ExecContext(ctx, query,
		a.ID,
		a.ContactID,
		a.Type,
		a.Description,
		a.Metadata,
		a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append activity: %w", err)
	}
	return nil
}

func (r *activityRepository) FindLatest(ctx context.Context, contactID uuid.UUID, activityType model.ActivityType, after *time.Time) (_ *model.ContactActivity, err error) {
	defer r.observe("activity_find_latest", time.Now(), &err)

	query := `
		SELECT ` + activityColumns + `
		FROM contact_activities
		WHERE contact_id = $1 AND type = $2
		AND ($3::timestamptz IS NULL OR created_at > $3)
		ORDER BY created_at DESC
		LIMIT 1
	`
	var a model.ContactActivity
	if err = r.db.GetContext(ctx, &a, query, contactID, activityType, after); err != nil {
		if err = notFound(err); err == repository.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find latest activity: %w", err)
	}
	return &a, nil
}

func (r *activityRepository) ExistsForEmail(ctx context.Context, contactID uuid.UUID, activityType model.ActivityType, emailID string) (_ bool, err error) {
	defer r.observe("activity_exists_for_email", time.Now(), &err)

	query := `
		SELECT EXISTS (
			SELECT 1 FROM contact_activities
			WHERE contact_id = $1 AND type = $2 AND metadata->>'email_id' = $3
		)
	`
	var exists bool
	if err = r.db.GetContext(ctx, &exists, query, contactID, activityType, emailID); err != nil {
		return false, fmt.Errorf("failed to check activity: %w", err)
	}
	return exists, nil
}

func (r *activityRepository) FindByEmailID(ctx context.Context, activityType model.ActivityType, emailID string) (_ *model.ContactActivity, err error) {
	defer r.observe("activity_find_by_email", time.Now(), &err)

	query := `
		SELECT ` + activityColumns + `
		FROM contact_activities
		WHERE type = $1 AND metadata->>'email_id' = $2
		ORDER BY created_at ASC
		LIMIT 1
	`
	var a model.ContactActivity
	if err = r.db.GetContext(ctx, &a, query, activityType, emailID); err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (r *activityRepository) ListRecent(ctx context.Context, contactID uuid.UUID, limit int) (_ []model.ContactActivity, err error) {
	defer r.observe("activity_list_recent", time.Now(), &err)

	query := `
		SELECT ` + activityColumns + `
		FROM contact_activities
		WHERE contact_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	var activities []model.ContactActivity
	if err = r.db.SelectContext(ctx, &activities, query, contactID, limit); err != nil {
		return nil, fmt.Errorf("failed to list recent activity: %w", err)
	}
	return activities, nil
}
