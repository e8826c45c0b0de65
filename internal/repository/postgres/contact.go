package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/outreach-engine/internal/model"
	"github.com/jwalitptl/outreach-engine/internal/repository"
)

type contactRepository struct {
	BaseRepository
	activities repository.ActivityRepository
}

func NewContactRepository(base BaseRepository, activities repository.ActivityRepository) repository.ContactRepository {
	return &contactRepository{BaseRepository: base, activities: activities}
}

func (r *contactRepository) Get(ctx context.Context, id uuid.UUID) (_ *model.Contact, err error) {
	defer r.observe("contact_get", time.Now(), &err)

	query := `
		SELECT id, organization_id, email, first_name, last_name, company, title,
			status, engagement_score, unsubscribed_at, email_bounced, deleted_at
		FROM contacts
		WHERE id = $1 AND deleted_at IS NULL
	`
	var c model.Contact
	if err = r.db.GetContext(ctx, &c, query, id); err != nil {
		return nil, notFound(err)
	}

	c.RecentActivity, err = r.activities.ListRecent(ctx, id, repository.RecentActivityLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent activity: %w", err)
	}
	return &c, nil
}

func (r *contactRepository) MarkBounced(ctx context.Context, id uuid.UUID) (err error) {
	defer r.observe("contact_mark_bounced", time.Now(), &err)
	return r.exec(ctx, `UPDATE contacts SET email_bounced = TRUE, updated_at = NOW() WHERE id = $1`, id)
}

func (r *contactRepository) MarkUnsubscribed(ctx context.Context, id uuid.UUID, at time.Time) (err error) {
	defer r.observe("contact_mark_unsubscribed", time.Now(), &err)
	return r.exec(ctx, `
		UPDATE contacts
		SET unsubscribed_at = COALESCE(unsubscribed_at, $2), updated_at = NOW()
		WHERE id = $1
	`, id, at.UTC())
}

func (r *contactRepository) exec(ctx context.Context, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update contact: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return repository.ErrNotFound
	}
	return nil
}
