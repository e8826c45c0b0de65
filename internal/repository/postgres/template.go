package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/outreach-engine/internal/model"
	"github.com/jwalitptl/outreach-engine/internal/repository"
)

type templateRepository struct {
	BaseRepository
}

func NewTemplateRepository(base BaseRepository) repository.TemplateRepository {
	return &templateRepository{base}
}

func (r *templateRepository) Get(ctx context.Context, id, organizationID uuid.UUID) (_ *model.EmailTemplate, err error) {
	defer r.observe("template_get", time.Now(), &err)

	query := `
		SELECT id, organization_id, name, subject, body, created_at
		FROM email_templates
		WHERE id = $1 AND organization_id = $2
	`
	var t model.EmailTemplate
	if err = r.db.GetContext(ctx, &t, query, id, organizationID); err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}
