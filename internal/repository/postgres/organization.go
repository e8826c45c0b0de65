package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/outreach-engine/internal/model"
	"github.com/jwalitptl/outreach-engine/internal/repository"
)

type organizationRepository struct {
	BaseRepository
}

func NewOrganizationRepository(base BaseRepository) repository.OrganizationRepository {
	return &organizationRepository{base}
}

func (r *organizationRepository) Get(ctx context.Context, id uuid.UUID) (_ *model.Organization, err error) {
	defer r.observe("organization_get", time.Now(), &err)

	var org model.Organization
	if err = r.db.GetContext(ctx, &org, `SELECT id, name FROM organizations WHERE id = $1`, id); err != nil {
		return nil, notFound(err)
	}
	return &org, nil
}
