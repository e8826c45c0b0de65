package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/outreach-engine/internal/model"
	"github.com/jwalitptl/outreach-engine/internal/repository"
)

type sequenceRepository struct {
	BaseRepository
}

func NewSequenceRepository(base BaseRepository) repository.SequenceRepository {
	return &sequenceRepository{base}
}

type sequenceRow struct {
	ID             uuid.UUID `db:"id"`
	OrganizationID uuid.UUID `db:"organization_id"`
	CreatedByID    uuid.UUID `db:"created_by_id"`
	Name           string    `db:"name"`
	IsActive       bool      `db:"is_active"`
	TrackOpens     bool      `db:"track_opens"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

type stepRow struct {
	ID         uuid.UUID  `db:"id"`
	SequenceID uuid.UUID  `db:"sequence_id"`
	StepOrder  int        `db:"step_order"`
	DelayDays  int        `db:"delay_days"`
	Condition  string     `db:"condition"`
	TemplateID *uuid.UUID `db:"template_id"`
	AIPrompt   *string    `db:"ai_prompt"`
}

func (s stepRow) toModel() (model.Step, error) {
	cond, err := model.ParseCondition(s.Condition)
	if err != nil {
		return model.Step{}, fmt.Errorf("step %d: %w", s.StepOrder, err)
	}
	content, err := model.NewContentSource(s.TemplateID, s.AIPrompt)
	if err != nil {
		return model.Step{}, fmt.Errorf("step %d: %w", s.StepOrder, err)
	}
	return model.Step{
		ID:         s.ID,
		SequenceID: s.SequenceID,
		StepOrder:  s.StepOrder,
		DelayDays:  s.DelayDays,
		Condition:  cond,
		Content:    content,
	}, nil
}

// Get loads a sequence and its steps. A stored step with an unknown condition
// or a bad content source makes the whole sequence unloadable.
func (r *sequenceRepository) Get(ctx context.Context, id, organizationID uuid.UUID, activeOnly bool) (_ *model.Sequence, err error) {
	defer r.observe("sequence_get", time.Now(), &err)

	query := `
		SELECT id, organization_id, created_by_id, name, is_active, track_opens, created_at, updated_at
		FROM sequences
		WHERE id = $1 AND organization_id = $2 AND (is_active OR NOT $3)
	`
	var row sequenceRow
	if err = r.db.GetContext(ctx, &row, query, id, organizationID, activeOnly); err != nil {
		return nil, notFound(err)
	}

	var steps []stepRow
	err = r.db.SelectContext(ctx, &steps, `
		SELECT id, sequence_id, step_order, delay_days, condition, template_id, ai_prompt
		FROM sequence_steps
		WHERE sequence_id = $1
		ORDER BY step_order ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load sequence steps: %w", err)
	}

	seq := &model.Sequence{
		ID:             row.ID,
		OrganizationID: row.OrganizationID,
		CreatedByID:    row.CreatedByID,
		Name:           row.Name,
		IsActive:       row.IsActive,
		TrackOpens:     row.TrackOpens,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
		Steps:          make([]model.Step, 0, len(steps)),
	}
	for _, s := range steps {
		step, err := s.toModel()
		if err != nil {
			return nil, err
		}
		seq.Steps = append(seq.Steps, step)
	}
	return seq, nil
}
