package sequence

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/outreach-engine/internal/model"
	"github.com/jwalitptl/outreach-engine/internal/repository"
	apperrors "github.com/jwalitptl/outreach-engine/pkg/errors"
)

// Evaluator decides whether a step's message should be sent, based on the
// contact's engagement with the most recent email they were sent.
type Evaluator struct {
	activities repository.ActivityRepository
}

func NewEvaluator(activities repository.ActivityRepository) *Evaluator {
	return &Evaluator{activities: activities}
}

// ShouldExecute reports whether a step gated by cond should send. Every
// condition passes while the contact has never been emailed.
func (e *Evaluator) ShouldExecute(ctx context.Context, cond model.Condition, contactID uuid.UUID) (bool, error) {
	if cond == model.ConditionAlways {
		return true, nil
	}
	switch cond {
	case model.ConditionIfNoReply, model.ConditionIfNotOpened, model.ConditionIfNotClicked:
	default:
		return false, apperrors.Wrap(apperrors.ErrInvalidCondition, fmt.Errorf("%q", cond))
	}

	sent, err := e.activities.FindLatest(ctx, contactID, model.ActivityEmailSent, nil)
	if err != nil {
		return false, fmt.Errorf("failed to find last sent email: %w", err)
	}
	if sent == nil {
		return true, nil
	}

	switch cond {
	case model.ConditionIfNoReply:
		return e.noneAfter(ctx, contactID, model.ActivityEmailReplied, sent)
	case model.ConditionIfNotClicked:
		return e.noneAfter(ctx, contactID, model.ActivityLinkClicked, sent)
	default:
		emailID := sent.EmailID()
		if emailID == "" {
			return true, nil
		}
		opened, err := e.activities.ExistsForEmail(ctx, contactID, model.ActivityEmailOpened, emailID)
		if err != nil {
			return false, fmt.Errorf("failed to check opens: %w", err)
		}
		return !opened, nil
	}
}

func (e *Evaluator) noneAfter(ctx context.Context, contactID uuid.UUID, activityType model.ActivityType, sent *model.ContactActivity) (bool, error) {
	after := sent.CreatedAt
	found, err := e.activities.FindLatest(ctx, contactID, activityType, &after)
	if err != nil {
		return false, fmt.Errorf("failed to find %s: %w", activityType, err)
	}
	return found == nil, nil
}
