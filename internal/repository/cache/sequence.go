// Package cache decorates repositories with an in-process go-cache layer.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/outreach-engine/internal/model"
	"github.com/jwalitptl/outreach-engine/internal/repository"
)

// SequenceRepository serves executor reads (activeOnly false) from memory for
// up to ttl. Active-only lookups gate new enrollments and always reach the
// backing store, so deactivating a sequence takes effect at once. Only
// successful lookups are cached.
type SequenceRepository struct {
	next  repository.SequenceRepository
	cache *cache.Cache
}

var _ repository.SequenceRepository = (*SequenceRepository)(nil)

func NewSequenceRepository(next repository.SequenceRepository, ttl time.Duration) *SequenceRepository {
	return &SequenceRepository{
		next:  next,
		cache: cache.New(ttl, 2*ttl),
	}
}

func sequenceKey(id, organizationID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", id, organizationID)
}

func (r *SequenceRepository) Get(ctx context.Context, id, organizationID uuid.UUID, activeOnly bool) (*model.Sequence, error) {
	if activeOnly {
		return r.next.Get(ctx, id, organizationID, true)
	}

	key := sequenceKey(id, organizationID)
	if cached, ok := r.cache.Get(key); ok {
		return copySequence(cached.(*model.Sequence)), nil
	}

	seq, err := r.next.Get(ctx, id, organizationID, false)
	if err != nil {
		return nil, err
	}
	r.cache.SetDefault(key, copySequence(seq))
	return seq, nil
}

// Invalidate drops the cached copy of a sequence.
func (r *SequenceRepository) Invalidate(id, organizationID uuid.UUID) {
	r.cache.Delete(sequenceKey(id, organizationID))
}

func copySequence(seq *model.Sequence) *model.Sequence {
	out := *seq
	out.Steps = append([]model.Step(nil), seq.Steps...)
	return &out
}
