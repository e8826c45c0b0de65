package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/outreach-engine/internal/model"
	"github.com/jwalitptl/outreach-engine/internal/repository"
)

type sequenceRepository struct{ s *Store }

func (r sequenceRepository) Get(_ context.Context, id, organizationID uuid.UUID, activeOnly bool) (*model.Sequence, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	seq, ok := r.s.sequences[id]
	if !ok || seq.OrganizationID != organizationID || (activeOnly && !seq.IsActive) {
		return nil, repository.ErrNotFound
	}
	seq.Steps = append([]model.Step(nil), seq.Steps...)
	return &seq, nil
}

type enrollmentRepository struct{ s *Store }

func (r enrollmentRepository) Upsert(_ context.Context, e *model.Enrollment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.now().UTC()
	for id, existing := range r.s.enrollments {
		if existing.ContactID == e.ContactID && existing.SequenceID == e.SequenceID {
			e.ID = id
			e.CreatedAt = existing.CreatedAt
			e.UpdatedAt = now
			e.ClaimedAt = nil
			e.Version = existing.Version + 1
			r.s.enrollments[id] = *cloneEnrollment(*e)
			return nil
		}
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt = now
	e.UpdatedAt = now
	e.ClaimedAt = nil
	e.Version = 0
	r.s.enrollments[e.ID] = *cloneEnrollment(*e)
	return nil
}

func (r enrollmentRepository) Get(_ context.Context, id uuid.UUID) (*model.Enrollment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	e, ok := r.s.enrollments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneEnrollment(e), nil
}

func (r enrollmentRepository) GetActive(_ context.Context, contactID, sequenceID uuid.UUID) (*model.Enrollment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, e := range r.s.enrollments {
		if e.ContactID == contactID && e.SequenceID == sequenceID && e.Status == model.EnrollmentActive {
			return cloneEnrollment(e), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r enrollmentRepository) ListActiveByContact(_ context.Context, contactID uuid.UUID) ([]*model.Enrollment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*model.Enrollment
	for _, e := range r.s.enrollments {
		if e.ContactID == contactID && e.Status == model.EnrollmentActive {
			out = append(out, cloneEnrollment(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r enrollmentRepository) Update(_ context.Context, e *model.Enrollment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.enrollments[e.ID]
	if !ok {
		return repository.ErrNotFound
	}
	r.write(e, stored.Version)
	return nil
}

func (r enrollmentRepository) UpdateClaimed(_ context.Context, e *model.Enrollment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.enrollments[e.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if stored.Version != e.Version {
		return repository.ErrClaimLost
	}
	r.write(e, stored.Version)
	return nil
}

// write stores e as the next version after current. The caller holds the lock.
func (r enrollmentRepository) write(e *model.Enrollment, current int64) {
	e.UpdatedAt = r.s.now().UTC()
	e.ClaimedAt = nil
	e.Version = current + 1
	r.s.enrollments[e.ID] = *cloneEnrollment(*e)
}

func claimable(e model.Enrollment, staleBefore time.Time) bool {
	return e.ClaimedAt == nil || e.ClaimedAt.Before(staleBefore)
}

func (r enrollmentRepository) ClaimDue(_ context.Context, now time.Time, limit int, staleBefore time.Time) ([]*model.Enrollment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var due []model.Enrollment
	for _, e := range r.s.enrollments {
		if e.Status != model.EnrollmentActive || e.NextStepAt == nil || e.NextStepAt.After(now) {
			continue
		}
		if !claimable(e, staleBefore) {
			continue
		}
		due = append(due, e)
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].NextStepAt.Before(*due[j].NextStepAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimedAt := now.UTC()
	out := make([]*model.Enrollment, 0, len(due))
	for _, e := range due {
		e.ClaimedAt = &claimedAt
		e.Version++
		r.s.enrollments[e.ID] = *cloneEnrollment(e)
		out = append(out, cloneEnrollment(e))
	}
	return out, nil
}

func (r enrollmentRepository) Claim(_ context.Context, id uuid.UUID, now, staleBefore time.Time) (*model.Enrollment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.enrollments[id]
	if !ok || !claimable(e, staleBefore) {
		return nil, repository.ErrNotFound
	}
	claimedAt := now.UTC()
	e.ClaimedAt = &claimedAt
	e.Version++
	r.s.enrollments[id] = *cloneEnrollment(e)
	return cloneEnrollment(e), nil
}

func (r enrollmentRepository) Release(_ context.Context, e *model.Enrollment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.enrollments[e.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if stored.Version != e.Version {
		return nil
	}
	stored.ClaimedAt = nil
	stored.Version++
	r.s.enrollments[e.ID] = stored
	return nil
}

type contactRepository struct{ s *Store }

func (r contactRepository) Get(ctx context.Context, id uuid.UUID) (*model.Contact, error) {
	r.s.mu.RLock()
	c, ok := r.s.contacts[id]
	r.s.mu.RUnlock()
	if !ok || c.DeletedAt != nil {
		return nil, repository.ErrNotFound
	}
	recent, err := activityRepository(r).ListRecent(ctx, id, repository.RecentActivityLimit)
	if err != nil {
		return nil, err
	}
	c.RecentActivity = recent
	return &c, nil
}

func (r contactRepository) MarkBounced(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.contacts[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.EmailBounced = true
	r.s.contacts[id] = c
	return nil
}

func (r contactRepository) MarkUnsubscribed(_ context.Context, id uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.contacts[id]
	if !ok {
		return repository.ErrNotFound
	}
	if c.UnsubscribedAt == nil {
		at = at.UTC()
		c.UnsubscribedAt = &at
	}
	r.s.contacts[id] = c
	return nil
}

type activityRepository struct{ s *Store }

func (r activityRepository) Append(_ context.Context, a *model.ContactActivity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.s.now().UTC()
	}
	if a.Metadata == nil {
		a.Metadata = model.JSONMap{}
	}
	r.s.activities = append(r.s.activities, cloneActivity(*a))
	return nil
}

func (r activityRepository) FindLatest(_ context.Context, contactID uuid.UUID, activityType model.ActivityType, after *time.Time) (*model.ContactActivity, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var latest *model.ContactActivity
	for _, a := range r.s.activities {
		if a.ContactID != contactID || a.Type != activityType {
			continue
		}
		if after != nil && !a.CreatedAt.After(*after) {
			continue
		}
		if latest == nil || !a.CreatedAt.Before(latest.CreatedAt) {
			found := cloneActivity(a)
			latest = &found
		}
	}
	return latest, nil
}

func (r activityRepository) ExistsForEmail(_ context.Context, contactID uuid.UUID, activityType model.ActivityType, emailID string) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, a := range r.s.activities {
		if a.ContactID == contactID && a.Type == activityType && a.EmailID() == emailID {
			return true, nil
		}
	}
	return false, nil
}

func (r activityRepository) FindByEmailID(_ context.Context, activityType model.ActivityType, emailID string) (*model.ContactActivity, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, a := range r.s.activities {
		if a.Type == activityType && a.EmailID() == emailID {
			found := cloneActivity(a)
			return &found, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r activityRepository) ListRecent(_ context.Context, contactID uuid.UUID, limit int) ([]model.ContactActivity, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []model.ContactActivity
	for i := len(r.s.activities) - 1; i >= 0; i-- {
		if a := r.s.activities[i]; a.ContactID == contactID {
			out = append(out, cloneActivity(a))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type templateRepository struct{ s *Store }

func (r templateRepository) Get(_ context.Context, id, organizationID uuid.UUID) (*model.EmailTemplate, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	t, ok := r.s.templates[id]
	if !ok || t.OrganizationID != organizationID {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}

type organizationRepository struct{ s *Store }

func (r organizationRepository) Get(_ context.Context, id uuid.UUID) (*model.Organization, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	org, ok := r.s.organizations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &org, nil
}
