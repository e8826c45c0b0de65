// Package memory keeps every store the engine needs in process memory. It backs
// the "memory" store driver and the engine's tests.
package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/outreach-engine/internal/model"
	"github.com/jwalitptl/outreach-engine/internal/repository"
)

// Store is the in-memory repository.Store.
type Store struct {
	mu            sync.RWMutex
	organizations map[uuid.UUID]model.Organization
	contacts      map[uuid.UUID]model.Contact
	templates     map[uuid.UUID]model.EmailTemplate
	sequences     map[uuid.UUID]model.Sequence
	enrollments   map[uuid.UUID]model.Enrollment
	activities    []model.ContactActivity
	now           func() time.Time
}

var _ repository.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		organizations: make(map[uuid.UUID]model.Organization),
		contacts:      make(map[uuid.UUID]model.Contact),
		templates:     make(map[uuid.UUID]model.EmailTemplate),
		sequences:     make(map[uuid.UUID]model.Sequence),
		enrollments:   make(map[uuid.UUID]model.Enrollment),
		now:           time.Now,
	}
}

// SetClock sets the clock used to stamp records that arrive without a time.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) PutOrganization(org model.Organization) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.organizations[org.ID] = org
}

func (s *Store) PutContact(c model.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.RecentActivity = nil
	s.contacts[c.ID] = c
}

func (s *Store) DeleteContact(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contacts, id)
}

func (s *Store) PutTemplate(t model.EmailTemplate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[t.ID] = t
}

func (s *Store) PutSequence(seq model.Sequence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	steps := append([]model.Step(nil), seq.Steps...)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].StepOrder < steps[j].StepOrder })
	seq.Steps = steps
	s.sequences[seq.ID] = seq
}

func (s *Store) DeleteSequence(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sequences, id)
}

// AllEnrollments returns copies of every stored enrollment.
func (s *Store) AllEnrollments() []model.Enrollment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Enrollment, 0, len(s.enrollments))
	for _, e := range s.enrollments {
		out = append(out, e)
	}
	return out
}

// ActivitiesFor returns the activity log for a contact, oldest first.
func (s *Store) ActivitiesFor(contactID uuid.UUID) []model.ContactActivity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.ContactActivity
	for _, a := range s.activities {
		if a.ContactID == contactID {
			out = append(out, a)
		}
	}
	return out
}

func (s *Store) Sequences() repository.SequenceRepository         { return sequenceRepository{s} }
func (s *Store) Enrollments() repository.EnrollmentRepository     { return enrollmentRepository{s} }
func (s *Store) Contacts() repository.ContactRepository           { return contactRepository{s} }
func (s *Store) Activities() repository.ActivityRepository        { return activityRepository{s} }
func (s *Store) Templates() repository.TemplateRepository         { return templateRepository{s} }
func (s *Store) Organizations() repository.OrganizationRepository { return organizationRepository{s} }

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneEnrollment(e model.Enrollment) *model.Enrollment {
	e.NextStepAt = copyTime(e.NextStepAt)
	e.PausedReason = copyString(e.PausedReason)
	e.LastError = copyString(e.LastError)
	e.ClaimedAt = copyTime(e.ClaimedAt)
	e.CompletedAt = copyTime(e.CompletedAt)
	return &e
}

func cloneActivity(a model.ContactActivity) model.ContactActivity {
	if a.Metadata != nil {
		meta := make(model.JSONMap, len(a.Metadata))
		for k, v := range a.Metadata {
			meta[k] = v
		}
		a.Metadata = meta
	}
	return a
}
