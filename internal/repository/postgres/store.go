package postgres

import (
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/outreach-engine/internal/repository"
	"github.com/jwalitptl/outreach-engine/pkg/metrics"
)

// Store is the postgres-backed repository.Store.
type Store struct {
	sequences     repository.SequenceRepository
	enrollments   repository.EnrollmentRepository
	contacts      repository.ContactRepository
	activities    repository.ActivityRepository
	templates     repository.TemplateRepository
	organizations repository.OrganizationRepository
}

var _ repository.Store = (*Store)(nil)

func NewStore(db *sqlx.DB, m *metrics.Metrics) *Store {
	base := NewBaseRepository(db, m)
	activities := NewActivityRepository(base)
	return &Store{
		sequences:     NewSequenceRepository(base),
		enrollments:   NewEnrollmentRepository(base),
		contacts:      NewContactRepository(base, activities),
		activities:    activities,
		templates:     NewTemplateRepository(base),
		organizations: NewOrganizationRepository(base),
	}
}

func (s *Store) Sequences() repository.SequenceRepository         { return s.sequences }
func (s *Store) Enrollments() repository.EnrollmentRepository     { return s.enrollments }
func (s *Store) Contacts() repository.ContactRepository           { return s.contacts }
func (s *Store) Activities() repository.ActivityRepository        { return s.activities }
func (s *Store) Templates() repository.TemplateRepository         { return s.templates }
func (s *Store) Organizations() repository.OrganizationRepository { return s.organizations }
