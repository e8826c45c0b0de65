package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/outreach-engine/internal/model"
	"github.com/jwalitptl/outreach-engine/internal/repository"
)

func activeEnrollment(contactID uuid.UUID, due time.Time) *model.Enrollment {
	e := &model.Enrollment{ContactID: contactID, SequenceID: uuid.New()}
	e.Reset(due)
	return e
}

func TestClaimDueOrdersAndBounds(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	repo := store.Enrollments()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	var ids []uuid.UUID
	for i := 5; i > 0; i-- {
		e := activeEnrollment(uuid.New(), now.Add(-time.Duration(i)*time.Hour))
		require.NoError(t, repo.Upsert(ctx, e))
		ids = append(ids, e.ID)
	}
	future := activeEnrollment(uuid.New(), now.Add(time.Hour))
	require.NoError(t, repo.Upsert(ctx, future))

	claimed, err := repo.ClaimDue(ctx, now, 2, now.Add(-10*time.Minute))
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, ids[0], claimed[0].ID)
	assert.Equal(t, ids[1], claimed[1].ID)
	assert.NotNil(t, claimed[0].ClaimedAt)

	// Live claims are not handed out twice.
	again, err := repo.ClaimDue(ctx, now, 10, now.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.Len(t, again, 3)

	// Stale claims are.
	later := now.Add(time.Hour)
	stale, err := repo.ClaimDue(ctx, later, 10, later.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.Len(t, stale, 6)
}

func TestUpdateReleasesClaim(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Enrollments()
	now := time.Now().UTC()

	e := activeEnrollment(uuid.New(), now)
	require.NoError(t, repo.Upsert(ctx, e))

	claimed, err := repo.Claim(ctx, e.ID, now, now.Add(-time.Minute))
	require.NoError(t, err)

	_, err = repo.Claim(ctx, e.ID, now, now.Add(-time.Minute))
	assert.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, repo.Update(ctx, claimed))
	got, err := repo.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ClaimedAt)
}

func TestUpdateClaimedLosesToLaterWrites(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Enrollments()
	now := time.Now().UTC()

	e := activeEnrollment(uuid.New(), now)
	require.NoError(t, repo.Upsert(ctx, e))

	claimed, err := repo.Claim(ctx, e.ID, now, now.Add(-time.Minute))
	require.NoError(t, err)

	cancelled, err := repo.Get(ctx, e.ID)
	require.NoError(t, err)
	cancelled.Cancel("manual")
	require.NoError(t, repo.Update(ctx, cancelled))

	claimed.CurrentStep = 1
	assert.ErrorIs(t, repo.UpdateClaimed(ctx, claimed), repository.ErrClaimLost)
	require.NoError(t, repo.Release(ctx, claimed))

	got, err := repo.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EnrollmentCancelled, got.Status)
	assert.Equal(t, 0, got.CurrentStep)
	assert.Nil(t, got.ClaimedAt)
}

func TestStaleClaimCannotReleaseTakeover(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Enrollments()
	now := time.Now().UTC()

	e := activeEnrollment(uuid.New(), now)
	require.NoError(t, repo.Upsert(ctx, e))

	first, err := repo.Claim(ctx, e.ID, now, now.Add(-time.Minute))
	require.NoError(t, err)
	// Same timestamp, so only the version tells the two claims apart.
	second, err := repo.Claim(ctx, e.ID, now, now.Add(time.Minute))
	require.NoError(t, err)

	require.NoError(t, repo.Release(ctx, first))
	_, err = repo.Claim(ctx, e.ID, now, now.Add(-time.Minute))
	assert.ErrorIs(t, err, repository.ErrNotFound, "second claim is still held")

	assert.ErrorIs(t, repo.UpdateClaimed(ctx, first), repository.ErrClaimLost)
	require.NoError(t, repo.UpdateClaimed(ctx, second))
}

func TestUpsertKeepsOneRowPerContactAndSequence(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	repo := store.Enrollments()
	now := time.Now().UTC()

	first := activeEnrollment(uuid.New(), now)
	require.NoError(t, repo.Upsert(ctx, first))

	second := &model.Enrollment{ContactID: first.ContactID, SequenceID: first.SequenceID}
	second.Reset(now.Add(time.Hour))
	require.NoError(t, repo.Upsert(ctx, second))

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, store.AllEnrollments(), 1)
}

func TestActivityQueries(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	repo := store.Activities()
	contactID := uuid.New()
	t0 := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	for i, typ := range []model.ActivityType{model.ActivityEmailSent, model.ActivityEmailOpened, model.ActivityEmailSent} {
		require.NoError(t, repo.Append(ctx, &model.ContactActivity{
			ContactID: contactID,
			Type:      typ,
			Metadata:  model.JSONMap{model.MetaEmailID: uuid.NewString()},
			CreatedAt: t0.Add(time.Duration(i) * time.Hour),
		}))
	}

	latest, err := repo.FindLatest(ctx, contactID, model.ActivityEmailSent, nil)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, t0.Add(2*time.Hour), latest.CreatedAt)

	after := t0.Add(2 * time.Hour)
	none, err := repo.FindLatest(ctx, contactID, model.ActivityEmailSent, &after)
	require.NoError(t, err)
	assert.Nil(t, none)

	ok, err := repo.ExistsForEmail(ctx, contactID, model.ActivityEmailSent, latest.EmailID())
	require.NoError(t, err)
	assert.True(t, ok)

	found, err := repo.FindByEmailID(ctx, model.ActivityEmailSent, latest.EmailID())
	require.NoError(t, err)
	assert.Equal(t, latest.ID, found.ID)

	_, err = repo.FindByEmailID(ctx, model.ActivityEmailSent, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestContactGetCarriesRecentActivity(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	contact := model.Contact{ID: uuid.New(), Email: "ada@example.com"}
	store.PutContact(contact)
	t0 := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 7; i++ {
		require.NoError(t, store.Activities().Append(ctx, &model.ContactActivity{
			ContactID: contact.ID,
			Type:      model.ActivityEmailOpened,
			CreatedAt: t0.Add(time.Duration(i) * time.Minute),
		}))
	}

	got, err := store.Contacts().Get(ctx, contact.ID)
	require.NoError(t, err)
	require.Len(t, got.RecentActivity, repository.RecentActivityLimit)
	assert.Equal(t, t0.Add(6*time.Minute), got.RecentActivity[0].CreatedAt)

	now := time.Now()
	contact.DeletedAt = &now
	store.PutContact(contact)
	_, err = store.Contacts().Get(ctx, contact.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
