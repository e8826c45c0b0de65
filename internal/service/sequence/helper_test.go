package sequence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/outreach-engine/internal/email"
	"github.com/jwalitptl/outreach-engine/internal/model"
	"github.com/jwalitptl/outreach-engine/internal/repository/memory"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// fakeDelivery records every send and logs EMAIL_SENT the way the SMTP
// channel does.
type fakeDelivery struct {
	mu    sync.Mutex
	store *memory.Store
	clock *testClock
	err   error
	sent  []email.SendRequest
	// onSend runs before the first send only, outside the lock.
	onSend func(email.SendRequest)
}

func (d *fakeDelivery) Send(ctx context.Context, req email.SendRequest) (*email.SendResult, error) {
	d.mu.Lock()
	hook := d.onSend
	d.onSend = nil
	d.mu.Unlock()
	if hook != nil {
		hook(req)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	d.sent = append(d.sent, req)
	emailID := uuid.NewString()
	err := d.store.Activities().Append(ctx, &model.ContactActivity{
		ContactID: req.ContactID,
		Type:      model.ActivityEmailSent,
		Metadata:  model.JSONMap{model.MetaEmailID: emailID},
		CreatedAt: d.clock.Now(),
	})
	if err != nil {
		return nil, err
	}
	return &email.SendResult{EmailID: emailID, SentAt: d.clock.Now()}, nil
}

func (d *fakeDelivery) Sent() []email.SendRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]email.SendRequest(nil), d.sent...)
}

func (d *fakeDelivery) OnSend(fn func(email.SendRequest)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onSend = fn
}

func (d *fakeDelivery) Fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

type fakeGenerator struct {
	raw     string
	err     error
	prompts []string
}

func (g *fakeGenerator) GenerateJSON(_ context.Context, _, user string) (string, error) {
	g.prompts = append(g.prompts, user)
	if g.err != nil {
		return "", g.err
	}
	return g.raw, nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []StatusChangedEvent
}

func (p *capturePublisher) Publish(_ context.Context, eventType string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if eventType != EventStatusChanged {
		return errors.New("unexpected event type")
	}
	p.events = append(p.events, payload.(StatusChangedEvent))
	return nil
}

type harness struct {
	t         *testing.T
	ctx       context.Context
	store     *memory.Store
	clock     *testClock
	delivery  *fakeDelivery
	generator *fakeGenerator
	publisher *capturePublisher
	engine    *Engine
	org       model.Organization
	template  model.EmailTemplate
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	clock := &testClock{now: t0}
	store := memory.NewStore()
	store.SetClock(clock.Now)

	h := &harness{
		t:         t,
		ctx:       context.Background(),
		store:     store,
		clock:     clock,
		delivery:  &fakeDelivery{store: store, clock: clock},
		generator: &fakeGenerator{},
		publisher: &capturePublisher{},
		org:       model.Organization{ID: uuid.New(), Name: "Acme"},
	}
	h.template = model.EmailTemplate{
		ID:             uuid.New(),
		OrganizationID: h.org.ID,
		Name:           "intro",
		Subject:        "Hi {{first_name}}",
		Body:           "Quick question for {{company}}",
	}
	store.PutOrganization(h.org)
	store.PutTemplate(h.template)

	h.engine = NewEngine(
		DependenciesFrom(store, h.generator, h.delivery),
		cfg,
		WithClock(clock.Now),
		WithPublisher(h.publisher),
	)
	return h
}

func (h *harness) contact(mutate ...func(*model.Contact)) model.Contact {
	c := model.Contact{
		ID:             uuid.New(),
		OrganizationID: h.org.ID,
		Email:          "ada@example.com",
		FirstName:      "Ada",
		LastName:       "Lovelace",
		Company:        "Analytical Engines",
		Title:          "CTO",
	}
	for _, m := range mutate {
		m(&c)
	}
	h.store.PutContact(c)
	return c
}

func (h *harness) templateStep(order, delayDays int, cond model.Condition) model.Step {
	return model.Step{
		ID:        uuid.New(),
		StepOrder: order,
		DelayDays: delayDays,
		Condition: cond,
		Content:   model.TemplateContent{TemplateID: h.template.ID},
	}
}

func (h *harness) sequence(steps ...model.Step) model.Sequence {
	seq := model.Sequence{
		ID:             uuid.New(),
		OrganizationID: h.org.ID,
		CreatedByID:    uuid.New(),
		Name:           "Cold outreach",
		IsActive:       true,
		Steps:          steps,
	}
	for i := range seq.Steps {
		seq.Steps[i].SequenceID = seq.ID
	}
	h.store.PutSequence(seq)
	return seq
}

func (h *harness) enroll(contact model.Contact, seq model.Sequence) uuid.UUID {
	h.t.Helper()
	res, err := h.engine.Enroll(h.ctx, contact.ID, seq.ID, h.org.ID)
	require.NoError(h.t, err)
	return res.EnrollmentID
}

func (h *harness) enrollment(id uuid.UUID) *model.Enrollment {
	h.t.Helper()
	e, err := h.store.Enrollments().Get(h.ctx, id)
	require.NoError(h.t, err)
	return e
}

func (h *harness) execute(id uuid.UUID) model.StepResult {
	h.t.Helper()
	res, err := h.engine.ExecuteStep(h.ctx, id)
	require.NoError(h.t, err)
	return res
}

func (h *harness) record(contactID uuid.UUID, typ model.ActivityType, meta model.JSONMap) {
	h.t.Helper()
	require.NoError(h.t, h.store.Activities().Append(h.ctx, &model.ContactActivity{
		ContactID: contactID,
		Type:      typ,
		Metadata:  meta,
		CreatedAt: h.clock.Now(),
	}))
}

// requireScheduleInvariant checks that NextStepAt is set exactly when the
// enrollment is ACTIVE.
func (h *harness) requireScheduleInvariant() {
	h.t.Helper()
	for _, e := range h.store.AllEnrollments() {
		require.Equal(h.t, e.Status == model.EnrollmentActive, e.NextStepAt != nil,
			"enrollment %s status %s next_step_at %v", e.ID, e.Status, e.NextStepAt)
	}
}
