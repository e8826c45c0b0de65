package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/outreach-engine/internal/email"
	"github.com/jwalitptl/outreach-engine/internal/handler/health"
	"github.com/jwalitptl/outreach-engine/internal/handler/prometheus"
	sequencehandler "github.com/jwalitptl/outreach-engine/internal/handler/sequence"
	trackinghandler "github.com/jwalitptl/outreach-engine/internal/handler/tracking"
	"github.com/jwalitptl/outreach-engine/internal/model"
	"github.com/jwalitptl/outreach-engine/internal/repository/memory"
	"github.com/jwalitptl/outreach-engine/internal/service/engagement"
	"github.com/jwalitptl/outreach-engine/internal/service/sequence"
	"github.com/jwalitptl/outreach-engine/pkg/errreport"
	"github.com/jwalitptl/outreach-engine/pkg/logger"
)

const cronSecret = "tick-secret"

type storeDelivery struct {
	store *memory.Store
}

func (d storeDelivery) Send(ctx context.Context, req email.SendRequest) (*email.SendResult, error) {
	emailID := uuid.NewString()
	err := d.store.Activities().Append(ctx, &model.ContactActivity{
		ContactID: req.ContactID,
		Type:      model.ActivityEmailSent,
		Metadata:  model.JSONMap{model.MetaEmailID: emailID},
	})
	return &email.SendResult{EmailID: emailID, SentAt: time.Now()}, err
}

// APIResponse mirrors handler.Response with raw data.
type APIResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type fixture struct {
	store    *memory.Store
	router   *Router
	org      uuid.UUID
	contact  model.Contact
	sequence model.Sequence
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	f := &fixture{store: store, org: uuid.New()}

	tpl := model.EmailTemplate{ID: uuid.New(), OrganizationID: f.org, Subject: "Hello", Body: "<p>Hi</p>"}
	store.PutTemplate(tpl)
	f.contact = model.Contact{ID: uuid.New(), OrganizationID: f.org, Email: "lin@example.com", FirstName: "Lin"}
	store.PutContact(f.contact)
	f.sequence = model.Sequence{
		ID:             uuid.New(),
		OrganizationID: f.org,
		IsActive:       true,
		Steps: []model.Step{
			{ID: uuid.New(), StepOrder: 0, Condition: model.ConditionAlways, Content: model.TemplateContent{TemplateID: tpl.ID}},
			{ID: uuid.New(), StepOrder: 1, DelayDays: 2, Condition: model.ConditionIfNoReply, Content: model.TemplateContent{TemplateID: tpl.ID}},
		},
	}
	store.PutSequence(f.sequence)

	log := logger.Nop()
	engine := sequence.NewEngine(
		sequence.DependenciesFrom(store, nil, storeDelivery{store: store}),
		sequence.DefaultConfig(),
		sequence.WithLogger(log),
	)
	engagementSvc := engagement.NewService(store.Contacts(), store.Activities(), engine, log)

	reg := prom.NewRegistry()
	f.router = NewRouter(
		log,
		errreport.Nop{},
		prometheus.New("outreach", reg, reg),
		health.NewHandler(nil),
		sequencehandler.NewHandler(engine),
		trackinghandler.NewHandler(engagementSvc, log),
		RouterConfig{CronSecret: cronSecret, PublicRate: 100, PublicBurst: 100},
	)
	f.router.Setup()
	return f
}

func (f *fixture) do(method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.Engine().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, data interface{}) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	if data != nil && len(resp.Data) > 0 {
		require.NoError(t, json.Unmarshal(resp.Data, data))
	}
	return resp
}

func TestEnrollmentFlow(t *testing.T) {
	f := newFixture(t)

	// Enroll
	rec := f.do(http.MethodPost, "/api/v1/enrollments", map[string]string{
		"contact_id":      f.contact.ID.String(),
		"sequence_id":     f.sequence.ID.String(),
		"organization_id": f.org.String(),
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var enrolled model.EnrollResult
	assert.Equal(t, "success", decode(t, rec, &enrolled).Status)
	require.NotEqual(t, uuid.Nil, enrolled.EnrollmentID)

	// Execute the first step
	rec = f.do(http.MethodPost, fmt.Sprintf("/api/v1/enrollments/%s/execute", enrolled.EnrollmentID), nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var step model.StepResult
	decode(t, rec, &step)
	assert.Equal(t, model.StepSent, step.Status)

	// Pause
	rec = f.do(http.MethodPost, fmt.Sprintf("/api/v1/enrollments/%s/pause", enrolled.EnrollmentID), map[string]string{"reason": "meeting booked"}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var paused model.Enrollment
	decode(t, rec, &paused)
	assert.Equal(t, model.EnrollmentPaused, paused.Status)
	assert.Equal(t, "meeting booked", *paused.PausedReason)

	// Resume
	rec = f.do(http.MethodPost, fmt.Sprintf("/api/v1/enrollments/%s/resume", enrolled.EnrollmentID), nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Resuming twice conflicts
	rec = f.do(http.MethodPost, fmt.Sprintf("/api/v1/enrollments/%s/resume", enrolled.EnrollmentID), nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Unenroll
	rec = f.do(http.MethodDelete, "/api/v1/enrollments", map[string]string{
		"contact_id":  f.contact.ID.String(),
		"sequence_id": f.sequence.ID.String(),
		"reason":      "manual",
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	e, err := f.store.Enrollments().Get(context.Background(), enrolled.EnrollmentID)
	require.NoError(t, err)
	assert.Equal(t, model.EnrollmentCancelled, e.Status)
}

func TestEnrollValidationAndErrors(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/enrollments", map[string]string{"contact_id": "nope"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "error", decode(t, rec, nil).Status)

	rec = f.do(http.MethodPost, "/api/v1/enrollments", map[string]string{
		"contact_id":      f.contact.ID.String(),
		"sequence_id":     uuid.NewString(),
		"organization_id": f.org.String(),
	}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "sequence not found", decode(t, rec, nil).Message)

	rec = f.do(http.MethodPost, fmt.Sprintf("/api/v1/enrollments/%s/execute", uuid.New()), nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/enrollments/not-a-uuid/pause", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCronTriggerRequiresSecret(t *testing.T) {
	f := newFixture(t)
	_, err := sequenceEnroll(f)
	require.NoError(t, err)

	rec := f.do(http.MethodPost, "/api/v1/cron/sequences", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/cron/sequences", nil, "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/cron/sequences?batch_size=0", nil, cronSecret)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/cron/sequences?batch_size=10", nil, cronSecret)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var batch model.BatchResult
	decode(t, rec, &batch)
	assert.Equal(t, 1, batch.Processed)
	assert.Equal(t, 1, batch.Sent)
}

func sequenceEnroll(f *fixture) (uuid.UUID, error) {
	rec := f.do(http.MethodPost, "/api/v1/enrollments", map[string]string{
		"contact_id":      f.contact.ID.String(),
		"sequence_id":     f.sequence.ID.String(),
		"organization_id": f.org.String(),
	}, "")
	if rec.Code != http.StatusCreated {
		return uuid.Nil, fmt.Errorf("enroll: %d %s", rec.Code, rec.Body.String())
	}
	var resp APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		return uuid.Nil, err
	}
	var res model.EnrollResult
	if err := json.Unmarshal(resp.Data, &res); err != nil {
		return uuid.Nil, err
	}
	return res.EnrollmentID, nil
}

func lastSentEmailID(f *fixture) string {
	id := ""
	for _, a := range f.store.ActivitiesFor(f.contact.ID) {
		if a.Type == model.ActivityEmailSent {
			id = a.EmailID()
		}
	}
	return id
}

func TestTrackingEndpoints(t *testing.T) {
	f := newFixture(t)
	_, err := sequenceEnroll(f)
	require.NoError(t, err)
	rec := f.do(http.MethodPost, "/api/v1/cron/sequences", nil, cronSecret)
	require.Equal(t, http.StatusOK, rec.Code)
	emailID := lastSentEmailID(f)
	require.NotEmpty(t, emailID)

	// Open pixel
	rec = f.do(http.MethodGet, fmt.Sprintf("/t/o/%s/%s", f.contact.ID, emailID), nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/gif", rec.Header().Get("Content-Type"))

	// Unknown emails still get a pixel
	rec = f.do(http.MethodGet, fmt.Sprintf("/t/o/%s/%s", f.contact.ID, uuid.New()), nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// Click redirect
	rec = f.do(http.MethodGet, fmt.Sprintf("/t/c/%s/%s?url=%s", f.contact.ID, emailID, "https%3A%2F%2Fexample.com%2Fdemo"), nil, "")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://example.com/demo", rec.Header().Get("Location"))

	rec = f.do(http.MethodGet, fmt.Sprintf("/t/c/%s/%s?url=%s", f.contact.ID, emailID, "javascript%3Aalert(1)"), nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var opens, clicks int
	for _, a := range f.store.ActivitiesFor(f.contact.ID) {
		switch a.Type {
		case model.ActivityEmailOpened:
			opens++
		case model.ActivityLinkClicked:
			clicks++
		}
	}
	assert.Equal(t, 1, opens)
	assert.Equal(t, 1, clicks)
}

func TestUnsubscribeWebhookCancelsEnrollment(t *testing.T) {
	f := newFixture(t)
	id, err := sequenceEnroll(f)
	require.NoError(t, err)
	rec := f.do(http.MethodPost, "/api/v1/cron/sequences", nil, cronSecret)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPost, "/webhooks/engagement", map[string]string{
		"event_type": "unsubscribed",
		"email_id":   lastSentEmailID(f),
	}, "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	e, err := f.store.Enrollments().Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.EnrollmentCancelled, e.Status)
	assert.Equal(t, model.ReasonUnsubscribed, *e.PausedReason)

	rec = f.do(http.MethodPost, "/webhooks/engagement", map[string]string{
		"event_type": "opened",
		"email_id":   "unknown",
	}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/health/live", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(http.MethodGet, "/health/ready", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "outreach_http_requests_total")
}
