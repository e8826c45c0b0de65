package sequence

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/outreach-engine/internal/model"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ctxEngine records the context error seen by the step-running calls.
type ctxEngine struct {
	Engine
	ctxErr    error
	batchSize int
}

func (e *ctxEngine) ExecuteStep(ctx context.Context, id uuid.UUID) (model.StepResult, error) {
	e.ctxErr = ctx.Err()
	return model.StepResult{EnrollmentID: id, Status: model.StepSent}, nil
}

func (e *ctxEngine) ProcessDueEnrollments(ctx context.Context, batchSize int) (*model.BatchResult, error) {
	e.ctxErr = ctx.Err()
	e.batchSize = batchSize
	return &model.BatchResult{}, nil
}

func newTestRouter(engine Engine) *gin.Engine {
	r := gin.New()
	h := NewHandler(engine)
	h.RegisterRoutes(r.Group(""))
	h.RegisterCronRoutes(r.Group(""))
	return r
}

func TestStepRunsSurviveClientDisconnect(t *testing.T) {
	paths := []string{
		"/cron/sequences?batch_size=5",
		"/enrollments/" + uuid.NewString() + "/execute",
	}
	for _, path := range paths {
		engine := &ctxEngine{}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		req := httptest.NewRequest(http.MethodPost, path, nil).WithContext(ctx)
		rec := httptest.NewRecorder()
		newTestRouter(engine).ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.NoError(t, engine.ctxErr, path)
	}
}

func TestProcessDueValidatesBatchSize(t *testing.T) {
	engine := &ctxEngine{}
	r := newTestRouter(engine)

	for _, q := range []string{"0", "1001", "abc"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/cron/sequences?batch_size="+q, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/cron/sequences", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, engine.batchSize)
}
