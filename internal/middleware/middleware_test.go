package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/jwalitptl/outreach-engine/pkg/errreport"
	"github.com/jwalitptl/outreach-engine/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(engine *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestCronAuth(t *testing.T) {
	engine := gin.New()
	engine.POST("/tick", CronAuth("s3cret"), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	tests := []struct {
		header string
		want   int
	}{
		{"", http.StatusUnauthorized},
		{"s3cret", http.StatusUnauthorized},
		{"Basic s3cret", http.StatusUnauthorized},
		{"Bearer wrong", http.StatusUnauthorized},
		{"Bearer s3cret", http.StatusNoContent},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/tick", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		assert.Equal(t, tt.want, serve(engine, req).Code, tt.header)
	}
}

func TestCronAuthWithoutSecretIsOpen(t *testing.T) {
	engine := gin.New()
	engine.POST("/tick", CronAuth(""), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	assert.Equal(t, http.StatusNoContent, serve(engine, httptest.NewRequest(http.MethodPost, "/tick", nil)).Code)
}

func TestRecoveryAndRequestID(t *testing.T) {
	engine := gin.New()
	engine.Use(RequestID(logger.Nop()), Recovery(logger.Nop(), errreport.Nop{}), Logger(logger.Nop()))
	engine.GET("/boom", func(c *gin.Context) { panic("kaboom") })

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set(HeaderXRequestID, "req-1")
	rec := serve(engine, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "req-1", rec.Header().Get(HeaderXRequestID))
	assert.Contains(t, rec.Body.String(), "internal server error")
}

func TestRequestIDScopesLogger(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewLogger(&logger.Config{Level: logger.DebugLevel, Output: &buf, JSON: true})

	engine := gin.New()
	engine.Use(RequestID(log))
	engine.GET("/t", func(c *gin.Context) {
		logger.FromContext(c.Request.Context(), logger.Nop()).Info("handled")
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/t", nil)
	req.Header.Set(HeaderXRequestID, "req-42")
	rec := serve(engine, req)
	assert.Equal(t, "req-42", rec.Header().Get(HeaderXRequestID))
	assert.Contains(t, buf.String(), `"request_id":"req-42"`)
	assert.Contains(t, buf.String(), `"message":"handled"`)
}

func TestRequestIDReplacesUnsafeValues(t *testing.T) {
	engine := gin.New()
	engine.Use(RequestID(logger.Nop()))
	engine.GET("/t", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, rid := range []string{"", "bad id\nwith newline", string(bytes.Repeat([]byte("a"), 129))} {
		req := httptest.NewRequest(http.MethodGet, "/t", nil)
		if rid != "" {
			req.Header.Set(HeaderXRequestID, rid)
		}
		got := serve(engine, req).Header().Get(HeaderXRequestID)
		assert.NotEqual(t, rid, got)
		assert.Len(t, got, 36)
	}
}

func TestRateLimiterIsPerClient(t *testing.T) {
	limiter := NewRateLimiter(RateLimiterConfig{Rate: 0.001, Burst: 1})
	engine := gin.New()
	engine.GET("/t", limiter.RateLimit(), func(c *gin.Context) { c.Status(http.StatusOK) })

	first := httptest.NewRequest(http.MethodGet, "/t", nil)
	first.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, http.StatusOK, serve(engine, first).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(engine, first).Code)

	other := httptest.NewRequest(http.MethodGet, "/t", nil)
	other.RemoteAddr = "10.0.0.2:1234"
	assert.Equal(t, http.StatusOK, serve(engine, other).Code)
}
