package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/outreach-engine/pkg/logger"
)

// Logger logs one line per request. Request bodies are never logged since
// webhook payloads carry contact data.
func Logger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		log := logger.FromContext(c.Request.Context(), log)
		status := c.Writer.Status()
		fields := []interface{}{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}

		switch {
		case status >= 500:
			log.Warn("Server error", fields...)
		case status >= 400:
			log.Info("Client error", fields...)
		default:
			log.Debug("Request processed", fields...)
		}
	}
}
