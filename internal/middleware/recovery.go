package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/outreach-engine/internal/handler"
	"github.com/jwalitptl/outreach-engine/pkg/errreport"
	"github.com/jwalitptl/outreach-engine/pkg/logger"
)

// Recovery turns a handler panic into a 500 and reports it.
func Recovery(log *logger.Logger, reporter errreport.Reporter) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("panic: %v", r)
				logger.FromContext(c.Request.Context(), log).Error(err, "Request panic recovered",
					"stack", string(debug.Stack()),
					"method", c.Request.Method,
					"path", c.Request.URL.Path)
				reporter.Report(c.Request.Context(), err, map[string]string{
					"component":  "http",
					"path":       c.FullPath(),
					"request_id": c.GetString(ContextRequestID),
				})

				c.AbortWithStatusJSON(http.StatusInternalServerError, handler.NewErrorResponse("internal server error"))
			}
		}()
		c.Next()
	}
}
