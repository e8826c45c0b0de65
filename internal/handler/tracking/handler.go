package tracking

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/outreach-engine/internal/handler"
	"github.com/jwalitptl/outreach-engine/internal/service/engagement"
	"github.com/jwalitptl/outreach-engine/internal/tracking"
	"github.com/jwalitptl/outreach-engine/pkg/logger"
)

// pixel is a transparent 1x1 GIF.
var pixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00, 0x00, 0x00, 0x00, 0x00,
	0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00,
	0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

type Handler struct {
	service engagement.Service
	logger  *logger.Logger
}

func NewHandler(service engagement.Service, log *logger.Logger) *Handler {
	return &Handler{service: service, logger: log}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET(tracking.OpenPath+"/:contact_id/:email_id", h.Open)
	r.GET(tracking.ClickPath+"/:contact_id/:email_id", h.Click)
	r.POST("/webhooks/engagement", h.Webhook)
}

// Open always answers with the pixel so mail clients never show a broken
// image. Failures are only logged.
func (h *Handler) Open(c *gin.Context) {
	if contactID, err := uuid.Parse(c.Param("contact_id")); err == nil {
		if err := h.service.RecordOpen(c.Request.Context(), contactID, c.Param("email_id")); err != nil {
			logger.FromContext(c.Request.Context(), h.logger).Debug("open not recorded",
				"contact_id", contactID.String(),
				"email_id", c.Param("email_id"),
				"error", err.Error())
		}
	}

	c.Header("Cache-Control", "no-store, no-cache, must-revalidate")
	c.Data(http.StatusOK, "image/gif", pixel)
}

// Click records the click and redirects to the original link. Only absolute
// http(s) targets are followed.
func (h *Handler) Click(c *gin.Context) {
	target := c.Query("url")
	if !tracking.SafeRedirect(target) {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid redirect url"))
		return
	}

	if contactID, err := uuid.Parse(c.Param("contact_id")); err == nil {
		if err := h.service.RecordClick(c.Request.Context(), contactID, c.Param("email_id"), target); err != nil {
			logger.FromContext(c.Request.Context(), h.logger).Debug("click not recorded",
				"contact_id", contactID.String(),
				"email_id", c.Param("email_id"),
				"error", err.Error())
		}
	}
	c.Redirect(http.StatusFound, target)
}

func (h *Handler) Webhook(c *gin.Context) {
	var event engagement.Event
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}
	if err := h.service.HandleEvent(c.Request.Context(), event); err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, handler.NewSuccessResponse(nil))
}
