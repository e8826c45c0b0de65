package sequence

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/outreach-engine/internal/handler"
	"github.com/jwalitptl/outreach-engine/internal/model"
)

// Engine is the part of the sequence engine exposed over HTTP.
type Engine interface {
	Enroll(ctx context.Context, contactID, sequenceID, organizationID uuid.UUID) (*model.EnrollResult, error)
	Unenroll(ctx context.Context, contactID, sequenceID uuid.UUID, reason string) error
	UnenrollAll(ctx context.Context, contactID uuid.UUID, reason string) (int, error)
	Pause(ctx context.Context, enrollmentID uuid.UUID, reason *string) (*model.Enrollment, error)
	Resume(ctx context.Context, enrollmentID uuid.UUID) (*model.Enrollment, error)
	ExecuteStep(ctx context.Context, enrollmentID uuid.UUID) (model.StepResult, error)
	ProcessDueEnrollments(ctx context.Context, batchSize int) (*model.BatchResult, error)
}

type Handler struct {
	engine Engine
}

func NewHandler(engine Engine) *Handler {
	return &Handler{engine: engine}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	enrollments := r.Group("/enrollments")
	{
		enrollments.POST("", h.Enroll)
		enrollments.DELETE("", h.Unenroll)
		enrollments.POST("/:id/pause", h.Pause)
		enrollments.POST("/:id/resume", h.Resume)
		enrollments.POST("/:id/execute", h.Execute)
	}
	r.POST("/contacts/:id/unenroll", h.UnenrollAll)
}

// RegisterCronRoutes mounts the scheduler trigger. The caller guards the group.
func (h *Handler) RegisterCronRoutes(r *gin.RouterGroup) {
	r.POST("/cron/sequences", h.ProcessDue)
}

type enrollRequest struct {
	ContactID      string `json:"contact_id" binding:"required,uuid"`
	SequenceID     string `json:"sequence_id" binding:"required,uuid"`
	OrganizationID string `json:"organization_id" binding:"required,uuid"`
}

type unenrollRequest struct {
	ContactID  string `json:"contact_id" binding:"required,uuid"`
	SequenceID string `json:"sequence_id" binding:"required,uuid"`
	Reason     string `json:"reason" binding:"required,max=100"`
}

type reasonRequest struct {
	Reason string `json:"reason" binding:"max=100"`
}

func (h *Handler) Enroll(c *gin.Context) {
	var req enrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	res, err := h.engine.Enroll(c.Request.Context(),
		uuid.MustParse(req.ContactID),
		uuid.MustParse(req.SequenceID),
		uuid.MustParse(req.OrganizationID))
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(res))
}

func (h *Handler) Unenroll(c *gin.Context) {
	var req unenrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	err := h.engine.Unenroll(c.Request.Context(), uuid.MustParse(req.ContactID), uuid.MustParse(req.SequenceID), req.Reason)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(nil))
}

func (h *Handler) UnenrollAll(c *gin.Context) {
	contactID, ok := pathID(c)
	if !ok {
		return
	}
	var req reasonRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Reason == "" {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("reason is required"))
		return
	}

	n, err := h.engine.UnenrollAll(c.Request.Context(), contactID, req.Reason)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"cancelled": n}))
}

func (h *Handler) Pause(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req reasonRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
			return
		}
	}
	var reason *string
	if req.Reason != "" {
		reason = &req.Reason
	}

	e, err := h.engine.Pause(c.Request.Context(), id, reason)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(e))
}

func (h *Handler) Resume(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	e, err := h.engine.Resume(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(e))
}

func (h *Handler) Execute(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	res, err := h.engine.ExecuteStep(detached(c), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(res))
}

// ProcessDue runs one batch. batch_size defaults to the configured size.
func (h *Handler) ProcessDue(c *gin.Context) {
	batchSize := 0
	if raw := c.Query("batch_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse("batch_size must be between 1 and 1000"))
			return
		}
		batchSize = n
	}

	res, err := h.engine.ProcessDueEnrollments(detached(c), batchSize)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(res))
}

// detached keeps the request's values but not its cancellation. A caller that
// hangs up mid-step would otherwise abort sends and charge each enrollment a
// failed attempt.
func detached(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid id"))
		return uuid.Nil, false
	}
	return id, true
}
