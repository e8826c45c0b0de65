package handler

import (
	"github.com/gin-gonic/gin"

	apperrors "github.com/jwalitptl/outreach-engine/pkg/errors"
)

type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Status: "success",
		Data:   data,
	}
}

func NewErrorResponse(message string) *Response {
	return &Response{
		Status:  "error",
		Message: message,
	}
}

// RespondError writes err with the status its AppError code maps to. Errors
// without a code become a 500 with a generic message; the cause is attached
// to the context for the request logger.
func RespondError(c *gin.Context, err error) {
	status := apperrors.HTTPStatus(err)
	_ = c.Error(err)
	if apperrors.CodeOf(err) == apperrors.ErrInternal {
		c.JSON(status, NewErrorResponse("internal server error"))
		return
	}
	c.JSON(status, NewErrorResponse(err.Error()))
}
