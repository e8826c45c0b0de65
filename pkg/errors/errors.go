package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches another AppError with the same code and message, so a wrapped
// copy of a sentinel still satisfies errors.Is against the sentinel.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Message == e.Message
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrUnauthorized
	ErrForbidden
	ErrInternal
	ErrConflict
	ErrUnavailable
)

// Domain errors raised by the sequence engine and its collaborators.
var (
	ErrSequenceNotFound        = &AppError{Code: ErrNotFound, Message: "sequence not found"}
	ErrSequenceHasNoSteps      = &AppError{Code: ErrBadRequest, Message: "sequence has no steps"}
	ErrEnrollmentNotFound      = &AppError{Code: ErrNotFound, Message: "enrollment not found"}
	ErrEnrollmentNotPausable   = &AppError{Code: ErrConflict, Message: "enrollment is not paused"}
	ErrEnrollmentBusy          = &AppError{Code: ErrConflict, Message: "enrollment is being processed"}
	ErrTemplateNotFound        = &AppError{Code: ErrNotFound, Message: "template not found"}
	ErrContentGenerationFailed = &AppError{Code: ErrUnavailable, Message: "content generation failed"}
	ErrEmailSendFailed         = &AppError{Code: ErrUnavailable, Message: "email send failed"}
	ErrContactIneligible       = &AppError{Code: ErrBadRequest, Message: "contact is not eligible for email"}
	ErrMissingContentSource    = &AppError{Code: ErrBadRequest, Message: "step has no content source"}
	ErrConflictingContent      = &AppError{Code: ErrBadRequest, Message: "step has both a template and an ai prompt"}
	ErrInvalidCondition        = &AppError{Code: ErrBadRequest, Message: "invalid step condition"}
	ErrEmailNotFound           = &AppError{Code: ErrNotFound, Message: "email not found"}
	ErrUnknownEngagementEvent  = &AppError{Code: ErrBadRequest, Message: "unknown engagement event"}
)

// Wrap returns a copy of sentinel carrying cause. The result satisfies
// errors.Is(result, sentinel).
func Wrap(sentinel *AppError, cause error) *AppError {
	return &AppError{
		Code:    sentinel.Code,
		Message: sentinel.Message,
		Err:     cause,
	}
}

// Error constructors
func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewBadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Message: message,
		Err:     err,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

// CodeOf returns the code of the first AppError in err's chain, or
// ErrInternal when there is none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// HTTPStatus maps err to a response status code.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrBadRequest:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrConflict:
		return http.StatusConflict
	case ErrUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
