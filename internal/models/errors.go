package models

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Error codes shared by services and handlers.
const (
	CodeNotFound     = "NOT_FOUND"
	CodeConflict     = "CONFLICT"
	CodeValidation   = "VALIDATION_ERROR"
	CodeUnavailable  = "UNAVAILABLE"
	CodeForbidden    = "FORBIDDEN"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeInternal     = "INTERNAL_ERROR"
)

// ErrorResponse is the body written for every failed request.
type ErrorResponse struct {
	Succeeded bool     `json:"succeeded"`
	Errors    []string `json:"errors"`
	Code      string   `json:"code,omitempty"`
}

// AppError represents a custom application error
type AppError struct {
	Code    string
	Message string
	Err     error
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

func NewNotFoundError(resource string, id interface{}) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s with ID %v not found", resource, id),
	}
}

// NewNotFoundMessage builds a NOT_FOUND error with a free-form message.
func NewNotFoundMessage(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message}
}

func NewConflictError(message string) *AppError {
	return &AppError{Code: CodeConflict, Message: message}
}

func NewValidationError(message string) *AppError {
	return &AppError{Code: CodeValidation, Message: message}
}

func NewForbiddenError(message string) *AppError {
	return &AppError{Code: CodeForbidden, Message: message}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{Code: CodeUnauthorized, Message: message}
}

// NewUnavailableError wraps a storage or dependency failure.
func NewUnavailableError(err error) *AppError {
	return &AppError{
		Code:    CodeUnavailable,
		Message: "Service temporarily unavailable",
		Err:     err,
	}
}

func NewInternalError(err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: "Internal server error",
		Err:     err,
	}
}

// HasCode reports whether err is an AppError carrying code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// Result is the structured outcome returned at the API boundary.
type Result struct {
	Succeeded bool     `json:"succeeded"`
	Errors    []string `json:"errors"`
}

// Success returns a succeeded Result with an empty error list.
func Success() Result {
	return Result{Succeeded: true, Errors: []string{}}
}

// ResultFromError converts err into a failed Result. A nil error yields Success.
func ResultFromError(err error) Result {
	if err == nil {
		return Success()
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return Result{Errors: []string{appErr.Message}}
	}
	return Result{Errors: []string{err.Error()}}
}

// StatusForError maps an error to the HTTP status used for it.
func StatusForError(err error) int {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return fiber.StatusInternalServerError
	}
	switch appErr.Code {
	case CodeNotFound:
		return fiber.StatusNotFound
	case CodeValidation, CodeConflict:
		return fiber.StatusBadRequest
	case CodeForbidden:
		return fiber.StatusForbidden
	case CodeUnauthorized:
		return fiber.StatusUnauthorized
	case CodeUnavailable:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// RespondWithError writes the standardized error body. A zero status is
// derived from the error code.
func RespondWithError(c *fiber.Ctx, status int, err error) error {
	if status == 0 {
		status = StatusForError(err)
	}
	response := ErrorResponse{Errors: ResultFromError(err).Errors}
	var appErr *AppError
	if errors.As(err, &appErr) {
		response.Code = appErr.Code
		// Internal details never leave the process.
		if appErr.Code == CodeInternal || appErr.Code == CodeUnavailable {
			response.Errors = []string{appErr.Message}
		}
	} else {
		response.Code = CodeInternal
		response.Errors = []string{"Internal server error"}
	}
	return c.Status(status).JSON(response)
}
