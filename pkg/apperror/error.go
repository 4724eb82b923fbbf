package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Error represents an application error with HTTP status and a stable error code
type Error struct {
	HTTPStatus int
	Code       string
	Message    string
	Internal   error
	Details    map[string]any
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Internal)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the internal error
func (e *Error) Unwrap() error {
	return e.Internal
}

// Is matches errors by code so sentinel comparisons survive WithMessage/WithInternal copies
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// ToEchoError converts the app error to an echo.HTTPError for proper handling
func (e *Error) ToEchoError() *echo.HTTPError {
	errBody := map[string]any{
		"code":    e.Code,
		"message": e.Message,
	}
	if len(e.Details) > 0 {
		errBody["details"] = e.Details
	}
	return echo.NewHTTPError(e.HTTPStatus, map[string]any{
		"error": errBody,
	})
}

// WithInternal returns a copy of the error with an internal error attached
func (e *Error) WithInternal(err error) *Error {
	return &Error{
		HTTPStatus: e.HTTPStatus,
		Code:       e.Code,
		Message:    e.Message,
		Internal:   err,
		Details:    e.Details,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *Error) WithMessage(message string) *Error {
	return &Error{
		HTTPStatus: e.HTTPStatus,
		Code:       e.Code,
		Message:    message,
		Internal:   e.Internal,
		Details:    e.Details,
	}
}

// WithDetails returns a copy of the error with details attached
func (e *Error) WithDetails(details map[string]any) *Error {
	return &Error{
		HTTPStatus: e.HTTPStatus,
		Code:       e.Code,
		Message:    e.Message,
		Internal:   e.Internal,
		Details:    details,
	}
}

// New creates a new application error
func New(status int, code, message string) *Error {
	return &Error{
		HTTPStatus: status,
		Code:       code,
		Message:    message,
	}
}

// Error taxonomy. Codes are stable across releases; callers match on them.
var (
	// Input errors — never retried, returned verbatim
	ErrEmptyQuery        = New(http.StatusBadRequest, "empty_query", "Query text is empty")
	ErrDimensionMismatch = New(http.StatusBadRequest, "dimension_mismatch", "Vector dimension does not match the deployment dimension")
	ErrInvalidRelation   = New(http.StatusBadRequest, "invalid_relation", "Relation endpoints or type are invalid")
	ErrUnknownTenant     = New(http.StatusNotFound, "unknown_tenant", "Tenant is not registered")
	ErrBadRequest        = New(http.StatusBadRequest, "bad_request", "Invalid request")
	ErrValidation        = New(http.StatusUnprocessableEntity, "validation_error", "Validation failed")

	// Quota errors — retryable after reset_at
	ErrQuotaExceeded = New(http.StatusTooManyRequests, "quota_exceeded", "Quota exceeded for resource")

	// Upstream errors — retried internally; surfaced when the budget is exhausted
	ErrUpstreamUnavailable  = New(http.StatusServiceUnavailable, "upstream_unavailable", "Upstream engine is unavailable")
	ErrVectorBackend        = New(http.StatusBadGateway, "vector_backend_error", "Vector backend operation failed")
	ErrMetadataBackend      = New(http.StatusBadGateway, "metadata_backend_error", "Metadata backend operation failed")
	ErrRelationalBackend    = New(http.StatusBadGateway, "relational_backend_error", "Relational backend operation failed")
	ErrEmbeddingUnavailable = New(http.StatusServiceUnavailable, "embedding_unavailable", "Embedding provider is unavailable")
	ErrLLMUnavailable       = New(http.StatusServiceUnavailable, "llm_unavailable", "LLM provider is unavailable")

	// Deadline errors — never retried
	ErrDeadlineExceeded = New(http.StatusGatewayTimeout, "deadline_exceeded", "Operation deadline exceeded")

	// Consistency errors — quarantined, never fail the calling operation
	ErrSyncConflict  = New(http.StatusConflict, "sync_conflict", "Both layers changed since last sync")
	ErrMergeConflict = New(http.StatusConflict, "merge_conflict", "Concept merge conflict")

	// Resource errors
	ErrNotFound = New(http.StatusNotFound, "not_found", "Resource not found")
	ErrConflict = New(http.StatusConflict, "conflict", "Resource already exists")

	// Server errors
	ErrInternal = New(http.StatusInternalServerError, "internal_error", "An internal error occurred")
	ErrDatabase = New(http.StatusInternalServerError, "database_error", "Database operation failed")
)

// NewQuotaExceeded creates a quota error carrying the exhausted resource and
// the instant the caller may retry at.
func NewQuotaExceeded(resource string, resetAt time.Time) *Error {
	details := map[string]any{
		"resource": resource,
	}
	// Bulk resources (concepts, storage) have no rolling window and pass a
	// zero reset time
	if !resetAt.IsZero() {
		details["reset_at"] = resetAt.UTC().Format(time.RFC3339)
	}
	return ErrQuotaExceeded.
		WithMessage(fmt.Sprintf("quota exceeded for %s", resource)).
		WithDetails(details)
}

// NewBadRequest creates a bad request error with a custom message
func NewBadRequest(message string) *Error {
	return ErrBadRequest.WithMessage(message)
}

// NewNotFound creates a not found error for a resource type and ID
func NewNotFound(resourceType, id string) *Error {
	return ErrNotFound.WithMessage(fmt.Sprintf("%s '%s' not found", resourceType, id))
}

// NewInternal creates an internal error with a message and optional wrapped error
func NewInternal(message string, err error) *Error {
	return &Error{
		HTTPStatus: http.StatusInternalServerError,
		Code:       "internal_error",
		Message:    message,
		Internal:   err,
	}
}

// IsRetryable reports whether the error belongs to the upstream class that
// the internal retry budget applies to. Input, quota, and deadline errors
// are never retried.
func IsRetryable(err error) bool {
	var appErr *Error
	if !errors.As(err, &appErr) {
		return false
	}
	switch appErr.Code {
	case "vector_backend_error", "metadata_backend_error", "relational_backend_error",
		"embedding_unavailable", "llm_unavailable", "upstream_unavailable":
		return true
	}
	return false
}

// ToHTTPError converts an app error to an HTTP-friendly format
func ToHTTPError(err error) (int, map[string]any) {
	var appErr *Error
	if errors.As(err, &appErr) {
		errBody := map[string]any{
			"code":    appErr.Code,
			"message": appErr.Message,
		}
		if len(appErr.Details) > 0 {
			errBody["details"] = appErr.Details
		}
		return appErr.HTTPStatus, map[string]any{
			"error": errBody,
		}
	}

	return http.StatusInternalServerError, map[string]any{
		"error": map[string]any{
			"code":    "internal_error",
			"message": "An internal error occurred",
		},
	}
}
