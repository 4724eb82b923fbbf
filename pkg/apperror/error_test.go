package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	err := New(http.StatusBadRequest, "empty_query", "Query text is empty")
	assert.Equal(t, "empty_query: Query text is empty", err.Error())

	withInternal := err.WithInternal(errors.New("boom"))
	assert.Contains(t, withInternal.Error(), "boom")
}

func TestError_IsMatchesByCode(t *testing.T) {
	err := ErrQuotaExceeded.WithMessage("quota exceeded for queries_per_minute")
	assert.True(t, errors.Is(err, ErrQuotaExceeded))
	assert.False(t, errors.Is(err, ErrNotFound))

	wrapped := fmt.Errorf("execute: %w", ErrDimensionMismatch)
	assert.True(t, errors.Is(wrapped, ErrDimensionMismatch))
}

func TestError_Unwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := ErrVectorBackend.WithInternal(inner)
	assert.True(t, errors.Is(err, inner))
}

func TestWithCopiesDoNotMutateSentinels(t *testing.T) {
	msg := ErrNotFound.Message
	_ = ErrNotFound.WithMessage("concept 'x' not found")
	assert.Equal(t, msg, ErrNotFound.Message)

	_ = ErrNotFound.WithDetails(map[string]any{"k": "v"})
	assert.Nil(t, ErrNotFound.Details)
}

func TestNewQuotaExceeded(t *testing.T) {
	resetAt := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	err := NewQuotaExceeded("queries_per_minute", resetAt)

	assert.Equal(t, http.StatusTooManyRequests, err.HTTPStatus)
	assert.Equal(t, "quota_exceeded", err.Code)
	assert.Equal(t, "queries_per_minute", err.Details["resource"])
	assert.Equal(t, "2026-03-01T00:00:00Z", err.Details["reset_at"])
}

func TestNewQuotaExceeded_BulkResourceHasNoReset(t *testing.T) {
	err := NewQuotaExceeded("concepts", time.Time{})
	assert.Equal(t, "concepts", err.Details["resource"])
	_, hasReset := err.Details["reset_at"]
	assert.False(t, hasReset)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{ErrVectorBackend, true},
		{ErrMetadataBackend, true},
		{ErrRelationalBackend, true},
		{ErrEmbeddingUnavailable, true},
		{ErrUpstreamUnavailable, true},
		{ErrEmptyQuery, false},
		{ErrQuotaExceeded, false},
		{ErrDeadlineExceeded, false},
		{ErrDimensionMismatch, false},
		{errors.New("plain"), false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRetryable(tt.err), "IsRetryable(%v)", tt.err)
	}
}

func TestToHTTPError(t *testing.T) {
	status, body := ToHTTPError(NewNotFound("concept", "c1"))
	assert.Equal(t, http.StatusNotFound, status)

	errBody, ok := body["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "not_found", errBody["code"])

	status, body = ToHTTPError(errors.New("mystery"))
	assert.Equal(t, http.StatusInternalServerError, status)
	errBody = body["error"].(map[string]any)
	assert.Equal(t, "internal_error", errBody["code"])
}
