package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsFollowsWrapping(t *testing.T) {
	base := NewAuthentication(ReasonBadSignature, "signature mismatch")
	wrapped := fmt.Errorf("gate: %w", base)

	assert.True(t, Is(wrapped, ErrAuthentication))
	assert.False(t, Is(wrapped, ErrAuthorization))
	assert.True(t, HasReason(wrapped, ReasonBadSignature))
	assert.False(t, Is(errors.New("plain"), ErrAuthentication))
}

func TestStatusMapping(t *testing.T) {
	cases := map[ErrorType]int{
		ErrAuthentication:      http.StatusUnauthorized,
		ErrAuthorization:       http.StatusForbidden,
		ErrValidation:          http.StatusBadRequest,
		ErrRateLimit:           http.StatusTooManyRequests,
		ErrInsufficientBalance: http.StatusUnprocessableEntity,
		ErrExchange:            http.StatusBadGateway,
		ErrDatabase:            http.StatusInternalServerError,
		ErrReadOnly:            http.StatusServiceUnavailable,
	}
	for typ, status := range cases {
		assert.Equal(t, status, New(typ, "x", nil).HTTPStatus, typ)
	}
}

func TestRateLimitCarriesRetryAfter(t *testing.T) {
	err := NewRateLimit(5, 6, 42)
	assert.Equal(t, 42, err.RetryAfterSeconds)
	assert.Equal(t, 5, err.Details["limit"])
	assert.Equal(t, 6, err.Details["observed"])
}

func TestWrapKeepsAppError(t *testing.T) {
	cause := errors.New("boom")
	db := NewDatabase("lookup failed", cause)
	assert.Same(t, db, Wrap(fmt.Errorf("ctx: %w", db)))
	assert.ErrorIs(t, db, cause)
	assert.Equal(t, ErrInternal, Wrap(cause).Type)
	assert.Nil(t, Wrap(nil))
}
