package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/pscheid92/opinionpulse/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationError(t *testing.T) {
	err := ValidationError("invalid input")

	assert.Equal(t, TypeValidation, err.Type)
	assert.Equal(t, "invalid input", err.Message)
	assert.Nil(t, err.Cause)
	assert.NotNil(t, err.Context)
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus())
	assert.Contains(t, err.Error(), "validation")
	assert.Contains(t, err.Error(), "invalid input")
}

func TestCooldownError(t *testing.T) {
	err := CooldownError(90 * time.Second)

	assert.Equal(t, TypeCooldown, err.Type)
	assert.Equal(t, http.StatusTooManyRequests, err.HTTPStatus())
	assert.Equal(t, int64(90), err.Context["remaining_seconds"])
}

func TestUnauthenticatedError(t *testing.T) {
	err := UnauthenticatedError()

	assert.Equal(t, TypeUnauthenticated, err.Type)
	assert.Equal(t, http.StatusUnauthorized, err.HTTPStatus())
}

func TestUnauthorizedError(t *testing.T) {
	err := UnauthorizedError("only the author may delete")

	assert.Equal(t, TypeUnauthorized, err.Type)
	assert.Equal(t, http.StatusForbidden, err.HTTPStatus())
	assert.Contains(t, err.Error(), "only the author may delete")
}

func TestNotFoundError(t *testing.T) {
	err := NotFoundError("item not found")

	assert.Equal(t, TypeNotFound, err.Type)
	assert.Equal(t, "item not found", err.Message)
	assert.Nil(t, err.Cause)
	assert.Equal(t, http.StatusNotFound, err.HTTPStatus())
	assert.Contains(t, err.Error(), "not_found")
}

func TestConflictError(t *testing.T) {
	err := ConflictError("mutation already pending")

	assert.Equal(t, TypeConflict, err.Type)
	assert.Equal(t, http.StatusConflict, err.HTTPStatus())
}

func TestStoreUnavailableError(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := StoreUnavailableError(cause)

	assert.Equal(t, TypeStoreUnavailable, err.Type)
	assert.Equal(t, cause, err.Cause)
	assert.Equal(t, http.StatusServiceUnavailable, err.HTTPStatus())
	assert.Contains(t, err.Error(), "connection refused")
}

func TestInternalError(t *testing.T) {
	cause := fmt.Errorf("database connection failed")
	err := InternalError("failed to save vote", cause)

	assert.Equal(t, TypeInternal, err.Type)
	assert.Equal(t, cause, err.Cause)
	assert.Equal(t, http.StatusInternalServerError, err.HTTPStatus())
	assert.Contains(t, err.Error(), "failed to save vote")
	assert.Contains(t, err.Error(), "database connection failed")
}

func TestInternalErrorWithoutCause(t *testing.T) {
	err := InternalError("something went wrong", nil)

	assert.Nil(t, err.Cause)
	assert.NotContains(t, err.Error(), "<nil>")
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := InternalError("wrapper", cause)

	assert.ErrorIs(t, err, cause)
}

func TestWithContext(t *testing.T) {
	err := NotFoundError("missing").
		WithContext("item_id", "abc").
		WithField("attempt", 2)

	assert.Equal(t, "abc", err.Context["item_id"])
	assert.Equal(t, 2, err.Context["attempt"])
}

func TestToResponse(t *testing.T) {
	err := ValidationError("bad request").WithContext("field", "isYay")
	resp := err.ToResponse()

	assert.Equal(t, "bad request", resp.Error)
	assert.Equal(t, TypeValidation, resp.Type)
	assert.Equal(t, "isYay", resp.Context["field"])
}

func TestAsStructuredError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantType ErrorType
	}{
		{"nil passthrough", nil, ""},
		{"already structured", ValidationError("bad"), TypeValidation},
		{"unauthenticated sentinel", domain.ErrUnauthenticated, TypeUnauthenticated},
		{"unauthorized sentinel", domain.ErrUnauthorized, TypeUnauthorized},
		{"not found sentinel", domain.ErrNotFound, TypeNotFound},
		{"mutation in progress sentinel", domain.ErrMutationInProgress, TypeConflict},
		{"store unavailable sentinel", fmt.Errorf("%w: dial tcp", domain.ErrStoreUnavailable), TypeStoreUnavailable},
		{"unknown error", errors.New("surprise"), TypeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			structured := AsStructuredError(tt.err)
			if tt.err == nil {
				assert.Nil(t, structured)
				return
			}
			require.NotNil(t, structured)
			assert.Equal(t, tt.wantType, structured.Type)
		})
	}
}

func TestAsStructuredErrorPreservesWrappedStructured(t *testing.T) {
	inner := NotFoundError("gone")
	wrapped := fmt.Errorf("handler: %w", inner)

	assert.Same(t, inner, AsStructuredError(wrapped))
}
