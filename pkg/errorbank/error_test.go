package errorbank

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

func TestStatusAndGRPCMapping(t *testing.T) {
	cases := []struct {
		err    *AppError
		status int
		code   codes.Code
	}{
		{BadRequest("x"), http.StatusBadRequest, codes.InvalidArgument},
		{Unauthorized("x"), http.StatusUnauthorized, codes.Unauthenticated},
		{NotFound("x"), http.StatusNotFound, codes.NotFound},
		{Conflict("x"), http.StatusConflict, codes.Aborted},
		{InvalidTransition("x"), http.StatusConflict, codes.FailedPrecondition},
		{NotCancellable("x", "window"), http.StatusUnprocessableEntity, codes.FailedPrecondition},
		{Gateway("x", true), http.StatusBadGateway, codes.Unavailable},
		{Internal("x"), http.StatusInternalServerError, codes.Internal},
	}
	for _, tc := range cases {
		t.Run(string(tc.err.Kind()), func(t *testing.T) {
			assert.Equal(t, tc.status, tc.err.StatusCode())
			assert.Equal(t, tc.code, tc.err.GRPCCode())
		})
	}
}

func TestDetailsAndCause(t *testing.T) {
	cause := errors.New("boom")
	err := NotCancellable("too late", "window", WithCause(cause))

	assert.Equal(t, "window", err.Details()["reason"])
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "too late: boom", err.Error())

	v := Validation("invalid order", map[string]string{"items": "required"})
	assert.Equal(t, map[string]string{"items": "required"}, v.Details()["fields"])
}

func TestFromAndIsKind(t *testing.T) {
	wrapped := fmt.Errorf("service: %w", InvalidTransition("delivered is terminal"))

	require.True(t, IsKind(wrapped, KindInvalidTransition))
	assert.False(t, IsKind(wrapped, KindNotFound))
	assert.Equal(t, KindInvalidTransition, From(wrapped).Kind())

	plain := From(errors.New("db down"))
	assert.Equal(t, KindInternal, plain.Kind())
	assert.Nil(t, From(nil))
}
