package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lshigami/safetycert/internal/apperr"
	"github.com/lshigami/safetycert/internal/dto"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
		code string
	}{
		{"limit", &apperr.AttemptLimitExceeded{Cap: 2, Used: 2}, http.StatusUnprocessableEntity, "attempt_limit_exceeded"},
		{"validation", apperr.Validation("reason", "required"), http.StatusBadRequest, "validation_error"},
		{"otp expired", fmt.Errorf("sign: %w", apperr.ErrOTPExpired), http.StatusUnprocessableEntity, "otp_expired"},
		{"otp invalid", apperr.ErrOTPInvalid, http.StatusUnprocessableEntity, "otp_invalid"},
		{"network", &apperr.NetworkError{Op: "sms", Err: errors.New("timeout")}, http.StatusServiceUnavailable, "network_error"},
		{"conflict", apperr.Conflict("already signed"), http.StatusConflict, "conflict"},
		{"not found", apperr.NotFound("attempt", "x"), http.StatusNotFound, "not_found"},
		{"forbidden", fmt.Errorf("x: %w", apperr.ErrForbidden), http.StatusForbidden, "forbidden"},
		{"throttled", apperr.ErrTooManyCalls, http.StatusTooManyRequests, "too_many_requests"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := Status(tt.err)
			assert.Equal(t, tt.want, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestRespondErrorIncludesCap(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(w)
	ctx.Request = httptest.NewRequest(http.MethodPost, "/", nil)

	RespondError(ctx, &apperr.AttemptLimitExceeded{Cap: 3, Used: 3})

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var body dto.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotNil(t, body.Cap)
	assert.Equal(t, 3, *body.Cap)
	assert.Equal(t, 3, *body.Used)
}

func TestRespondErrorHidesInternalErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(w)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	RespondError(ctx, errors.New("pq: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "pq:")
}
