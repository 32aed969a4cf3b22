// Package controller holds helpers shared by the admin, user and commission controllers.
package controller

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/lshigami/safetycert/internal/apperr"
	"github.com/lshigami/safetycert/internal/dto"
	"github.com/lshigami/safetycert/internal/middleware"
)

// Status maps a service error to its HTTP status and machine-readable code.
func Status(err error) (int, string) {
	var (
		limit   *apperr.AttemptLimitExceeded
		invalid *apperr.ValidationError
		network *apperr.NetworkError
		clash   *apperr.ConflictError
	)
	switch {
	case errors.As(err, &limit):
		return http.StatusUnprocessableEntity, "attempt_limit_exceeded"
	case errors.As(err, &invalid):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperr.ErrOTPExpired):
		return http.StatusUnprocessableEntity, "otp_expired"
	case errors.Is(err, apperr.ErrOTPInvalid):
		return http.StatusUnprocessableEntity, "otp_invalid"
	case errors.As(err, &network):
		return http.StatusServiceUnavailable, "network_error"
	case errors.As(err, &clash):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, apperr.ErrTooManyCalls):
		return http.StatusTooManyRequests, "too_many_requests"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// RespondError writes err as a dto.ErrorResponse. Internal errors are logged and hidden.
func RespondError(ctx *gin.Context, err error) {
	status, code := Status(err)
	resp := dto.ErrorResponse{Message: err.Error(), Code: code}

	var limit *apperr.AttemptLimitExceeded
	if errors.As(err, &limit) {
		resp.Cap, resp.Used = &limit.Cap, &limit.Used
	}
	var invalid *apperr.ValidationError
	if errors.As(err, &invalid) {
		resp.Fields = invalid.Fields
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("method", ctx.Request.Method).Str("path", ctx.FullPath()).Msg("Request failed")
		resp.Message = "Internal server error"
	}
	ctx.AbortWithStatusJSON(status, resp)
}

// RespondBindError reports a request body that could not be bound.
func RespondBindError(ctx *gin.Context, err error) {
	log.Warn().Err(err).Str("path", ctx.FullPath()).Msg("Failed to bind request")
	ctx.AbortWithStatusJSON(http.StatusBadRequest, dto.ErrorResponse{
		Message: "Invalid request body",
		Code:    "validation_error",
		Details: []string{err.Error()},
	})
}

// Caller returns the authenticated user. Routes are always behind middleware.Auth.
func Caller(ctx *gin.Context) middleware.CurrentUser {
	user, _ := middleware.Current(ctx)
	return user
}

// OwnerScope is the user id that restricts attempt access, empty for administrators.
func OwnerScope(user middleware.CurrentUser) string {
	if user.IsAdmin() {
		return ""
	}
	return user.ID
}
