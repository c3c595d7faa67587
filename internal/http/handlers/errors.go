package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/you/accountportal/domain"
	"github.com/you/accountportal/internal/observability"
	"go.uber.org/zap"
)

// MsgInvalidBody is returned when a request body cannot be decoded
const MsgInvalidBody = "Invalid request body."

// statusFor maps a portal error to its HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidIdentifier),
		errors.Is(err, domain.ErrInvalidSecret),
		errors.Is(err, domain.ErrInvalidProfileName),
		errors.Is(err, domain.ErrInvalidAvatar):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrInvalidCredential),
		errors.Is(err, domain.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrProtectedProfile):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrUnknownProfile):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyRegistered),
		errors.Is(err, domain.ErrLimitReached),
		errors.Is(err, domain.ErrAuthenticationInFlight),
		errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrStoreUnavailable),
		errors.Is(err, domain.ErrCacheUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the user-facing message for err. Internal detail only reaches the log.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		observability.GetLogger(c.Request.Context()).Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}

	body := gin.H{"error": domain.PublicMessage(err)}
	if domain.Retryable(err) {
		body["retryable"] = true
	}
	c.JSON(status, body)
}
