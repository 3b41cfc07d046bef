package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loadline/negotiator/internal/app"
	"github.com/loadline/negotiator/internal/domain"
)

// statusFor maps app errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, app.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, app.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, app.ErrNotFound), errors.Is(err, domain.ErrOfferNotFound):
		return http.StatusNotFound
	case errors.Is(err, app.ErrInvalidInput), errors.Is(err, domain.ErrInvalidTarget):
		return http.StatusBadRequest
	case errors.Is(err, app.ErrNegotiationClosed), errors.Is(err, app.ErrAgentNotActive):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Printf("API: %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
