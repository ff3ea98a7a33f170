// Package respond maps service and repository errors onto HTTP responses so
// every handler reports the same shapes for the same failures.
package respond

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/audit-trail/audit-trail/internal/db/repositories"
	"github.com/audit-trail/audit-trail/internal/services"
)

// Error writes the HTTP response for err. Sentinel errors from the
// repositories and services map to their proper status codes; anything else
// is a 500 with the detail kept server-side.
func Error(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, repositories.ErrUnknownActionType):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown action type"})
	case errors.Is(err, repositories.ErrVersionConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "version conflict, retry the submission"})
	case errors.Is(err, services.ErrCredentialNotFound),
		errors.Is(err, services.ErrCredentialRevoked),
		errors.Is(err, services.ErrCredentialExpired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
	default:
		slog.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// BadRequest writes a 400 with the given message.
func BadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
