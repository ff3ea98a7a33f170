package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/audit-trail/audit-trail/internal/db/models"
	"github.com/audit-trail/audit-trail/internal/services"
)

// credentialKey is the gin.Context key under which the validated service
// credential is stored.
const credentialKey = "service_credential"

// ServiceKeyHeader is the header submitting services authenticate with.
const ServiceKeyHeader = "X-API-Key"

// ServiceKeyMiddleware validates the X-API-Key header on the record intake
// endpoint. Unknown, revoked and expired keys all produce the same 401 so a
// probing client learns nothing about which case it hit; the distinction is
// kept in the server logs.
func ServiceKeyMiddleware(credentials *services.CredentialService, requireWrite bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawKey := c.GetHeader(ServiceKeyHeader)
		if rawKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing " + ServiceKeyHeader + " header",
			})
			return
		}

		cred, err := credentials.Validate(c.Request.Context(), rawKey)
		if err != nil {
			switch {
			case errors.Is(err, services.ErrCredentialNotFound),
				errors.Is(err, services.ErrCredentialRevoked),
				errors.Is(err, services.ErrCredentialExpired):
				slog.Warn("service key rejected",
					"reason", err.Error(), "client_ip", c.ClientIP())
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "invalid API key",
				})
			default:
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "failed to validate API key",
				})
			}
			return
		}

		if requireWrite && !cred.CanWrite {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "credential does not permit writes",
			})
			return
		}

		c.Set(credentialKey, cred)
		c.Next()
	}
}

// CredentialFrom returns the credential stored by ServiceKeyMiddleware.
func CredentialFrom(c *gin.Context) (*models.ServiceCredential, bool) {
	v, ok := c.Get(credentialKey)
	if !ok {
		return nil, false
	}
	cred, ok := v.(*models.ServiceCredential)
	return cred, ok
}
