package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/audit-trail/audit-trail/internal/access"
	"github.com/audit-trail/audit-trail/internal/auth"
)

// callerKey is the gin.Context key under which the authenticated caller is
// stored.
const callerKey = "caller"

// AuthMiddleware validates the Bearer JWT on read and admin endpoints and
// stores the resulting access.Caller in the context. The role string inside
// the token is parsed exactly once here; everything downstream works with
// the parsed Caller.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing authorization header",
			})
			return
		}

		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authorization header must start with 'Bearer '",
			})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authorization token is empty",
			})
			return
		}

		claims, err := auth.ValidateJWT(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
			})
			return
		}

		c.Set(callerKey, access.Caller{
			ID:       claims.UserID,
			Username: claims.Username,
			Role:     access.ParseRole(claims.Role),
		})
		c.Next()
	}
}

// CallerFrom returns the authenticated caller stored by AuthMiddleware. The
// second return is false on routes that never passed through it.
func CallerFrom(c *gin.Context) (access.Caller, bool) {
	v, ok := c.Get(callerKey)
	if !ok {
		return access.Caller{}, false
	}
	caller, ok := v.(access.Caller)
	return caller, ok
}

// RequireSuperAdmin aborts with 403 unless the authenticated caller holds
// the SuperAdmin role. Must be registered after AuthMiddleware.
func RequireSuperAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := CallerFrom(c)
		if !ok || !caller.IsSuperAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "requires SuperAdmin role",
			})
			return
		}
		c.Next()
	}
}
