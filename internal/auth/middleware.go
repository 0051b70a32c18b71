package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Context keys set by the middleware.
const (
	ContextKeyTenantID    = "auth.tenant_id"
	ContextKeyRole        = "auth.role"
	ContextKeyAccessLevel = "auth.access_level"
)

// RequireSession validates the bearer session token and stores the caller's
// identity on the gin context.
func RequireSession(tokens *Tokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c.GetHeader("Authorization"))
		claims, err := tokens.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "valid session token required",
			})
			return
		}

		c.Set(ContextKeyTenantID, claims.TenantID)
		c.Set(ContextKeyRole, claims.Role)
		c.Set(ContextKeyAccessLevel, claims.AccessLevel)
		c.Next()
	}
}

// RequireAdmin checks the X-Admin-Secret header against the configured
// secret. Used for out-of-band administrative endpoints (overrides,
// license key generation).
func RequireAdmin(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "admin_disabled",
				"message": "admin endpoints are not configured",
			})
			return
		}
		got := c.GetHeader("X-Admin-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "invalid admin secret",
			})
			return
		}
		c.Next()
	}
}

// TenantID returns the authenticated tenant id from the gin context.
func TenantID(c *gin.Context) string {
	return c.GetString(ContextKeyTenantID)
}

// Role returns the authenticated role from the gin context.
func Role(c *gin.Context) string {
	return c.GetString(ContextKeyRole)
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return header
}
