package middleware

import (
	"slices"

	"github.com/gin-gonic/gin"

	"github.com/aura-webinar/livesync/pkg/response"
)

// RequireRole allows only callers whose token carries one of roles.
// It must run after Authenticate.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := Claims(c)
		if claims == nil {
			response.Unauthorized(c, "missing user context")
			return
		}
		if !slices.Contains(roles, claims.Role) {
			response.Forbidden(c, "insufficient permissions")
			return
		}
		c.Next()
	}
}
