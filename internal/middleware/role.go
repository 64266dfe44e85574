package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/aura-webinar/meetbot/pkg/response"
)

// RoleAdmin may trigger operator actions such as a fleet-wide calendar sync.
const RoleAdmin = "admin"

// RequireRole allows only callers whose token carries one of roles. Must run after JWT.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := c.Get(ContextUserRole)
		if !ok {
			response.Unauthorized(c, "missing user context")
			c.Abort()
			return
		}
		if s, _ := role.(string); !lo.Contains(roles, s) {
			response.Forbidden(c, "insufficient permissions")
			c.Abort()
			return
		}
		c.Next()
	}
}
