package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/classcast/backend/internal/models"
	"github.com/classcast/backend/pkg/response"
)

// RequireRole returns a middleware that allows only the given session roles.
// The authenticated role comes from the JWT middleware as a raw claim string;
// anything outside the known role set is rejected.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	allowed := make(map[models.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		roleVal, ok := c.Get(ContextUserRole)
		if !ok {
			response.Unauthorized(c, "missing user context")
			c.Abort()
			return
		}
		roleStr, _ := roleVal.(string)
		role := models.Role(roleStr)
		if !role.Valid() {
			response.Forbidden(c, "unknown role")
			c.Abort()
			return
		}
		if _, ok := allowed[role]; !ok {
			response.Forbidden(c, "insufficient permissions")
			c.Abort()
			return
		}
		c.Next()
	}
}
