package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"marketflow/auth"
	"marketflow/order"
)

const actorKey = "actor"

// Authenticate validates the bearer token and stores the acting user on the
// request context.
func Authenticate(authSvc *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		userID, role, err := authSvc.VerifyToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(actorKey, order.Actor{ID: userID, Role: role})
		c.Next()
	}
}

// RequireRoles rejects actors whose role is not in the allow list.
func RequireRoles(roles ...auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := actorFrom(c)
		for _, role := range roles {
			if actor.Role == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
	}
}

func actorFrom(c *gin.Context) order.Actor {
	v, _ := c.Get(actorKey)
	actor, _ := v.(order.Actor)
	return actor
}
