package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"insights-backend/internal/shared/server/respond"
)

const userIDKey = "userId"

// Auth checks the service bearer token and records the caller's X-User-Id.
// With no token configured, only non-production environments are open.
func Auth(env, token string) gin.HandlerFunc {
	token = strings.TrimSpace(token)
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			return
		}

		switch {
		case token != "":
			authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
			if !strings.HasPrefix(authHeader, "Bearer ") {
				respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
				return
			}
			got := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer"))
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
				return
			}
		case env == "production":
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "service token not configured", nil)
			return
		}

		if userID := strings.TrimSpace(c.GetHeader("X-User-Id")); userID != "" {
			c.Set(userIDKey, userID)
		}
		c.Next()
	}
}

// UserIDFromContext fetches the caller id set by the auth middleware.
func UserIDFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	val, _ := c.Get(userIDKey)
	if id, ok := val.(string); ok {
		return id
	}
	return ""
}
