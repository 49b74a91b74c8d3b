package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/promptbridge-backend/internal/platform/logger"
)

const headerAPIKey = "X-API-Key"

// RequireAPIKey rejects requests whose X-API-Key header does not equal key.
// An empty key disables the check; app config refuses that outside development.
func RequireAPIKey(log *logger.Logger, key string) gin.HandlerFunc {
	key = strings.TrimSpace(key)
	if key == "" {
		return func(c *gin.Context) { c.Next() }
	}
	mwLog := log.With("middleware", "APIKey")
	return func(c *gin.Context) {
		got := strings.TrimSpace(c.GetHeader(headerAPIKey))
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			mwLog.Warn("rejected request", "path", c.Request.URL.Path, "has_key", got != "")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "invalid or missing API key", "code": "unauthorized"},
			})
			return
		}
		c.Next()
	}
}
