package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/promptbridge-backend/internal/platform/logger"
)

// Recover turns a handler panic into a 500 error envelope.
func Recover(log *logger.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		if log != nil {
			log.Error("panic recovered", "path", c.Request.URL.Path, "panic", recovered)
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{"message": "internal server error", "code": "internal_error"},
		})
	})
}
