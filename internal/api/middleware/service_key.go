package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/dmcommerce/internal/utils"
)

const ServiceKeyHeader = "X-Service-Key"

// RequireServiceKey rejects requests whose X-Service-Key does not match key.
// An empty key disables the check.
func RequireServiceKey(key string) gin.HandlerFunc {
	key = strings.TrimSpace(key)

	return func(c *gin.Context) {
		if key == "" {
			c.Next()
			return
		}

		got := strings.TrimSpace(c.GetHeader(ServiceKeyHeader))
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    utils.CodeUnauthorized,
				"message": "invalid service key",
			})
			return
		}

		c.Next()
	}
}
