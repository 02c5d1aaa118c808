package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kirillm/swing-trader/pkg/utils"
)

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("RequestID", id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

func requestLogger(logger *utils.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		if status >= http.StatusInternalServerError {
			logger.Error("%s %s -> %d (%s) [%s]", c.Request.Method, c.Request.URL.Path, status, latency, c.GetString("RequestID"))
			return
		}
		logger.Debug("%s %s -> %d (%s) [%s]", c.Request.Method, c.Request.URL.Path, status, latency, c.GetString("RequestID"))
	}
}

// tokenAuth требует Bearer-токен, если он задан
func tokenAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Response{Success: false, Error: "unauthorized"})
			return
		}
		c.Next()
	}
}
