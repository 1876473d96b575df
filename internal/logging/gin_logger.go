package logging

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

var apiPathPrefixes = []string{
	"/v1/chat/completions",
	"/v1/messages",
	"/v1beta/models/",
}

// GinLogger logs each HTTP request through logrus. Chat-API paths get a
// request ID threaded into the request context so downstream log lines
// correlate.
func GinLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		var requestID string
		if isAPIPath(path) {
			requestID = GenerateRequestID()
			SetGinRequestID(c, requestID)
			c.Request = c.Request.WithContext(WithRequestID(c.Request.Context(), requestID))
		}

		c.Next()

		latency := time.Since(start)
		if latency > time.Minute {
			latency = latency.Truncate(time.Second)
		} else {
			latency = latency.Truncate(time.Millisecond)
		}

		if requestID == "" {
			requestID = "--------"
		}
		entry := log.WithField("request_id", requestID)
		line := fmt.Sprintf("%3d | %13v | %15s | %-7s %q",
			c.Writer.Status(), latency, c.ClientIP(), c.Request.Method, path)
		if errs := c.Errors.ByType(gin.ErrorTypePrivate).String(); errs != "" {
			line += " | " + strings.TrimSpace(errs)
		}

		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.Error(line)
		case c.Writer.Status() >= http.StatusBadRequest:
			entry.Warn(line)
		default:
			entry.Info(line)
		}
	}
}

// GinRecovery recovers panics in handlers, logs the stack, and answers 500
// unless the response is already committed.
func GinRecovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("panic recovered: %v\n%s", r, debug.Stack())
				if !c.Writer.Written() {
					c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
						"error": gin.H{"message": "internal server error", "type": "server_error"},
					})
				} else {
					c.Abort()
				}
			}
		}()
		c.Next()
	}
}

func isAPIPath(path string) bool {
	for _, prefix := range apiPathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	// Forced-credential variant: /{credential}/v1/chat/completions
	if idx := strings.Index(path[1:], "/v1/"); idx > 0 {
		return true
	}
	return false
}
