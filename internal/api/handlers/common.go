// Package handlers implements the HTTP surface of the gateway: the three
// chat dialects, the model list, and the panel's credential and log
// administration.
package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yusnake/antigravity2api/internal/gateway"
)

// maxRequestBody bounds inbound chat bodies (32 MiB; inline images are
// large).
const maxRequestBody = 32 << 20

// readBody drains the request body with the size cap applied.
func readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRequestBody))
	if err != nil {
		writeError(c, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	return body, true
}

// writeError emits the standard {error:{message,type}} JSON body.
func writeError(c *gin.Context, status int, message string) {
	errType := "invalid_request_error"
	if status >= http.StatusInternalServerError {
		errType = "server_error"
	} else if status == http.StatusUnauthorized || status == http.StatusForbidden {
		errType = "authentication_error"
	} else if status == http.StatusTooManyRequests {
		errType = "rate_limit_error"
	}
	c.JSON(status, gin.H{"error": gin.H{"message": message, "type": errType}})
}

// writeOrchestrationError maps an orchestration failure onto the client.
func writeOrchestrationError(c *gin.Context, err error) {
	status := gateway.HTTPStatus(err)
	if status == 499 {
		// Client went away; nothing to write.
		c.Abort()
		return
	}
	writeError(c, status, err.Error())
}

// snapshotRequest builds the log snapshot for a request. Header values are
// flattened; the store redacts the sensitive ones.
func snapshotRequest(c *gin.Context, model string, body []byte) gateway.RequestInfo {
	headers := make(map[string]string, len(c.Request.Header))
	for name, values := range c.Request.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}
	return gateway.RequestInfo{
		Method:  c.Request.Method,
		Path:    c.Request.URL.Path,
		Headers: headers,
		Body:    body,
		Model:   model,
	}
}
