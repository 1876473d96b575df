// Package middleware implements the API-key gate for the chat surface and
// the session check for the management panel.
package middleware

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yusnake/antigravity2api/internal/panel"
)

// apiPathPattern matches every path the API key protects, including the
// forced-credential prefix form.
var apiPathPattern = regexp.MustCompile(`^/(?:[\w-]+/)?v1/`)

// apiKeyHeaders are the alternative header names the key is accepted from,
// checked after Authorization.
var apiKeyHeaders = []string{"x-api-key", "api-key", "x-api_key", "api_key"}

// APIKeyGate enforces the shared API key on chat-surface paths. Missing
// configuration answers 503; a mismatch answers 401. Other paths pass.
func APIKeyGate(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !apiPathPattern.MatchString(c.Request.URL.Path) && !strings.HasPrefix(c.Request.URL.Path, "/v1beta/") {
			c.Next()
			return
		}
		if strings.TrimSpace(apiKey) == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": gin.H{"message": "API key is not configured", "type": "server_error"},
			})
			return
		}
		if extractAPIKey(c) != apiKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "invalid API key", "type": "authentication_error", "code": "invalid_api_key"},
			})
			return
		}
		c.Next()
	}
}

// extractAPIKey accepts `Authorization: Bearer …`, a bare Authorization
// value, or any of the x-api-key family, case-insensitively.
func extractAPIKey(c *gin.Context) string {
	if auth := strings.TrimSpace(c.GetHeader("Authorization")); auth != "" {
		if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			return strings.TrimSpace(auth[len("bearer "):])
		}
		return auth
	}
	for _, name := range apiKeyHeaders {
		if value := strings.TrimSpace(c.GetHeader(name)); value != "" {
			return value
		}
	}
	return ""
}

const panelCookieName = "panel_session"

// PanelGate requires a live panel session token, taken from the session
// cookie or a Bearer Authorization header.
func PanelGate(sessions *panel.Sessions) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !RequirePanelSession(c, sessions) {
			return
		}
		c.Next()
	}
}

// RequirePanelSession validates the panel session on a request. On failure
// it writes the 401 response and aborts; callers outside a middleware chain
// use it directly.
func RequirePanelSession(c *gin.Context, sessions *panel.Sessions) bool {
	token := ""
	if cookie, err := c.Cookie(panelCookieName); err == nil {
		token = cookie
	}
	if token == "" {
		auth := strings.TrimSpace(c.GetHeader("Authorization"))
		if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			token = strings.TrimSpace(auth[len("bearer "):])
		}
	}
	if !sessions.Valid(token) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": gin.H{"message": "panel session required", "type": "authentication_error"},
		})
		return false
	}
	return true
}

// PanelCookieName exposes the cookie name for the login handler.
func PanelCookieName() string { return panelCookieName }
