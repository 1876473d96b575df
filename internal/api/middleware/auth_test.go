package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yusnake/antigravity2api/internal/panel"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func gateEngine(apiKey string) *gin.Engine {
	engine := gin.New()
	engine.Use(APIKeyGate(apiKey))
	handler := func(c *gin.Context) { c.String(http.StatusOK, "ok") }
	engine.POST("/v1/chat/completions", handler)
	engine.GET("/health", handler)
	engine.NoRoute(handler)
	return engine
}

func TestAPIKeyGateAcceptedHeaders(t *testing.T) {
	engine := gateEngine("sk-secret")

	cases := []struct {
		name   string
		header string
		value  string
	}{
		{"bearer", "Authorization", "Bearer sk-secret"},
		{"bare authorization", "Authorization", "sk-secret"},
		{"x-api-key", "x-api-key", "sk-secret"},
		{"api-key", "api-key", "sk-secret"},
		{"x-api_key", "x-api_key", "sk-secret"},
		{"api_key", "api_key", "sk-secret"},
		{"uppercase header name", "X-API-KEY", "sk-secret"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
		req.Header.Set(tc.header, tc.value)
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("%s: status = %d", tc.name, w.Code)
		}
	}
}

func TestAPIKeyGateRejections(t *testing.T) {
	engine := gateEngine("sk-secret")

	// No key.
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("missing key status = %d", w.Code)
	}

	// Wrong key.
	req = httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req.Header.Set("Authorization", "Bearer sk-wrong")
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong key status = %d", w.Code)
	}
}

func TestAPIKeyGateUnconfigured(t *testing.T) {
	engine := gateEngine("")
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req.Header.Set("Authorization", "Bearer anything")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("unconfigured key status = %d, want 503", w.Code)
	}
}

func TestAPIKeyGatePathScope(t *testing.T) {
	engine := gateEngine("sk-secret")

	// Non-API paths pass without a key.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("non-API path status = %d", w.Code)
	}

	// Forced-credential prefix is protected.
	req = httptest.NewRequest(http.MethodPost, "/proj-abc/v1/chat/completions", nil)
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("forced-credential path without key status = %d, want 401", w.Code)
	}

	// Gemini surface is protected too.
	req = httptest.NewRequest(http.MethodPost, "/v1beta/models/gemini-2.5-flash:generateContent", nil)
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("v1beta path without key status = %d, want 401", w.Code)
	}
}

func TestPanelGate(t *testing.T) {
	sessions := panel.NewSessions()
	engine := gin.New()
	engine.Use(PanelGate(sessions))
	engine.GET("/auth/accounts", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	// No session.
	req := httptest.NewRequest(http.MethodGet, "/auth/accounts", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no session status = %d", w.Code)
	}

	// Valid session via cookie.
	token := sessions.Issue()
	req = httptest.NewRequest(http.MethodGet, "/auth/accounts", nil)
	req.AddCookie(&http.Cookie{Name: PanelCookieName(), Value: token})
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("cookie session status = %d", w.Code)
	}

	// Valid session via bearer.
	req = httptest.NewRequest(http.MethodGet, "/auth/accounts", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("bearer session status = %d", w.Code)
	}
}
