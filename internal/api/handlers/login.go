package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yusnake/antigravity2api/internal/api/middleware"
	"github.com/yusnake/antigravity2api/internal/panel"
)

// LoginHandler issues panel sessions.
type LoginHandler struct {
	sessions *panel.Sessions
	user     string
	password string
}

// NewLoginHandler creates the panel login handler.
func NewLoginHandler(sessions *panel.Sessions, user, password string) *LoginHandler {
	return &LoginHandler{sessions: sessions, user: user, password: password}
}

// Login handles POST /auth/login.
func (h *LoginHandler) Login(c *gin.Context) {
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeError(c, http.StatusBadRequest, "expected body {\"username\", \"password\"}")
		return
	}
	userOK := subtle.ConstantTimeCompare([]byte(payload.Username), []byte(h.user)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(payload.Password), []byte(h.password)) == 1
	if !userOK || !passOK {
		writeError(c, http.StatusUnauthorized, "invalid panel credentials")
		return
	}
	token := h.sessions.Issue()
	c.SetCookie(middleware.PanelCookieName(), token, 24*60*60, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// Logout handles POST /auth/logout.
func (h *LoginHandler) Logout(c *gin.Context) {
	if cookie, err := c.Cookie(middleware.PanelCookieName()); err == nil {
		h.sessions.Revoke(cookie)
	}
	c.SetCookie(middleware.PanelCookieName(), "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
