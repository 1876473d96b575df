// Package api wires the HTTP routes onto a gin engine.
package api

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yusnake/antigravity2api/internal/api/handlers"
	"github.com/yusnake/antigravity2api/internal/api/middleware"
	"github.com/yusnake/antigravity2api/internal/auth/antigravity"
	"github.com/yusnake/antigravity2api/internal/config"
	"github.com/yusnake/antigravity2api/internal/credential"
	"github.com/yusnake/antigravity2api/internal/gateway"
	"github.com/yusnake/antigravity2api/internal/logging"
	"github.com/yusnake/antigravity2api/internal/panel"
	"github.com/yusnake/antigravity2api/internal/usage"
)

// forcedCredentialPattern matches the per-credential chat route.
var forcedCredentialPattern = regexp.MustCompile(`^/([\w-]+)/v1/chat/completions$`)

// Deps bundles everything the router needs.
type Deps struct {
	Cfg      *config.Config
	Orch     *gateway.Orchestrator
	Store    *credential.Store
	Pool     *credential.Pool
	Logs     *usage.Store
	OAuth    *antigravity.Service
	Sessions *panel.Sessions
}

// NewRouter builds the gin engine with the full route table.
func NewRouter(deps Deps) *gin.Engine {
	engine := gin.New()
	engine.Use(logging.GinRecovery(), logging.GinLogger())
	engine.Use(middleware.APIKeyGate(deps.Cfg.APIKey))

	chat := handlers.NewChatHandlers(deps.Orch)
	claude := handlers.NewClaudeHandlers(deps.Orch)
	geminiHandlers := handlers.NewGeminiHandlers(deps.Orch)
	models := handlers.NewModelsHandler(deps.Orch)
	accounts := handlers.NewAccountHandlers(deps.Store, deps.OAuth)
	logs := handlers.NewLogHandlers(deps.Logs, deps.Pool)
	login := handlers.NewLoginHandler(deps.Sessions, deps.Cfg.PanelUser, deps.Cfg.PanelPassword)

	panelGate := middleware.PanelGate(deps.Sessions)

	// The accounts and logs subtrees mix static verbs with positional
	// indexes, which gin's routing tree cannot host side by side, so they
	// dispatch from a middleware before the router runs.
	engine.Use(panelSubtreeDispatch(deps.Sessions, accounts, logs))

	// Chat surface.
	engine.POST("/v1/chat/completions", chat.Completions)
	engine.POST("/v1/messages", claude.Messages)
	engine.POST("/v1/messages/count_tokens", claude.CountTokens)
	engine.GET("/v1/models", models.List)
	engine.POST("/v1beta/models/*modelAction", geminiHandlers.GenerateContent)

	// Forced-credential variant: /{credential}/v1/chat/completions. The
	// leading wildcard segment cannot live next to the static /v1 routes,
	// so it dispatches from NoRoute.
	engine.NoRoute(func(c *gin.Context) {
		if c.Request.Method == http.MethodPost {
			if m := forcedCredentialPattern.FindStringSubmatch(c.Request.URL.Path); m != nil {
				c.Params = append(c.Params, gin.Param{Key: "credential", Value: m[1]})
				chat.Completions(c)
				return
			}
		}
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"message": "not found", "type": "invalid_request_error"}})
	})

	// Panel session issuance.
	engine.POST("/auth/login", login.Login)
	engine.POST("/auth/logout", login.Logout)

	oauthGroup := engine.Group("/auth/oauth", panelGate)
	oauthGroup.GET("/url", accounts.OAuthURL)
	oauthGroup.POST("/parse-url", accounts.ParseOAuthURL)

	engine.POST("/admin/quota", panelGate, logs.SetQuota)

	if deps.Cfg.ImageStore == config.ImageStoreLocal {
		engine.Static("/images", deps.Cfg.ImageDir)
	}

	return engine
}

// panelSubtreeDispatch routes /auth/accounts* and /admin/logs* by hand:
// session gate first, then method plus trailing path.
func panelSubtreeDispatch(sessions *panel.Sessions, accounts *handlers.AccountHandlers, logs *handlers.LogHandlers) gin.HandlerFunc {
	const accountsPrefix = "/auth/accounts"
	const logsPrefix = "/admin/logs"

	return func(c *gin.Context) {
		path := c.Request.URL.Path

		var dispatch func(*gin.Context, string) bool
		var action string
		switch {
		case path == accountsPrefix || strings.HasPrefix(path, accountsPrefix+"/"):
			dispatch = func(c *gin.Context, action string) bool { return dispatchAccounts(c, accounts, action) }
			action = strings.Trim(strings.TrimPrefix(path, accountsPrefix), "/")
		case path == logsPrefix || strings.HasPrefix(path, logsPrefix+"/"):
			dispatch = func(c *gin.Context, action string) bool { return dispatchLogs(c, logs, action) }
			action = strings.Trim(strings.TrimPrefix(path, logsPrefix), "/")
		default:
			c.Next()
			return
		}

		if !middleware.RequirePanelSession(c, sessions) {
			return
		}
		if !dispatch(c, action) {
			c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"message": "not found", "type": "invalid_request_error"}})
		}
		c.Abort()
	}
}

// dispatchAccounts routes /auth/accounts/* by method and trailing path.
func dispatchAccounts(c *gin.Context, h *handlers.AccountHandlers, action string) bool {
	method := c.Request.Method
	switch {
	case action == "" && method == http.MethodGet:
		h.List(c)
	case action == "import-toml" && method == http.MethodPost:
		h.ImportTOML(c)
	case action == "refresh-all" && method == http.MethodPost:
		h.RefreshAll(c)
	case action == "delete-disabled" && method == http.MethodPost:
		h.DeleteDisabled(c)
	default:
		index, rest, _ := strings.Cut(action, "/")
		setParam(c, "index", index)
		switch {
		case rest == "" && method == http.MethodDelete:
			h.Delete(c)
		case rest == "refresh" && method == http.MethodPost:
			h.Refresh(c)
		case rest == "enable" && method == http.MethodPost:
			h.SetEnabled(c)
		case rest == "refresh-project-id" && method == http.MethodPost:
			h.RefreshProjectID(c)
		default:
			return false
		}
	}
	return true
}

// dispatchLogs routes /admin/logs/* by method and trailing path.
func dispatchLogs(c *gin.Context, h *handlers.LogHandlers, action string) bool {
	method := c.Request.Method
	switch {
	case action == "" && method == http.MethodGet:
		h.List(c)
	case action == "usage" && method == http.MethodGet:
		h.Usage(c)
	case action == "clear" && method == http.MethodPost:
		h.Clear(c)
	case method == http.MethodGet && !strings.Contains(action, "/"):
		setParam(c, "id", action)
		h.Detail(c)
	default:
		return false
	}
	return true
}

func setParam(c *gin.Context, key, value string) {
	c.Params = append(c.Params, gin.Param{Key: key, Value: value})
}
