package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/yusnake/antigravity2api/internal/auth/antigravity"
	"github.com/yusnake/antigravity2api/internal/credential"
)

// AccountHandlers serves the panel's credential administration routes.
type AccountHandlers struct {
	store *credential.Store
	oauth *antigravity.Service
}

// NewAccountHandlers creates the account administration handlers.
func NewAccountHandlers(store *credential.Store, oauth *antigravity.Service) *AccountHandlers {
	return &AccountHandlers{store: store, oauth: oauth}
}

// accountView is the secret-free projection returned to the panel.
type accountView struct {
	Index     int    `json:"index"`
	Email     string `json:"email,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
	Enabled   bool   `json:"enabled"`
	CreatedAt int64  `json:"created_at,omitempty"`
	Fresh     bool   `json:"fresh"`
}

// List handles GET /auth/accounts.
func (h *AccountHandlers) List(c *gin.Context) {
	records := h.store.Enumerate()
	now := time.Now()
	views := make([]accountView, 0, len(records))
	for i, record := range records {
		views = append(views, accountView{
			Index:     i,
			Email:     record.Email,
			ProjectID: record.ProjectID,
			Enabled:   record.Enabled,
			CreatedAt: record.CreatedAt,
			Fresh:     record.FreshEnough(now),
		})
	}
	c.JSON(http.StatusOK, gin.H{"accounts": views, "total": len(views)})
}

// ImportTOML handles POST /auth/accounts/import-toml. Merge options arrive
// as query parameters; the body is the TOML document.
func (h *AccountHandlers) ImportTOML(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	records, disabled, errParse := credential.ParseTOML(body)
	if errParse != nil {
		writeError(c, http.StatusBadRequest, errParse.Error())
		return
	}
	opts := credential.ImportOptions{
		ReplaceExisting: queryBool(c, "replace_existing"),
		FilterDisabled:  queryBool(c, "filter_disabled"),
	}
	result, errImport := h.store.Import(records, disabled, opts)
	if errImport != nil {
		writeError(c, http.StatusInternalServerError, errImport.Error())
		return
	}
	c.JSON(http.StatusOK, result)
}

// Refresh handles POST /auth/accounts/{i}/refresh. A terminal refresh
// failure disables the slot.
func (h *AccountHandlers) Refresh(c *gin.Context) {
	index, ok := pathIndex(c)
	if !ok {
		return
	}
	record, errGet := h.store.Get(index)
	if errGet != nil {
		writeError(c, http.StatusNotFound, "account not found")
		return
	}

	token, errRefresh := h.oauth.Refresh(c.Request.Context(), record.RefreshToken)
	if errRefresh != nil {
		if antigravity.IsTerminalRefreshError(errRefresh) {
			if errDisable := h.store.SetEnabled(index, false); errDisable != nil {
				log.Errorf("accounts: persist disable failed: %v", errDisable)
			}
		}
		writeError(c, http.StatusBadGateway, errRefresh.Error())
		return
	}

	issuedAt := time.Now()
	if errUpdate := h.store.Update(index, func(r *credential.Record) bool {
		r.ApplyToken(token.AccessToken, token.ExpiresIn, issuedAt)
		if token.RefreshToken != "" {
			r.RefreshToken = token.RefreshToken
		}
		return true
	}); errUpdate != nil {
		writeError(c, http.StatusInternalServerError, errUpdate.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"refreshed": true})
}

// RefreshAll handles POST /auth/accounts/refresh-all, best-effort.
func (h *AccountHandlers) RefreshAll(c *gin.Context) {
	records := h.store.Enumerate()
	refreshed, failed := 0, 0
	for index, record := range records {
		if !record.Enabled {
			continue
		}
		token, errRefresh := h.oauth.Refresh(c.Request.Context(), record.RefreshToken)
		if errRefresh != nil {
			failed++
			log.Warnf("accounts: refresh-all slot %d failed: %v", index, errRefresh)
			if antigravity.IsTerminalRefreshError(errRefresh) {
				if errDisable := h.store.SetEnabled(index, false); errDisable != nil {
					log.Errorf("accounts: persist disable failed: %v", errDisable)
				}
			}
			continue
		}
		issuedAt := time.Now()
		if errUpdate := h.store.Update(index, func(r *credential.Record) bool {
			r.ApplyToken(token.AccessToken, token.ExpiresIn, issuedAt)
			if token.RefreshToken != "" {
				r.RefreshToken = token.RefreshToken
			}
			return true
		}); errUpdate != nil {
			failed++
			continue
		}
		refreshed++
	}
	c.JSON(http.StatusOK, gin.H{"refreshed": refreshed, "failed": failed})
}

// SetEnabled handles POST /auth/accounts/{i}/enable with {"enable": bool}.
func (h *AccountHandlers) SetEnabled(c *gin.Context) {
	index, ok := pathIndex(c)
	if !ok {
		return
	}
	var payload struct {
		Enable bool `json:"enable"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeError(c, http.StatusBadRequest, "expected body {\"enable\": bool}")
		return
	}
	if err := h.store.SetEnabled(index, payload.Enable); err != nil {
		writeError(c, http.StatusNotFound, "account not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": payload.Enable})
}

// Delete handles DELETE /auth/accounts/{i}.
func (h *AccountHandlers) Delete(c *gin.Context) {
	index, ok := pathIndex(c)
	if !ok {
		return
	}
	if err := h.store.RemoveAt(index); err != nil {
		writeError(c, http.StatusNotFound, "account not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// DeleteDisabled handles POST /auth/accounts/delete-disabled.
func (h *AccountHandlers) DeleteDisabled(c *gin.Context) {
	removed, err := h.store.RemoveDisabled()
	if err != nil {
		writeError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// RefreshProjectID handles POST /auth/accounts/{i}/refresh-project-id.
func (h *AccountHandlers) RefreshProjectID(c *gin.Context) {
	index, ok := pathIndex(c)
	if !ok {
		return
	}
	record, errGet := h.store.Get(index)
	if errGet != nil {
		writeError(c, http.StatusNotFound, "account not found")
		return
	}

	accessToken := record.AccessToken
	if !record.FreshEnough(time.Now()) {
		token, errRefresh := h.oauth.Refresh(c.Request.Context(), record.RefreshToken)
		if errRefresh != nil {
			writeError(c, http.StatusBadGateway, errRefresh.Error())
			return
		}
		accessToken = token.AccessToken
		issuedAt := time.Now()
		if errUpdate := h.store.Update(index, func(r *credential.Record) bool {
			r.ApplyToken(token.AccessToken, token.ExpiresIn, issuedAt)
			return true
		}); errUpdate != nil {
			log.Errorf("accounts: persist refresh failed: %v", errUpdate)
		}
	}

	projectID, errResolve := h.oauth.ResolveProjectID(c.Request.Context(), accessToken, queryBool(c, "allow_random"))
	if errResolve != nil {
		writeError(c, http.StatusBadRequest, errResolve.Error())
		return
	}
	if errUpdate := h.store.Update(index, func(r *credential.Record) bool {
		if r.ProjectID == projectID {
			return false
		}
		r.ProjectID = projectID
		return true
	}); errUpdate != nil {
		writeError(c, http.StatusInternalServerError, errUpdate.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"project_id": projectID})
}

// OAuthURL handles GET /auth/oauth/url.
func (h *AccountHandlers) OAuthURL(c *gin.Context) {
	redirectURI := c.Query("redirect_uri")
	state := c.Query("state")
	if state == "" {
		state = strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	c.JSON(http.StatusOK, gin.H{"url": h.oauth.BuildAuthURL(redirectURI, state), "state": state})
}

// ParseOAuthURL handles POST /auth/oauth/parse-url: exchange the pasted
// callback, resolve identity and project, and append the credential.
func (h *AccountHandlers) ParseOAuthURL(c *gin.Context) {
	var payload struct {
		URL         string `json:"url"`
		RedirectURI string `json:"redirect_uri"`
		AllowRandom bool   `json:"allow_random"`
		// Index re-authorizes an existing slot in place.
		Index *int `json:"index"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil || strings.TrimSpace(payload.URL) == "" {
		writeError(c, http.StatusBadRequest, "expected body {\"url\": \"...\"}")
		return
	}

	code, _, errParse := h.oauth.ParseCallbackURL(payload.URL)
	if errParse != nil {
		writeError(c, http.StatusBadRequest, errParse.Error())
		return
	}
	token, errExchange := h.oauth.ExchangeCode(c.Request.Context(), code, payload.RedirectURI)
	if errExchange != nil {
		writeError(c, http.StatusInternalServerError, errExchange.Error())
		return
	}

	record := credential.Record{
		RefreshToken: token.RefreshToken,
		AccessToken:  token.AccessToken,
		ExpiresIn:    token.ExpiresIn,
		IssuedAt:     time.Now().UnixMilli(),
		Enabled:      true,
	}
	if email, errEmail := h.oauth.FetchUserEmail(c.Request.Context(), token.AccessToken); errEmail == nil {
		record.Email = email
	} else {
		log.Debugf("accounts: fetch email failed: %v", errEmail)
	}

	projectID, errResolve := h.oauth.ResolveProjectID(c.Request.Context(), token.AccessToken, payload.AllowRandom)
	if errResolve != nil {
		writeError(c, http.StatusBadRequest, errResolve.Error())
		return
	}
	record.ProjectID = projectID

	if payload.Index != nil {
		if errReplace := h.store.ReplaceAt(*payload.Index, record); errReplace != nil {
			writeError(c, http.StatusNotFound, "account not found")
			return
		}
	} else {
		// Import keeps the at-most-one-record-per-refresh-token invariant
		// when an account is re-authorized without a slot.
		if _, errImport := h.store.Import([]credential.Record{record}, nil, credential.ImportOptions{}); errImport != nil {
			writeError(c, http.StatusInternalServerError, errImport.Error())
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"email": record.Email, "project_id": projectID})
}

func pathIndex(c *gin.Context) (int, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		writeError(c, http.StatusBadRequest, "invalid account index")
		return 0, false
	}
	return index, true
}

func queryBool(c *gin.Context, key string) bool {
	value, err := strconv.ParseBool(c.DefaultQuery(key, "false"))
	return err == nil && value
}
