package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yusnake/antigravity2api/internal/credential"
	"github.com/yusnake/antigravity2api/internal/usage"
)

// LogHandlers serves the panel's log and usage routes.
type LogHandlers struct {
	logs *usage.Store
	pool *credential.Pool
}

// NewLogHandlers creates the log administration handlers.
func NewLogHandlers(logs *usage.Store, pool *credential.Pool) *LogHandlers {
	return &LogHandlers{logs: logs, pool: pool}
}

// List handles GET /admin/logs?limit=N.
func (h *LogHandlers) List(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	c.JSON(http.StatusOK, gin.H{"logs": h.logs.RecentLogs(limit)})
}

// Detail handles GET /admin/logs/{id}.
func (h *LogHandlers) Detail(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid log id")
		return
	}
	entry, found := h.logs.GetDetail(id)
	if !found {
		writeError(c, http.StatusNotFound, "log entry not found")
		return
	}
	c.JSON(http.StatusOK, entry)
}

// Clear handles POST /admin/logs/clear.
func (h *LogHandlers) Clear(c *gin.Context) {
	h.logs.Clear()
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

// Usage handles GET /admin/logs/usage?minutes=N: the full-window summary
// plus the trailing-window counts.
func (h *LogHandlers) Usage(c *gin.Context) {
	minutes := 60
	if raw := c.Query("minutes"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			minutes = parsed
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"summary": h.logs.UsageSummary(),
		"window":  h.logs.UsageWithinWindow(time.Duration(minutes) * time.Minute),
		"minutes": minutes,
	})
}

// SetQuota handles POST /admin/quota with {"hourly_limit": N}.
func (h *LogHandlers) SetQuota(c *gin.Context) {
	var payload struct {
		HourlyLimit int `json:"hourly_limit"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil || payload.HourlyLimit < 0 {
		writeError(c, http.StatusBadRequest, "expected body {\"hourly_limit\": N}")
		return
	}
	h.pool.SetHourlyLimit(payload.HourlyLimit)
	c.JSON(http.StatusOK, gin.H{"hourly_limit": payload.HourlyLimit})
}
