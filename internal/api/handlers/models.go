package handlers

import (
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/yusnake/antigravity2api/internal/gateway"
)

// fallbackModels is served when no credential can reach the upstream list.
var fallbackModels = []string{
	"gemini-2.5-flash",
	"gemini-2.5-flash-thinking",
	"gemini-2.5-pro",
	"gemini-3-pro-preview",
	"gemini-3-flash-image",
}

// ModelsHandler serves GET /v1/models.
type ModelsHandler struct {
	orch *gateway.Orchestrator
}

// NewModelsHandler creates the model-list handler.
func NewModelsHandler(orch *gateway.Orchestrator) *ModelsHandler {
	return &ModelsHandler{orch: orch}
}

// List proxies the upstream model catalogue into the OpenAI list shape,
// falling back to a static list when the upstream is unreachable.
func (h *ModelsHandler) List(c *gin.Context) {
	names := append([]string(nil), fallbackModels...)

	if view, errAcquire := h.orch.Acquire(c.Request.Context(), ""); errAcquire == nil {
		if body, errFetch := h.orch.Client().FetchModels(c.Request.Context(), view); errFetch == nil {
			if upstreamNames := parseUpstreamModels(body); len(upstreamNames) > 0 {
				names = upstreamNames
			}
		} else {
			log.Debugf("models: upstream fetch failed, serving fallback list: %v", errFetch)
		}
	}

	created := time.Now().Unix()
	data := make([]gin.H, 0, len(names))
	for _, name := range names {
		data = append(data, gin.H{
			"id":       name,
			"object":   "model",
			"created":  created,
			"owned_by": "antigravity",
		})
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}

func parseUpstreamModels(body []byte) []string {
	models := gjson.GetBytes(body, "models")
	if !models.Exists() {
		return nil
	}
	var names []string
	models.ForEach(func(key, _ gjson.Result) bool {
		if name := key.String(); name != "" {
			names = append(names, name)
		}
		return true
	})
	sort.Strings(names)
	return names
}
