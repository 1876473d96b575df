package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/yusnake/antigravity2api/internal/gateway"
	"github.com/yusnake/antigravity2api/internal/translator"
)

// GeminiHandlers serves the native generateContent surface.
type GeminiHandlers struct {
	orch *gateway.Orchestrator
}

// NewGeminiHandlers creates the Gemini surface handlers.
func NewGeminiHandlers(orch *gateway.Orchestrator) *GeminiHandlers {
	return &GeminiHandlers{orch: orch}
}

// GenerateContent handles POST /v1beta/models/{model}:generateContent. The
// path parameter carries both the model and the action separated by a
// colon. Streaming requests on this surface are rejected with 400.
func (h *GeminiHandlers) GenerateContent(c *gin.Context) {
	modelAction := strings.TrimPrefix(c.Param("modelAction"), "/")
	model, action, found := strings.Cut(modelAction, ":")
	if !found || model == "" {
		writeError(c, http.StatusBadRequest, "expected path /v1beta/models/{model}:generateContent")
		return
	}
	switch action {
	case "generateContent":
	case "streamGenerateContent":
		writeError(c, http.StatusBadRequest, "streaming is not supported on the Gemini surface")
		return
	default:
		writeError(c, http.StatusBadRequest, "unsupported action: "+action)
		return
	}

	body, ok := readBody(c)
	if !ok {
		return
	}
	if !gjson.ParseBytes(body).Get("contents").IsArray() {
		writeError(c, http.StatusBadRequest, "request missing contents array")
		return
	}

	req, errTranslate := h.orch.Adapter().FromGemini(model, body)
	if errTranslate != nil {
		writeError(c, http.StatusBadRequest, errTranslate.Error())
		return
	}

	info := snapshotRequest(c, model, body)
	upstreamBody, err := h.orch.NonStream(c.Request.Context(), info, req, "")
	if err != nil {
		writeOrchestrationError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", translator.UpstreamToGemini(upstreamBody))
}
