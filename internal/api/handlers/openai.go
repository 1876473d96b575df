package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/yusnake/antigravity2api/internal/gateway"
	"github.com/yusnake/antigravity2api/internal/stream"
	"github.com/yusnake/antigravity2api/internal/translator"
)

// ChatHandlers serves the OpenAI-compatible chat surface.
type ChatHandlers struct {
	orch *gateway.Orchestrator
}

// NewChatHandlers creates the OpenAI surface handlers.
func NewChatHandlers(orch *gateway.Orchestrator) *ChatHandlers {
	return &ChatHandlers{orch: orch}
}

// Completions handles POST /v1/chat/completions and the forced-credential
// variant POST /{credential}/v1/chat/completions.
func (h *ChatHandlers) Completions(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	root := gjson.ParseBytes(body)
	model := root.Get("model").String()
	if model == "" {
		writeError(c, http.StatusBadRequest, "model is required")
		return
	}

	req, errTranslate := h.orch.Adapter().FromOpenAIChat(model, body)
	if errTranslate != nil {
		writeError(c, http.StatusBadRequest, errTranslate.Error())
		return
	}

	info := snapshotRequest(c, model, body)
	forcedProjectID := c.Param("credential")

	if root.Get("stream").Bool() {
		sink := stream.NewOpenAISink(c, model)
		if err := h.orch.Stream(c.Request.Context(), info, req, forcedProjectID, sink); err != nil && !sink.Committed() {
			writeOrchestrationError(c, err)
		}
		return
	}

	upstreamBody, err := h.orch.NonStream(c.Request.Context(), info, req, forcedProjectID)
	if err != nil {
		writeOrchestrationError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", translator.UpstreamToOpenAIResponse(model, upstreamBody))
}
