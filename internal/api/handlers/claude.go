package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tiktoken-go/tokenizer"

	"github.com/yusnake/antigravity2api/internal/gateway"
	"github.com/yusnake/antigravity2api/internal/stream"
	"github.com/yusnake/antigravity2api/internal/translator"
)

// ClaudeHandlers serves the Anthropic-compatible messages surface.
type ClaudeHandlers struct {
	orch *gateway.Orchestrator
}

// NewClaudeHandlers creates the Anthropic surface handlers.
func NewClaudeHandlers(orch *gateway.Orchestrator) *ClaudeHandlers {
	return &ClaudeHandlers{orch: orch}
}

// Messages handles POST /v1/messages.
func (h *ClaudeHandlers) Messages(c *gin.Context) {
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

	req, errTranslate := h.orch.Adapter().FromClaudeMessages(model, body)
	if errTranslate != nil {
		writeError(c, http.StatusBadRequest, errTranslate.Error())
		return
	}

	info := snapshotRequest(c, model, body)

	if root.Get("stream").Bool() {
		sink := stream.NewClaudeSink(c, model)
		if err := h.orch.Stream(c.Request.Context(), info, req, "", sink); err != nil && !sink.Committed() {
			writeOrchestrationError(c, err)
		}
		return
	}

	upstreamBody, err := h.orch.NonStream(c.Request.Context(), info, req, "")
	if err != nil {
		writeOrchestrationError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", translator.UpstreamToClaudeResponse(model, upstreamBody))
}

// CountTokens handles POST /v1/messages/count_tokens. The upstream counter
// is asked first; a local tokenizer estimate covers upstream failures.
func (h *ClaudeHandlers) CountTokens(c *gin.Context) {
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

	req, errTranslate := h.orch.Adapter().FromClaudeMessages(model, body)
	if errTranslate != nil {
		writeError(c, http.StatusBadRequest, errTranslate.Error())
		return
	}

	if view, errAcquire := h.orch.Acquire(c.Request.Context(), ""); errAcquire == nil {
		if count, errCount := h.orch.Client().CountTokens(c.Request.Context(), view, req); errCount == nil {
			c.JSON(http.StatusOK, gin.H{"input_tokens": count})
			return
		} else {
			log.Debugf("count_tokens: upstream counter failed, falling back to local estimate: %v", errCount)
		}
	}

	c.JSON(http.StatusOK, gin.H{"input_tokens": estimateTokens(body)})
}

// estimateTokens runs the local BPE over every message text in the body.
func estimateTokens(body []byte) int64 {
	enc, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return int64(len(body) / 4)
	}

	var segments []string
	gjson.GetBytes(body, "messages").ForEach(func(_, message gjson.Result) bool {
		content := message.Get("content")
		if content.Type == gjson.String {
			segments = append(segments, content.String())
			return true
		}
		content.ForEach(func(_, block gjson.Result) bool {
			if text := block.Get("text"); text.Exists() {
				segments = append(segments, text.String())
			}
			return true
		})
		return true
	})
	if system := gjson.GetBytes(body, "system"); system.Type == gjson.String {
		segments = append(segments, system.String())
	}

	count, errCount := enc.Count(strings.Join(segments, "\n"))
	if errCount != nil {
		return int64(len(body) / 4)
	}
	return int64(count)
}
