package translator

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/yusnake/antigravity2api/internal/signature"
)

// Request is the translated upstream payload plus the routing facts the
// executor needs.
type Request struct {
	Model      string
	Body       []byte
	ImageModel bool
	Thinking   bool
}

// Adapter owns the dialect translation and the thought-signature maps.
type Adapter struct {
	signatures *signature.Cache
	defaults   Defaults
}

// NewAdapter creates an adapter backed by the given signature cache.
func NewAdapter(signatures *signature.Cache, defaults Defaults) *Adapter {
	return &Adapter{signatures: signatures, defaults: defaults}
}

// FromOpenAIChat translates an OpenAI chat-completions request body into the
// upstream shape.
func (a *Adapter) FromOpenAIChat(model string, body []byte) (*Request, error) {
	root := gjson.ParseBytes(body)
	messages := root.Get("messages")
	if !messages.IsArray() {
		return nil, fmt.Errorf("request missing messages array")
	}

	claude := IsClaude(model)
	hasToolHistory := openAIHasToolHistory(messages)
	thinking := ThinkingEnabled(model)
	if claude && thinking && hasToolHistory {
		// The upstream rejects Claude thinking turns replayed together
		// with tool history.
		thinking = false
	}

	builder := newContentsBuilder(a.signatures, model, claude)
	messages.ForEach(func(_, message gjson.Result) bool {
		builder.addOpenAIMessage(message)
		return true
	})

	out := `{"contents":[]}`
	out, _ = sjson.SetRaw(out, "contents", builder.contentsJSON())

	if IsImageModel(model) {
		out, _ = sjson.Set(out, "systemInstruction.role", "user")
		out, _ = sjson.Set(out, "systemInstruction.parts.0.text", imageSteeringNote)
	}

	out, _ = sjson.SetRaw(out, "generationConfig", buildGenerationConfig(root, model, a.defaults, thinking))

	if tools := root.Get("tools"); tools.IsArray() && len(tools.Array()) > 0 {
		out, _ = sjson.SetRaw(out, "tools", mapOpenAITools(tools))
	}
	if toolConfig := buildToolConfig(root.Get("tool_choice"), claude); toolConfig != "" {
		out, _ = sjson.SetRaw(out, "toolConfig", toolConfig)
	}

	if claude {
		out = stripThoughtSignatures(out)
	}

	return &Request{
		Model:      model,
		Body:       []byte(out),
		ImageModel: IsImageModel(model),
		Thinking:   thinking,
	}, nil
}

// contentsBuilder assembles upstream contents with the turn-merge rules.
type contentsBuilder struct {
	signatures *signature.Cache
	model      string
	claude     bool

	turns        []string
	lastRole     string
	lastKind     string // "toolcalls", "funcresponses", or ""
	toolNameByID map[string]string
}

func newContentsBuilder(signatures *signature.Cache, model string, claude bool) *contentsBuilder {
	return &contentsBuilder{
		signatures:   signatures,
		model:        model,
		claude:       claude,
		toolNameByID: make(map[string]string),
	}
}

func (b *contentsBuilder) contentsJSON() string {
	return "[" + strings.Join(b.turns, ",") + "]"
}

func (b *contentsBuilder) pushTurn(turn, role, kind string) {
	b.turns = append(b.turns, turn)
	b.lastRole = role
	b.lastKind = kind
}

func (b *contentsBuilder) appendPartToLast(part string) {
	last := b.turns[len(b.turns)-1]
	last, _ = sjson.SetRaw(last, "parts.-1", part)
	b.turns[len(b.turns)-1] = last
}

func (b *contentsBuilder) addOpenAIMessage(message gjson.Result) {
	role := message.Get("role").String()
	switch role {
	case "system", "user":
		b.addUserTurn(message.Get("content"))
	case "assistant":
		b.addAssistantTurn(message)
	case "tool":
		b.addToolResponse(message)
	}
}

// addUserTurn maps system and user messages to a user turn of text and
// inline-data parts.
func (b *contentsBuilder) addUserTurn(content gjson.Result) {
	turn := `{"role":"user","parts":[]}`
	count := 0

	appendText := func(text string) {
		part, _ := sjson.Set(`{}`, "text", text)
		turn, _ = sjson.SetRaw(turn, "parts.-1", part)
		count++
	}

	switch {
	case content.Type == gjson.String:
		appendText(content.String())
	case content.IsArray():
		content.ForEach(func(_, part gjson.Result) bool {
			switch part.Get("type").String() {
			case "text":
				appendText(part.Get("text").String())
			case "image_url":
				if inline := dataURIToInlineData(part.Get("image_url.url").String()); inline != "" {
					turn, _ = sjson.SetRaw(turn, "parts.-1", inline)
					count++
				}
			}
			return true
		})
	}

	if count == 0 {
		return
	}
	b.pushTurn(turn, "user", "")
}

func (b *contentsBuilder) addAssistantTurn(message gjson.Result) {
	content := message.Get("content")
	toolCalls := message.Get("tool_calls")
	text := assistantText(content)

	hasText := strings.TrimSpace(text) != ""
	hasToolCalls := toolCalls.IsArray() && len(toolCalls.Array()) > 0

	// Tool-call-only assistant turns extend a prior tool-call model turn
	// instead of opening a new one.
	mergeToolCalls := hasToolCalls && !hasText && b.lastRole == "model" && b.lastKind == "toolcalls"

	var parts []string
	if hasText {
		if part, ok := b.assistantTextPart(text); ok {
			parts = append(parts, part)
		}
	}
	if hasToolCalls {
		toolCalls.ForEach(func(_, toolCall gjson.Result) bool {
			if part := b.functionCallPart(toolCall); part != "" {
				parts = append(parts, part)
			}
			return true
		})
	}
	if len(parts) == 0 {
		return
	}

	if mergeToolCalls {
		for _, part := range parts {
			b.appendPartToLast(part)
		}
		return
	}

	turn := `{"role":"model","parts":[]}`
	for _, part := range parts {
		turn, _ = sjson.SetRaw(turn, "parts.-1", part)
	}
	kind := ""
	if hasToolCalls && !hasText {
		kind = "toolcalls"
	}
	b.pushTurn(turn, "model", kind)
}

// assistantTextPart builds a model text part, honoring the signature
// continuity protocol for gemini-3 models.
func (b *contentsBuilder) assistantTextPart(text string) (string, bool) {
	if !IsGemini3(b.model) {
		part, _ := sjson.Set(`{}`, "text", text)
		return part, true
	}

	sig, originalText, ok := b.signatures.TextSignature(text)
	if !ok {
		log.Warnf("translator: no thought signature for assistant text, dropping part (model %s)", b.model)
		return "", false
	}
	replay := text
	if originalText != "" {
		replay = originalText
	}
	part, _ := sjson.Set(`{}`, "text", replay)
	part, _ = sjson.Set(part, "thoughtSignature", sig)
	return part, true
}

func (b *contentsBuilder) functionCallPart(toolCall gjson.Result) string {
	if kind := toolCall.Get("type").String(); kind != "" && kind != "function" {
		return ""
	}
	id := toolCall.Get("id").String()
	name := toolCall.Get("function.name").String()
	if name == "" {
		return ""
	}
	if id != "" {
		b.toolNameByID[id] = name
	}

	part := `{"functionCall":{}}`
	if id != "" {
		part, _ = sjson.Set(part, "functionCall.id", id)
	}
	part, _ = sjson.Set(part, "functionCall.name", name)

	args := toolCall.Get("function.arguments").String()
	if args != "" && gjson.Valid(args) && gjson.Parse(args).IsObject() {
		part, _ = sjson.SetRaw(part, "functionCall.args", args)
	} else {
		part, _ = sjson.SetRaw(part, "functionCall.args", "{}")
	}

	if id != "" {
		if sig := b.signatures.ToolCallSignature(id); sig != "" {
			part, _ = sjson.Set(part, "thoughtSignature", sig)
		}
	}
	return part
}

// addToolResponse appends a functionResponse part, merging consecutive tool
// results into the prior user turn.
func (b *contentsBuilder) addToolResponse(message gjson.Result) {
	toolCallID := message.Get("tool_call_id").String()
	name := b.lookupToolName(toolCallID)
	content := extractToolContent(message.Get("content"))

	part := `{"functionResponse":{}}`
	if toolCallID != "" {
		part, _ = sjson.Set(part, "functionResponse.id", toolCallID)
	}
	part, _ = sjson.Set(part, "functionResponse.name", name)
	part, _ = sjson.Set(part, "functionResponse.response.content", content)

	if b.lastRole == "user" && b.lastKind == "funcresponses" {
		b.appendPartToLast(part)
		return
	}
	turn := `{"role":"user","parts":[]}`
	turn, _ = sjson.SetRaw(turn, "parts.-1", part)
	b.pushTurn(turn, "user", "funcresponses")
}

// lookupToolName resolves the function name paired with a tool-call id by
// scanning the model turns emitted so far.
func (b *contentsBuilder) lookupToolName(toolCallID string) string {
	if name, ok := b.toolNameByID[toolCallID]; ok {
		return name
	}
	for i := len(b.turns) - 1; i >= 0; i-- {
		turn := gjson.Parse(b.turns[i])
		if turn.Get("role").String() != "model" {
			continue
		}
		name := ""
		turn.Get("parts").ForEach(func(_, part gjson.Result) bool {
			call := part.Get("functionCall")
			if call.Exists() && call.Get("id").String() == toolCallID {
				name = call.Get("name").String()
				return false
			}
			return true
		})
		if name != "" {
			return name
		}
	}
	return "unknown_function"
}

// extractToolContent normalizes tool output: strings pass through, objects
// yield their text field, arrays yield the first text element, anything else
// is JSON-stringified.
func extractToolContent(content gjson.Result) string {
	switch {
	case content.Type == gjson.String:
		return content.String()
	case content.IsObject():
		if text := content.Get("text"); text.Exists() {
			return text.String()
		}
		return content.Raw
	case content.IsArray():
		for _, item := range content.Array() {
			if item.Get("type").String() == "text" {
				return item.Get("text").String()
			}
		}
		return content.Raw
	case !content.Exists():
		return ""
	default:
		return content.Raw
	}
}

func assistantText(content gjson.Result) string {
	switch {
	case content.Type == gjson.String:
		return content.String()
	case content.IsArray():
		var builder strings.Builder
		content.ForEach(func(_, part gjson.Result) bool {
			if part.Get("type").String() == "text" {
				builder.WriteString(part.Get("text").String())
			}
			return true
		})
		return builder.String()
	}
	return ""
}

// dataURIToInlineData decodes data:<mime>;base64,<payload> into an
// inlineData part. Returns "" for anything else.
func dataURIToInlineData(uri string) string {
	if !strings.HasPrefix(uri, "data:") {
		return ""
	}
	segments := strings.SplitN(uri, ",", 2)
	if len(segments) != 2 {
		return ""
	}
	mimeType := strings.TrimPrefix(strings.Split(segments[0], ";")[0], "data:")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	if _, err := base64.StdEncoding.DecodeString(segments[1]); err != nil {
		return ""
	}
	part, _ := sjson.Set(`{"inlineData":{}}`, "inlineData.mimeType", mimeType)
	part, _ = sjson.Set(part, "inlineData.data", segments[1])
	return part
}

// mapOpenAITools wraps the client's function declarations for the upstream,
// cleaning each parameters schema.
func mapOpenAITools(tools gjson.Result) string {
	declarations := `[]`
	tools.ForEach(func(_, tool gjson.Result) bool {
		if kind := tool.Get("type").String(); kind != "" && kind != "function" {
			return true
		}
		function := tool.Get("function")
		decl, _ := sjson.Set(`{}`, "name", function.Get("name").String())
		if desc := function.Get("description"); desc.Exists() {
			decl, _ = sjson.Set(decl, "description", desc.String())
		}
		params := function.Get("parameters")
		if !params.Exists() {
			params = function.Get("parametersJsonSchema")
		}
		if params.Exists() {
			cleaned := CleanToolSchema(json.RawMessage(params.Raw))
			decl, _ = sjson.SetRaw(decl, "parameters", string(cleaned))
		}
		declarations, _ = sjson.SetRaw(declarations, "-1", decl)
		return true
	})
	wrapper, _ := sjson.SetRaw(`[{"functionDeclarations":[]}]`, "0.functionDeclarations", declarations)
	return wrapper
}

func buildToolConfig(toolChoice gjson.Result, claude bool) string {
	mode := ""
	switch {
	case claude:
		mode = "VALIDATED"
	case toolChoice.Type == gjson.String:
		switch toolChoice.String() {
		case "none":
			mode = "NONE"
		case "auto":
			mode = "AUTO"
		case "required":
			mode = "ANY"
		}
	}
	if mode == "" {
		return ""
	}
	out, _ := sjson.Set(`{}`, "functionCallingConfig.mode", mode)
	return out
}

// stripThoughtSignatures removes every thoughtSignature from contents parts.
// The upstream rejects replayed signatures on Claude-family requests.
func stripThoughtSignatures(out string) string {
	contents := gjson.Get(out, "contents")
	if !contents.IsArray() {
		return out
	}
	for ti, turn := range contents.Array() {
		for pi := range turn.Get("parts").Array() {
			path := fmt.Sprintf("contents.%d.parts.%d.thoughtSignature", ti, pi)
			if gjson.Get(out, path).Exists() {
				out, _ = sjson.Delete(out, path)
			}
		}
	}
	return out
}

func openAIHasToolHistory(messages gjson.Result) bool {
	found := false
	messages.ForEach(func(_, message gjson.Result) bool {
		role := message.Get("role").String()
		if role == "tool" {
			found = true
			return false
		}
		if role == "assistant" && message.Get("tool_calls").IsArray() && len(message.Get("tool_calls").Array()) > 0 {
			found = true
			return false
		}
		return true
	})
	return found
}
