// Package signature keeps the thought-signature continuity maps required by
// chain-of-thought-capable upstream models. Signatures are opaque tokens the
// upstream returns per turn; they must be echoed back when that turn is
// replayed as history. The cache is best-effort: the upstream sometimes
// omits them, and callers must cope with misses.
package signature

import (
	"regexp"
	"strings"
	"sync"
)

var (
	thinkBlockRE    = regexp.MustCompile(`(?s)<think>.*?</think>`)
	markdownImageRE = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
)

// TextEntry pairs a signature with the exact text the upstream emitted.
type TextEntry struct {
	Signature    string
	OriginalText string
}

// Cache holds the two process-wide mappings: tool-call id to signature, and
// normalized emitted text to signature. Unbounded within a process lifetime;
// entries are short and access patterns bounded by client session size.
type Cache struct {
	mu       sync.Mutex
	byToolID map[string]string
	byText   map[string]TextEntry
}

// NewCache creates an empty cache. Tests instantiate fresh copies; the
// server owns one for its lifetime.
func NewCache() *Cache {
	return &Cache{
		byToolID: make(map[string]string),
		byText:   make(map[string]TextEntry),
	}
}

// StoreToolCall remembers the signature for a tool-call id.
func (c *Cache) StoreToolCall(toolCallID, sig string) {
	if toolCallID == "" || sig == "" {
		return
	}
	c.mu.Lock()
	c.byToolID[toolCallID] = sig
	c.mu.Unlock()
}

// ToolCallSignature returns the signature recorded for a tool-call id.
func (c *Cache) ToolCallSignature(toolCallID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byToolID[toolCallID]
}

// StoreText remembers the signature for an emitted text, keyed by its
// normalized form.
func (c *Cache) StoreText(text, sig string) {
	if text == "" || sig == "" {
		return
	}
	key := Normalize(text)
	if key == "" {
		return
	}
	c.mu.Lock()
	c.byText[key] = TextEntry{Signature: sig, OriginalText: text}
	c.mu.Unlock()
}

// TextSignature looks up a signature for assistant history text. Lookup
// tries the exact text, then the trimmed text, then the normalized form.
// The second return is the original upstream text when a normalized match
// hit, so callers can replay the exact bytes the signature was minted for.
func (c *Cache) TextSignature(text string) (sig, originalText string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range []string{text, strings.TrimSpace(text), Normalize(text)} {
		if key == "" {
			continue
		}
		if entry, found := c.byText[key]; found {
			return entry.Signature, entry.OriginalText, true
		}
	}
	return "", "", false
}

// Len reports the total number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byToolID) + len(c.byText)
}

// Clear drops everything.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.byToolID = make(map[string]string)
	c.byText = make(map[string]TextEntry)
	c.mu.Unlock()
}

// Normalize canonicalizes emitted text for keying: <think> blocks, markdown
// image references, and carriage returns are stripped, then surrounding
// whitespace trimmed.
func Normalize(text string) string {
	text = thinkBlockRE.ReplaceAllString(text, "")
	text = markdownImageRE.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "\r", "")
	return strings.TrimSpace(text)
}
