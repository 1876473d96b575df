// Package usage implements the bounded request log and the sliding-window
// usage accounting derived from it.
package usage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// redactedValue replaces sensitive header values in stored snapshots.
const redactedValue = "[REDACTED]"

// RequestSnapshot is the sanitized picture of an inbound request.
type RequestSnapshot struct {
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

// StreamSummary condenses a streamed response for quick inspection.
type StreamSummary struct {
	Text      string          `json:"text"`
	ToolCalls json.RawMessage `json:"tool_calls,omitempty"`
	Thinking  string          `json:"thinking"`
}

// ResponseSnapshot captures what the gateway sent back. Non-stream responses
// keep the full body; streams keep the raw event list plus a derived summary.
type ResponseSnapshot struct {
	Status  int               `json:"status"`
	Body    json.RawMessage   `json:"body,omitempty"`
	Events  []json.RawMessage `json:"events,omitempty"`
	Summary *StreamSummary    `json:"summary,omitempty"`
}

// Detail is the optional heavy part of an Entry.
type Detail struct {
	Request  *RequestSnapshot  `json:"request,omitempty"`
	Response *ResponseSnapshot `json:"response,omitempty"`
}

// Entry is one terminated request.
type Entry struct {
	ID         int64   `json:"id"`
	Timestamp  int64   `json:"timestamp"`
	Model      string  `json:"model,omitempty"`
	ProjectID  string  `json:"projectId,omitempty"`
	Success    bool    `json:"success"`
	StatusCode int     `json:"statusCode"`
	Message    string  `json:"message,omitempty"`
	DurationMS int64   `json:"durationMs"`
	Method     string  `json:"method"`
	Path       string  `json:"path"`
	Detail     *Detail `json:"detail,omitempty"`
}

// ProjectUsage aggregates the retained entries for one project id.
type ProjectUsage struct {
	Total      int      `json:"total"`
	Success    int      `json:"success"`
	Failed     int      `json:"failed"`
	LastUsedAt int64    `json:"lastUsedAt"`
	Models     []string `json:"models"`
}

// WindowUsage counts entries for one project id inside a trailing window.
type WindowUsage struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

type persistedDocument struct {
	Logs          []*Entry `json:"logs"`
	MaxItems      int      `json:"maxItems"`
	RetentionDays int      `json:"retentionDays"`
}

// Store is the append-only capped request log. Appends are linearizable and
// ids are monotonically increasing; persistence is atomic per append.
type Store struct {
	mu      sync.Mutex
	entries []*Entry
	nextID  int64

	fileMu sync.Mutex
	path   string

	maxItems      int
	retentionDays int
}

// NewStore creates a log store persisting to path. maxItems and
// retentionDays fall back to 500 and 7 when non-positive.
func NewStore(path string, maxItems, retentionDays int) *Store {
	if maxItems <= 0 {
		maxItems = 500
	}
	if retentionDays <= 0 {
		retentionDays = 7
	}
	return &Store{
		path:          path,
		nextID:        1,
		maxItems:      maxItems,
		retentionDays: retentionDays,
	}
}

// Load reads the persisted document. A missing file yields an empty store.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("usage store: read %s: %w", s.path, err)
	}
	var doc persistedDocument
	if err = json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("usage store: parse %s: %w", s.path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = doc.Logs
	s.pruneLocked(time.Now())
	for _, entry := range s.entries {
		if entry.ID >= s.nextID {
			s.nextID = entry.ID + 1
		}
	}
	return nil
}

// Append assigns an id, enforces capacity and retention, and persists. The
// entry's detail headers are sanitized in place.
func (s *Store) Append(entry *Entry) {
	if entry == nil {
		return
	}
	sanitizeDetail(entry.Detail)
	now := time.Now()
	if entry.Timestamp == 0 {
		entry.Timestamp = now.UnixMilli()
	}

	s.mu.Lock()
	entry.ID = s.nextID
	s.nextID++
	s.entries = append(s.entries, entry)
	s.pruneLocked(now)
	snapshot := s.marshalLocked()
	s.mu.Unlock()

	s.persist(snapshot)
}

// RecentLogs returns up to limit entries, newest first, without details.
func (s *Store) RecentLogs(limit int) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(time.Now())

	n := len(s.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Entry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		entry := *s.entries[i]
		entry.Detail = nil
		out = append(out, entry)
	}
	return out
}

// GetDetail returns the full entry for id.
func (s *Store) GetDetail(id int64) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.entries {
		if entry.ID == id {
			clone := *entry
			return &clone, true
		}
	}
	return nil, false
}

// Clear truncates both memory and disk.
func (s *Store) Clear() {
	s.mu.Lock()
	s.entries = nil
	snapshot := s.marshalLocked()
	s.mu.Unlock()
	s.persist(snapshot)
}

// UsageSummary aggregates the full retained window per project id.
func (s *Store) UsageSummary() map[string]*ProjectUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(time.Now())

	out := make(map[string]*ProjectUsage)
	for _, entry := range s.entries {
		if entry.ProjectID == "" {
			continue
		}
		summary := out[entry.ProjectID]
		if summary == nil {
			summary = &ProjectUsage{}
			out[entry.ProjectID] = summary
		}
		summary.Total++
		if entry.Success {
			summary.Success++
		} else {
			summary.Failed++
		}
		if entry.Timestamp > summary.LastUsedAt {
			summary.LastUsedAt = entry.Timestamp
		}
		if entry.Model != "" && !containsString(summary.Models, entry.Model) {
			summary.Models = append(summary.Models, entry.Model)
		}
	}
	for _, summary := range out {
		sort.Strings(summary.Models)
	}
	return out
}

// UsageWithinWindow counts per project id over the trailing window.
func (s *Store) UsageWithinWindow(window time.Duration) map[string]*WindowUsage {
	cutoff := time.Now().Add(-window).UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]*WindowUsage)
	for _, entry := range s.entries {
		if entry.ProjectID == "" || entry.Timestamp < cutoff {
			continue
		}
		counts := out[entry.ProjectID]
		if counts == nil {
			counts = &WindowUsage{}
			out[entry.ProjectID] = counts
		}
		counts.Total++
		if entry.Success {
			counts.Success++
		} else {
			counts.Failed++
		}
	}
	return out
}

// Snapshot returns copies of all retained entries in append order.
func (s *Store) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, *entry)
	}
	return out
}

func (s *Store) pruneLocked(now time.Time) {
	cutoff := now.AddDate(0, 0, -s.retentionDays).UnixMilli()
	kept := s.entries[:0]
	for _, entry := range s.entries {
		if entry.Timestamp >= cutoff {
			kept = append(kept, entry)
		}
	}
	s.entries = kept
	if overflow := len(s.entries) - s.maxItems; overflow > 0 {
		s.entries = append([]*Entry(nil), s.entries[overflow:]...)
	}
}

func (s *Store) marshalLocked() []byte {
	doc := persistedDocument{
		Logs:          s.entries,
		MaxItems:      s.maxItems,
		RetentionDays: s.retentionDays,
	}
	if doc.Logs == nil {
		doc.Logs = []*Entry{}
	}
	data, err := json.Marshal(&doc)
	if err != nil {
		log.Errorf("usage store: marshal failed: %v", err)
		return nil
	}
	return data
}

// persist writes the snapshot atomically. fileMu keeps this process the
// single writer of the log file.
func (s *Store) persist(snapshot []byte) {
	if snapshot == nil || s.path == "" {
		return
	}
	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Errorf("usage store: create dir %s: %v", dir, err)
		return
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, snapshot, 0o600); err != nil {
		log.Errorf("usage store: write temp file: %v", err)
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		log.Errorf("usage store: rename temp file: %v", err)
	}
}

// DeriveStreamSummary condenses a normalized event list: text and thinking
// deltas concatenate, the last tool_calls event wins.
func DeriveStreamSummary(events []json.RawMessage) *StreamSummary {
	summary := &StreamSummary{}
	var text, thinking strings.Builder
	for _, event := range events {
		root := gjson.ParseBytes(event)
		if content := root.Get("content"); content.Exists() {
			text.WriteString(content.String())
		}
		if thought := root.Get("thinking"); thought.Exists() {
			thinking.WriteString(thought.String())
		}
		if toolCalls := root.Get("tool_calls"); toolCalls.Exists() {
			summary.ToolCalls = json.RawMessage(toolCalls.Raw)
		}
	}
	summary.Text = text.String()
	summary.Thinking = thinking.String()
	return summary
}

func sanitizeDetail(detail *Detail) {
	if detail == nil || detail.Request == nil {
		return
	}
	for key := range detail.Request.Headers {
		switch strings.ToLower(key) {
		case "authorization", "cookie":
			detail.Request.Headers[key] = redactedValue
		}
	}
}

func containsString(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
