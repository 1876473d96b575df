package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrStorageCorrupt indicates the credential file exists but cannot be
// parsed. Fatal at start-up; logged otherwise.
var ErrStorageCorrupt = errors.New("credential storage corrupt")

// ErrIndexOutOfRange is returned by positional operations with a stale index.
var ErrIndexOutOfRange = errors.New("credential index out of range")

// ImportOptions control the merge policy of Import.
type ImportOptions struct {
	// ReplaceExisting discards the current list instead of merging.
	ReplaceExisting bool
	// FilterDisabled drops incoming records whose source flagged them
	// disabled before the merge.
	FilterDisabled bool
}

// ImportResult reports what an Import did.
type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	Total    int `json:"total"`
}

// Store is the durable on-disk credential list. Indexes handed out by
// Enumerate are positional and only stable until the next mutation.
type Store struct {
	mu      sync.Mutex
	path    string
	records []*Record

	// fileMu serializes disk writes; each write marshals the freshest
	// state so snapshots cannot land out of order.
	fileMu sync.Mutex
}

// NewStore creates a store persisting to path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load parses the persisted file. A missing file yields an empty list; a
// malformed one fails with ErrStorageCorrupt.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.mu.Lock()
			s.records = nil
			s.mu.Unlock()
			return nil
		}
		return fmt.Errorf("credential store: read %s: %w", s.path, err)
	}
	var records []*Record
	if err = json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrStorageCorrupt, s.path, err)
	}
	s.mu.Lock()
	s.records = records
	s.mu.Unlock()
	return nil
}

// Save persists the current list atomically as pretty two-space JSON.
func (s *Store) Save() error {
	return s.persist()
}

// Enumerate returns copies of all records in persisted order.
func (s *Store) Enumerate() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, *record)
	}
	return out
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Get returns a copy of the record at index.
func (s *Store) Get(index int) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.records) {
		return Record{}, ErrIndexOutOfRange
	}
	return *s.records[index], nil
}

// Append adds a record and persists.
func (s *Store) Append(record Record) error {
	if record.CreatedAt == 0 {
		record.CreatedAt = time.Now().UnixMilli()
	}
	s.mu.Lock()
	s.records = append(s.records, &record)
	s.mu.Unlock()
	return s.persist()
}

// ReplaceAt swaps the record at index and persists. The incoming record
// keeps the slot's created_at when it carries none.
func (s *Store) ReplaceAt(index int, record Record) error {
	s.mu.Lock()
	if index < 0 || index >= len(s.records) {
		s.mu.Unlock()
		return ErrIndexOutOfRange
	}
	if record.CreatedAt == 0 {
		record.CreatedAt = s.records[index].CreatedAt
	}
	s.records[index] = &record
	s.mu.Unlock()
	return s.persist()
}

// RemoveAt deletes the record at index and persists.
func (s *Store) RemoveAt(index int) error {
	s.mu.Lock()
	if index < 0 || index >= len(s.records) {
		s.mu.Unlock()
		return ErrIndexOutOfRange
	}
	s.records = append(s.records[:index], s.records[index+1:]...)
	s.mu.Unlock()
	return s.persist()
}

// SetEnabled toggles the record at index and persists.
func (s *Store) SetEnabled(index int, enabled bool) error {
	s.mu.Lock()
	if index < 0 || index >= len(s.records) {
		s.mu.Unlock()
		return ErrIndexOutOfRange
	}
	s.records[index].Enabled = enabled
	s.mu.Unlock()
	return s.persist()
}

// RemoveDisabled sweeps every disabled record, persists, and returns how
// many were dropped.
func (s *Store) RemoveDisabled() (int, error) {
	s.mu.Lock()
	kept := s.records[:0]
	removed := 0
	for _, record := range s.records {
		if record.Enabled {
			kept = append(kept, record)
		} else {
			removed++
		}
	}
	s.records = kept
	s.mu.Unlock()
	return removed, s.persist()
}

// Update applies fn to the record at index under the lock and persists when
// fn reports a change.
func (s *Store) Update(index int, fn func(*Record) bool) error {
	s.mu.Lock()
	if index < 0 || index >= len(s.records) {
		s.mu.Unlock()
		return ErrIndexOutOfRange
	}
	changed := fn(s.records[index])
	s.mu.Unlock()
	if !changed {
		return nil
	}
	return s.persist()
}

// UpdateFirst applies fn to the first record matching match under the lock
// and persists when fn reports a change.
func (s *Store) UpdateFirst(match func(*Record) bool, fn func(*Record) bool) error {
	s.mu.Lock()
	var target *Record
	for _, record := range s.records {
		if match(record) {
			target = record
			break
		}
	}
	if target == nil {
		s.mu.Unlock()
		return ErrIndexOutOfRange
	}
	changed := fn(target)
	s.mu.Unlock()
	if !changed {
		return nil
	}
	return s.persist()
}

// Import merges already-normalized records. With ReplaceExisting the list is
// replaced wholesale; otherwise existing records are indexed by refresh
// token (falling back to access token) and incoming records shallow-overlay
// matches and append the rest.
func (s *Store) Import(incoming []Record, disabled []bool, opts ImportOptions) (ImportResult, error) {
	result := ImportResult{}

	filtered := make([]Record, 0, len(incoming))
	for i, record := range incoming {
		sourceDisabled := i < len(disabled) && disabled[i]
		if opts.FilterDisabled && sourceDisabled {
			result.Skipped++
			continue
		}
		if sourceDisabled {
			record.Enabled = false
		}
		filtered = append(filtered, record)
	}

	s.mu.Lock()
	if opts.ReplaceExisting {
		s.records = nil
	}

	index := make(map[string]*Record, len(s.records))
	for _, record := range s.records {
		if key := recordKey(record); key != "" {
			index[key] = record
		}
	}

	now := time.Now().UnixMilli()
	for i := range filtered {
		record := filtered[i]
		key := recordKey(&record)
		if existing, ok := index[key]; ok && key != "" {
			overlayRecord(existing, &record)
		} else {
			if record.CreatedAt == 0 {
				record.CreatedAt = now
			}
			added := record
			s.records = append(s.records, &added)
			if key != "" {
				index[key] = &added
			}
		}
		result.Imported++
	}
	result.Total = len(s.records)
	s.mu.Unlock()

	return result, s.persist()
}

func recordKey(record *Record) string {
	if token := strings.TrimSpace(record.RefreshToken); token != "" {
		return "r:" + token
	}
	if token := strings.TrimSpace(record.AccessToken); token != "" {
		return "a:" + token
	}
	return ""
}

// overlayRecord copies the non-zero incoming fields over the existing slot.
func overlayRecord(dst, src *Record) {
	if src.RefreshToken != "" {
		dst.RefreshToken = src.RefreshToken
	}
	if src.AccessToken != "" {
		dst.AccessToken = src.AccessToken
	}
	if src.ExpiresIn != 0 {
		dst.ExpiresIn = src.ExpiresIn
	}
	if src.IssuedAt != 0 {
		dst.IssuedAt = src.IssuedAt
	}
	if src.ProjectID != "" {
		dst.ProjectID = src.ProjectID
	}
	if src.Email != "" {
		dst.Email = src.Email
	}
	dst.Enabled = src.Enabled
}

func (s *Store) persist() error {
	if s.path == "" {
		return nil
	}
	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	s.mu.Lock()
	records := s.records
	if records == nil {
		records = []*Record{}
	}
	snapshot, errMarshal := json.MarshalIndent(records, "", "  ")
	s.mu.Unlock()
	if errMarshal != nil {
		return fmt.Errorf("credential store: marshal failed: %w", errMarshal)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("credential store: create dir %s: %w", dir, err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, snapshot, 0o600); err != nil {
		return fmt.Errorf("credential store: write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("credential store: rename temp file: %w", err)
	}
	return nil
}
