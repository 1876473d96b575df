package credential

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/yusnake/antigravity2api/internal/auth/antigravity"
	"github.com/yusnake/antigravity2api/internal/usage"
)

// ErrNoCredentialAvailable means every candidate was filtered, exhausted, or
// failed transiently.
var ErrNoCredentialAvailable = errors.New("no credential available")

// ErrCredentialNotFound means the requested project id matches no enabled
// credential.
var ErrCredentialNotFound = errors.New("credential not found")

// selectionWindow is the sliding interval for per-credential rate limiting.
const selectionWindow = time.Hour

// Refresher is the slice of the OAuth client the pool needs.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*antigravity.TokenResponse, error)
}

type usageEvent struct {
	at      time.Time
	success bool
	model   string
}

// Pool selects credentials under concurrent request load, refreshing stale
// tokens in-line and disabling dead ones. Usage counters live in memory,
// written only by the pool; the request log is the durable system of record
// and reseeds them on start-up.
type Pool struct {
	store *Store
	oauth Refresher

	mu          sync.Mutex
	hourlyLimit int
	events      map[string][]usageEvent
	lastUsed    map[string]time.Time

	sessionID string
	group     singleflight.Group
	now       func() time.Time
}

// NewPool creates a pool over the given store and OAuth client.
func NewPool(store *Store, oauth Refresher, hourlyLimit int) *Pool {
	return &Pool{
		store:       store,
		oauth:       oauth,
		hourlyLimit: hourlyLimit,
		events:      make(map[string][]usageEvent),
		lastUsed:    make(map[string]time.Time),
		sessionID:   uuid.NewString(),
		now:         time.Now,
	}
}

// Initialize reloads the credential list from disk. Idempotent; safe to call
// again after external file edits.
func (p *Pool) Initialize() error {
	return p.store.Load()
}

// SeedUsage rebuilds the in-memory counters from retained log entries.
func (p *Pool) SeedUsage(entries []usage.Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = make(map[string][]usageEvent)
	for _, entry := range entries {
		if entry.ProjectID == "" {
			continue
		}
		at := time.UnixMilli(entry.Timestamp)
		p.events[entry.ProjectID] = append(p.events[entry.ProjectID], usageEvent{
			at:      at,
			success: entry.Success,
			model:   entry.Model,
		})
		if at.After(p.lastUsed[entry.ProjectID]) {
			p.lastUsed[entry.ProjectID] = at
		}
	}
	// Pruning assumes ascending event order per project.
	for projectID := range p.events {
		events := p.events[projectID]
		sort.Slice(events, func(i, j int) bool { return events[i].at.Before(events[j].at) })
	}
}

// SetHourlyLimit adjusts the per-credential quota at runtime. Zero disables
// the quota.
func (p *Pool) SetHourlyLimit(n int) {
	p.mu.Lock()
	p.hourlyLimit = n
	p.mu.Unlock()
}

// HourlyLimit returns the current quota.
func (p *Pool) HourlyLimit() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hourlyLimit
}

// RecordOutcome feeds one finished request into the counters. It never
// persists; the usage store owns durability.
func (p *Pool) RecordOutcome(projectID string, success bool, model string) {
	if projectID == "" {
		return
	}
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events[projectID] = append(p.events[projectID], usageEvent{at: now, success: success, model: model})
	if now.After(p.lastUsed[projectID]) {
		p.lastUsed[projectID] = now
	}
	p.pruneLocked(projectID, now)
}

// UsageInWindow returns the request count for projectID over the trailing
// hour.
func (p *Pool) UsageInWindow(projectID string) int {
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.countLocked(projectID, now)
}

// Acquire picks an eligible credential: enabled, under the hourly quota,
// fewest requests in the window, least-recently-used on ties, positional
// order last. A stale candidate is refreshed in-line; terminal refresh
// failures disable the credential and selection restarts.
func (p *Pool) Acquire(ctx context.Context) (View, error) {
	skipped := make(map[string]bool)
	total := p.store.Len()

	for attempt := 0; attempt <= total; attempt++ {
		index, record, ok := p.pickCandidate(skipped)
		if !ok {
			return View{}, ErrNoCredentialAvailable
		}
		view, err := p.ensureFresh(ctx, index, record)
		if err == nil {
			p.touch(view.ProjectID)
			return view, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return View{}, err
		}
		if antigravity.IsTerminalRefreshError(err) {
			log.Warnf("credential pool: refresh terminal for %s, disabling: %v", record.Email, err)
			p.disableByRefreshToken(record.RefreshToken)
		} else {
			log.Warnf("credential pool: refresh transient for %s, skipping: %v", record.Email, err)
			skipped[record.RefreshToken] = true
		}
	}
	return View{}, ErrNoCredentialAvailable
}

// AcquireByProjectID bypasses load balancing but keeps quota and freshness
// rules. Used by the forced-credential routes.
func (p *Pool) AcquireByProjectID(ctx context.Context, projectID string) (View, error) {
	records := p.store.Enumerate()
	index := -1
	for i := range records {
		if records[i].Enabled && records[i].ProjectID == projectID {
			index = i
			break
		}
	}
	if index < 0 {
		return View{}, ErrCredentialNotFound
	}

	now := p.now()
	p.mu.Lock()
	limit := p.hourlyLimit
	count := p.countLocked(projectID, now)
	p.mu.Unlock()
	if limit > 0 && count >= limit {
		return View{}, ErrNoCredentialAvailable
	}

	view, err := p.ensureFresh(ctx, index, records[index])
	if err != nil {
		if antigravity.IsTerminalRefreshError(err) {
			p.disableByRefreshToken(records[index].RefreshToken)
		}
		return View{}, err
	}
	p.touch(projectID)
	return view, nil
}

// pickCandidate runs steps 1–3 of the selection algorithm.
func (p *Pool) pickCandidate(skipped map[string]bool) (int, Record, bool) {
	records := p.store.Enumerate()
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	bestIndex := -1
	var best Record
	bestCount := 0
	var bestUsed time.Time

	for i := range records {
		record := records[i]
		if !record.Enabled || skipped[record.RefreshToken] {
			continue
		}
		count := p.countLocked(record.ProjectID, now)
		if p.hourlyLimit > 0 && count >= p.hourlyLimit {
			continue
		}
		used := p.lastUsed[record.ProjectID]
		if bestIndex < 0 || count < bestCount || (count == bestCount && used.Before(bestUsed)) {
			bestIndex = i
			best = record
			bestCount = count
			bestUsed = used
		}
	}
	if bestIndex < 0 {
		return 0, Record{}, false
	}
	return bestIndex, best, true
}

// ensureFresh returns a view for the record, refreshing first when the
// access token is stale. Concurrent refreshes of the same credential
// collapse to a single upstream call.
func (p *Pool) ensureFresh(ctx context.Context, index int, record Record) (View, error) {
	if record.FreshEnough(p.now()) {
		return p.viewFor(index, record), nil
	}

	result, err, _ := p.group.Do(record.RefreshToken, func() (any, error) {
		// Re-read: a previous flight may have refreshed this slot already.
		current, found := p.findByRefreshToken(record.RefreshToken)
		if !found {
			return nil, ErrCredentialNotFound
		}
		if current.FreshEnough(p.now()) {
			return current, nil
		}
		token, errRefresh := p.oauth.Refresh(ctx, record.RefreshToken)
		if errRefresh != nil {
			return nil, errRefresh
		}
		issuedAt := p.now()
		lookupToken := record.RefreshToken
		if token.RefreshToken != "" {
			lookupToken = token.RefreshToken
		}
		errUpdate := p.updateByRefreshToken(record.RefreshToken, func(r *Record) bool {
			r.ApplyToken(token.AccessToken, token.ExpiresIn, issuedAt)
			if token.RefreshToken != "" && token.RefreshToken != r.RefreshToken {
				r.RefreshToken = token.RefreshToken
			}
			return true
		})
		if errUpdate != nil {
			return nil, errUpdate
		}
		updated, found := p.findByRefreshToken(lookupToken)
		if !found {
			return nil, ErrCredentialNotFound
		}
		return updated, nil
	})
	if err != nil {
		return View{}, err
	}
	fresh := result.(Record)
	return p.viewFor(index, fresh), nil
}

func (p *Pool) viewFor(index int, record Record) View {
	return View{
		AccessToken: record.AccessToken,
		ProjectID:   record.ProjectID,
		Email:       record.Email,
		SessionID:   p.sessionID,
		Index:       index,
	}
}

func (p *Pool) touch(projectID string) {
	if projectID == "" {
		return
	}
	now := p.now()
	p.mu.Lock()
	if now.After(p.lastUsed[projectID]) {
		p.lastUsed[projectID] = now
	}
	p.mu.Unlock()
}

func (p *Pool) findByRefreshToken(refreshToken string) (Record, bool) {
	for _, record := range p.store.Enumerate() {
		if record.RefreshToken == refreshToken {
			return record, true
		}
	}
	return Record{}, false
}

func (p *Pool) updateByRefreshToken(refreshToken string, fn func(*Record) bool) error {
	err := p.store.UpdateFirst(func(r *Record) bool {
		return r.RefreshToken == refreshToken
	}, fn)
	if errors.Is(err, ErrIndexOutOfRange) {
		return ErrCredentialNotFound
	}
	return err
}

// DisableByProjectID disables and persists the credential serving a project
// id. Used when the upstream rejects the credential mid-request.
func (p *Pool) DisableByProjectID(projectID string) {
	if projectID == "" {
		return
	}
	if err := p.store.UpdateFirst(func(r *Record) bool {
		return r.ProjectID == projectID && r.Enabled
	}, func(r *Record) bool {
		r.Enabled = false
		return true
	}); err != nil && !errors.Is(err, ErrIndexOutOfRange) {
		log.Errorf("credential pool: persist disable failed: %v", err)
	}
}

// disableByRefreshToken persists the disable immediately so concurrent
// acquirers stop seeing the credential.
func (p *Pool) disableByRefreshToken(refreshToken string) {
	if err := p.updateByRefreshToken(refreshToken, func(r *Record) bool {
		if !r.Enabled {
			return false
		}
		r.Enabled = false
		return true
	}); err != nil && !errors.Is(err, ErrCredentialNotFound) {
		log.Errorf("credential pool: persist disable failed: %v", err)
	}
}

func (p *Pool) countLocked(projectID string, now time.Time) int {
	p.pruneLocked(projectID, now)
	return len(p.events[projectID])
}

func (p *Pool) pruneLocked(projectID string, now time.Time) {
	cutoff := now.Add(-selectionWindow)
	events := p.events[projectID]
	keep := 0
	for keep < len(events) && events[keep].at.Before(cutoff) {
		keep++
	}
	if keep > 0 {
		p.events[projectID] = append([]usageEvent(nil), events[keep:]...)
	}
	if len(p.events[projectID]) == 0 {
		delete(p.events, projectID)
	}
}
