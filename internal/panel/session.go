// Package panel implements the management-panel session tokens that gate
// the credential and log administration routes.
package panel

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// sessionTTL bounds a panel login.
const sessionTTL = 24 * time.Hour

// Sessions maps opaque tokens to expiry timestamps.
type Sessions struct {
	mu     sync.Mutex
	tokens map[string]time.Time
	now    func() time.Time
}

// NewSessions creates an empty session store.
func NewSessions() *Sessions {
	return &Sessions{
		tokens: make(map[string]time.Time),
		now:    time.Now,
	}
}

// Issue creates a new session token.
func (s *Sessions) Issue() string {
	token := uuid.NewString()
	s.mu.Lock()
	s.tokens[token] = s.now().Add(sessionTTL)
	s.pruneLocked()
	s.mu.Unlock()
	return token
}

// Valid reports whether a token is live.
func (s *Sessions) Valid(token string) bool {
	if token == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, ok := s.tokens[token]
	if !ok {
		return false
	}
	if s.now().After(expiry) {
		delete(s.tokens, token)
		return false
	}
	return true
}

// Revoke drops a token.
func (s *Sessions) Revoke(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}

func (s *Sessions) pruneLocked() {
	now := s.now()
	for token, expiry := range s.tokens {
		if now.After(expiry) {
			delete(s.tokens, token)
		}
	}
}
