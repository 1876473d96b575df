// Package credential implements the persistent credential list and the
// selection pool that multiplexes it under concurrent request load.
package credential

import (
	"strings"
	"time"
)

// freshnessSkew is the margin before expiry at which a token stops counting
// as usable and must be refreshed.
const freshnessSkew = 300_000 // ms

// Record is one persisted OAuth credential. RefreshToken is the logical key;
// at most one record exists per refresh token.
type Record struct {
	RefreshToken string `json:"refresh_token"`
	AccessToken  string `json:"access_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	IssuedAt     int64  `json:"issued_at,omitempty"`
	ProjectID    string `json:"project_id,omitempty"`
	Email        string `json:"email,omitempty"`
	Enabled      bool   `json:"enabled"`
	CreatedAt    int64  `json:"created_at,omitempty"`
}

// FreshEnough reports whether the access token is still usable at now
// without a refresh.
func (r *Record) FreshEnough(now time.Time) bool {
	if strings.TrimSpace(r.AccessToken) == "" {
		return false
	}
	if r.IssuedAt == 0 || r.ExpiresIn == 0 {
		return false
	}
	expiresAt := r.IssuedAt + r.ExpiresIn*1000
	return expiresAt-now.UnixMilli() > freshnessSkew
}

// ApplyToken writes the result of a refresh or exchange into the record.
func (r *Record) ApplyToken(accessToken string, expiresIn int64, issuedAt time.Time) {
	r.AccessToken = accessToken
	r.ExpiresIn = expiresIn
	r.IssuedAt = issuedAt.UnixMilli()
}

// View is the projection handed to the request path. It never carries the
// refresh token.
type View struct {
	AccessToken string
	ProjectID   string
	Email       string
	SessionID   string
	Index       int
}
