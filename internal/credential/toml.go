package credential

import (
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// tomlAccount mirrors one [[accounts]] table in a bulk-import document.
type tomlAccount struct {
	RefreshToken string `toml:"refresh_token"`
	AccessToken  string `toml:"access_token"`
	ExpiresIn    int64  `toml:"expires_in"`
	IssuedAt     int64  `toml:"issued_at"`
	ProjectID    string `toml:"project_id"`
	Email        string `toml:"email"`
	Disabled     bool   `toml:"disabled"`
}

type tomlDocument struct {
	Accounts []tomlAccount `toml:"accounts"`
}

// ParseTOML decodes a bulk-import body. It returns the normalized records
// plus a parallel slice marking which the source flagged disabled. Records
// without a refresh token are rejected.
func ParseTOML(data []byte) ([]Record, []bool, error) {
	var doc tomlDocument
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("toml import: parse: %w", err)
	}
	if len(doc.Accounts) == 0 {
		return nil, nil, fmt.Errorf("toml import: no [[accounts]] tables found")
	}

	records := make([]Record, 0, len(doc.Accounts))
	disabled := make([]bool, 0, len(doc.Accounts))
	for i, account := range doc.Accounts {
		if strings.TrimSpace(account.RefreshToken) == "" {
			return nil, nil, fmt.Errorf("toml import: account %d missing refresh_token", i)
		}
		records = append(records, Record{
			RefreshToken: strings.TrimSpace(account.RefreshToken),
			AccessToken:  strings.TrimSpace(account.AccessToken),
			ExpiresIn:    account.ExpiresIn,
			IssuedAt:     account.IssuedAt,
			ProjectID:    strings.TrimSpace(account.ProjectID),
			Email:        strings.TrimSpace(account.Email),
			Enabled:      !account.Disabled,
		})
		disabled = append(disabled, account.Disabled)
	}
	return records, disabled, nil
}
