package antigravity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// ErrAuthExchangeFailed wraps upstream failures during the code exchange.
var ErrAuthExchangeFailed = errors.New("auth code exchange failed")

// TokenError carries the upstream HTTP status of a failed token operation.
type TokenError struct {
	StatusCode int
	Body       string
}

func (e *TokenError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("token request failed: status %d", e.StatusCode)
	}
	return fmt.Sprintf("token request failed: status %d: %s", e.StatusCode, e.Body)
}

// IsTerminalRefreshError reports whether a refresh failure is unrecoverable
// for the credential. Google answers 400 invalid_grant for revoked refresh
// tokens and 403 for disabled clients; both mean the credential is dead.
func IsTerminalRefreshError(err error) bool {
	var tokenErr *TokenError
	if errors.As(err, &tokenErr) {
		return tokenErr.StatusCode == http.StatusBadRequest || tokenErr.StatusCode == http.StatusForbidden
	}
	return false
}

// TokenResponse represents an OAuth token response from Google.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// Service handles Antigravity OAuth authentication.
type Service struct {
	httpClient *http.Client
}

// NewService creates a new auth service. A nil client falls back to a plain
// http.Client.
func NewService(httpClient *http.Client) *Service {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Service{httpClient: httpClient}
}

func (s *Service) oauthConfig(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     ClientID,
		ClientSecret: ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  AuthEndpoint,
			TokenURL: TokenEndpoint,
		},
	}
}

// BuildAuthURL generates the OAuth consent URL with offline access and the
// given state parameter.
func (s *Service) BuildAuthURL(redirectURI, state string) string {
	return s.oauthConfig(redirectURI).AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

// ParseCallbackURL extracts the authorization code and state from a pasted
// OAuth redirect URL.
func (s *Service) ParseCallbackURL(raw string) (code, state string, err error) {
	parsed, errParse := url.Parse(strings.TrimSpace(raw))
	if errParse != nil {
		return "", "", fmt.Errorf("parse callback url: %w", errParse)
	}
	query := parsed.Query()
	if errMsg := query.Get("error"); errMsg != "" {
		return "", "", fmt.Errorf("callback reported error: %s", errMsg)
	}
	code = strings.TrimSpace(query.Get("code"))
	if code == "" {
		return "", "", fmt.Errorf("callback url missing code parameter")
	}
	return code, strings.TrimSpace(query.Get("state")), nil
}

// ExchangeCode exchanges an authorization code for access and refresh tokens.
func (s *Service) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenResponse, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	token, errExchange := s.oauthConfig(redirectURI).Exchange(ctx, code)
	if errExchange != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(errExchange, &retrieveErr) {
			return nil, fmt.Errorf("%w: status %d: %s", ErrAuthExchangeFailed,
				retrieveErr.Response.StatusCode, strings.TrimSpace(string(retrieveErr.Body)))
		}
		return nil, fmt.Errorf("%w: %v", ErrAuthExchangeFailed, errExchange)
	}

	resp := &TokenResponse{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		ExpiresIn:    token.ExpiresIn,
	}
	if resp.ExpiresIn == 0 && !token.Expiry.IsZero() {
		resp.ExpiresIn = int64(token.Expiry.Sub(nowFunc()).Seconds())
	}
	if resp.RefreshToken == "" {
		return nil, fmt.Errorf("%w: response missing refresh_token", ErrAuthExchangeFailed)
	}
	return resp, nil
}

// Refresh obtains a fresh access token from a refresh token. Failures carry
// the upstream status via TokenError so callers can distinguish terminal
// (400/403) from transient failures.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, fmt.Errorf("refresh: missing refresh token")
	}

	form := url.Values{}
	form.Set("client_id", ClientID)
	form.Set("client_secret", ClientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	req, errReq := http.NewRequestWithContext(ctx, http.MethodPost, TokenEndpoint, strings.NewReader(form.Encode()))
	if errReq != nil {
		return nil, fmt.Errorf("refresh: create request: %w", errReq)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", DefaultUserAgent)

	resp, errDo := s.httpClient.Do(req)
	if errDo != nil {
		return nil, fmt.Errorf("refresh: execute request: %w", errDo)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("antigravity refresh: close body error: %v", errClose)
		}
	}()

	bodyBytes, errRead := io.ReadAll(io.LimitReader(resp.Body, 32<<10))
	if errRead != nil {
		return nil, fmt.Errorf("refresh: read response: %w", errRead)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &TokenError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(bodyBytes))}
	}

	var token TokenResponse
	if errDecode := json.Unmarshal(bodyBytes, &token); errDecode != nil {
		return nil, fmt.Errorf("refresh: decode response: %w", errDecode)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("refresh: response missing access_token")
	}
	return &token, nil
}

// FetchUserEmail retrieves the account email. Best-effort; callers treat
// failure as non-fatal.
func (s *Service) FetchUserEmail(ctx context.Context, accessToken string) (string, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return "", fmt.Errorf("userinfo: missing access token")
	}
	req, errReq := http.NewRequestWithContext(ctx, http.MethodGet, UserInfoEndpoint, nil)
	if errReq != nil {
		return "", fmt.Errorf("userinfo: create request: %w", errReq)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, errDo := s.httpClient.Do(req)
	if errDo != nil {
		return "", fmt.Errorf("userinfo: execute request: %w", errDo)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("antigravity userinfo: close body error: %v", errClose)
		}
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return "", fmt.Errorf("userinfo: request failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	var info struct {
		Email string `json:"email"`
	}
	if errDecode := json.NewDecoder(resp.Body).Decode(&info); errDecode != nil {
		return "", fmt.Errorf("userinfo: decode response: %w", errDecode)
	}
	email := strings.TrimSpace(info.Email)
	if email == "" {
		return "", fmt.Errorf("userinfo: response missing email")
	}
	return email, nil
}
