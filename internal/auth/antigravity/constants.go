// Package antigravity provides OAuth2 authentication functionality for the
// Antigravity upstream.
package antigravity

// OAuth client credentials. The upstream expects this specific first-party
// client; the pair is fixed on purpose.
const (
	ClientID     = "1071006060591-tmhssin2h21lcre235vtolojh4g403ep.apps.googleusercontent.com"
	ClientSecret = "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"
)

// Scopes defines the OAuth scopes required for Antigravity authentication.
var Scopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
	"https://www.googleapis.com/auth/cclog",
	"https://www.googleapis.com/auth/experimentsandconfigs",
}

// OAuth2 endpoints for Google authentication.
const (
	TokenEndpoint    = "https://oauth2.googleapis.com/token"
	AuthEndpoint     = "https://accounts.google.com/o/oauth2/v2/auth"
	UserInfoEndpoint = "https://www.googleapis.com/oauth2/v1/userinfo?alt=json"
)

// Upstream API configuration.
const (
	APIEndpoint        = "https://cloudcode-pa.googleapis.com"
	APIVersion         = "v1internal"
	APIUserAgent       = "google-api-nodejs-client/9.15.1"
	APIClient          = "google-cloud-sdk vscode_cloudshelleditor/0.1"
	ClientMetadata     = `{"ideType":"IDE_UNSPECIFIED","platform":"PLATFORM_UNSPECIFIED","pluginType":"GEMINI"}`
	ResourceManagerURL = "https://cloudresourcemanager.googleapis.com/v1/projects"
	DefaultUserAgent   = "antigravity/1.104.0 darwin/arm64"
)
