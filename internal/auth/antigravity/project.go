package antigravity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// ErrProjectIDMissing indicates no project could be resolved for a credential.
var ErrProjectIDMissing = errors.New("project id could not be resolved")

var nowFunc = time.Now

// ResolveProjectID determines the billing project for an access token. It
// tries the Cloud Resource Manager first, then the loadCodeAssist endpoint
// (onboarding the user when needed). With allowRandom a synthetic id is
// generated as a last resort instead of failing.
func (s *Service) ResolveProjectID(ctx context.Context, accessToken string, allowRandom bool) (string, error) {
	if projectID, err := s.fetchResourceManagerProject(ctx, accessToken); err == nil && projectID != "" {
		return projectID, nil
	} else if err != nil {
		log.Debugf("antigravity: resource manager lookup failed: %v", err)
	}

	projectID, errAssist := s.fetchCodeAssistProject(ctx, accessToken)
	if errAssist == nil && projectID != "" {
		return projectID, nil
	}
	if errAssist != nil {
		log.Debugf("antigravity: loadCodeAssist lookup failed: %v", errAssist)
	}

	if allowRandom {
		return SyntheticProjectID(), nil
	}
	return "", ErrProjectIDMissing
}

// SyntheticProjectID generates a random project id in the Google console
// naming style. Used only when the caller opts into allowRandom.
func SyntheticProjectID() string {
	raw := strings.ToLower(uuid.NewString())
	return "useful-fuze-" + strings.ReplaceAll(raw, "-", "")[:6]
}

func (s *Service) fetchResourceManagerProject(ctx context.Context, accessToken string) (string, error) {
	req, errReq := http.NewRequestWithContext(ctx, http.MethodGet, ResourceManagerURL, nil)
	if errReq != nil {
		return "", fmt.Errorf("create request: %w", errReq)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, errDo := s.httpClient.Do(req)
	if errDo != nil {
		return "", fmt.Errorf("execute request: %w", errDo)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("antigravity resource manager: close body error: %v", errClose)
		}
	}()

	bodyBytes, errRead := io.ReadAll(io.LimitReader(resp.Body, 256<<10))
	if errRead != nil {
		return "", fmt.Errorf("read response: %w", errRead)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	var listResp struct {
		Projects []struct {
			ProjectID      string `json:"projectId"`
			LifecycleState string `json:"lifecycleState"`
		} `json:"projects"`
	}
	if errDecode := json.Unmarshal(bodyBytes, &listResp); errDecode != nil {
		return "", fmt.Errorf("decode response: %w", errDecode)
	}
	for _, project := range listResp.Projects {
		if project.LifecycleState == "ACTIVE" && project.ProjectID != "" {
			return project.ProjectID, nil
		}
	}
	return "", nil
}

func (s *Service) fetchCodeAssistProject(ctx context.Context, accessToken string) (string, error) {
	loadReqBody := map[string]any{
		"metadata": map[string]string{
			"ideType":    "ANTIGRAVITY",
			"platform":   "PLATFORM_UNSPECIFIED",
			"pluginType": "GEMINI",
		},
	}
	rawBody, errMarshal := json.Marshal(loadReqBody)
	if errMarshal != nil {
		return "", fmt.Errorf("marshal request body: %w", errMarshal)
	}

	endpointURL := fmt.Sprintf("%s/%s:loadCodeAssist", APIEndpoint, APIVersion)
	req, errReq := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, strings.NewReader(string(rawBody)))
	if errReq != nil {
		return "", fmt.Errorf("create request: %w", errReq)
	}
	s.setCodeAssistHeaders(req, accessToken)

	resp, errDo := s.httpClient.Do(req)
	if errDo != nil {
		return "", fmt.Errorf("execute request: %w", errDo)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("antigravity loadCodeAssist: close body error: %v", errClose)
		}
	}()

	bodyBytes, errRead := io.ReadAll(resp.Body)
	if errRead != nil {
		return "", fmt.Errorf("read response: %w", errRead)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	var loadResp map[string]any
	if errDecode := json.Unmarshal(bodyBytes, &loadResp); errDecode != nil {
		return "", fmt.Errorf("decode response: %w", errDecode)
	}

	if projectID := extractCompanionProject(loadResp["cloudaicompanionProject"]); projectID != "" {
		return projectID, nil
	}

	tierID := "legacy-tier"
	if tiers, okTiers := loadResp["allowedTiers"].([]any); okTiers {
		for _, rawTier := range tiers {
			tier, okTier := rawTier.(map[string]any)
			if !okTier {
				continue
			}
			if isDefault, okDefault := tier["isDefault"].(bool); okDefault && isDefault {
				if id, okID := tier["id"].(string); okID && strings.TrimSpace(id) != "" {
					tierID = strings.TrimSpace(id)
					break
				}
			}
		}
	}
	return s.onboardUser(ctx, accessToken, tierID)
}

// onboardUser polls the onboarding endpoint until the long-running operation
// completes and yields a project id.
func (s *Service) onboardUser(ctx context.Context, accessToken, tierID string) (string, error) {
	log.Infof("antigravity: onboarding user with tier %s", tierID)
	requestBody := map[string]any{
		"tierId": tierID,
		"metadata": map[string]string{
			"ideType":    "ANTIGRAVITY",
			"platform":   "PLATFORM_UNSPECIFIED",
			"pluginType": "GEMINI",
		},
	}
	rawBody, errMarshal := json.Marshal(requestBody)
	if errMarshal != nil {
		return "", fmt.Errorf("marshal request body: %w", errMarshal)
	}

	const maxAttempts = 5
	endpointURL := fmt.Sprintf("%s/%s:onboardUser", APIEndpoint, APIVersion)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		req, errReq := http.NewRequestWithContext(reqCtx, http.MethodPost, endpointURL, strings.NewReader(string(rawBody)))
		if errReq != nil {
			cancel()
			return "", fmt.Errorf("create request: %w", errReq)
		}
		s.setCodeAssistHeaders(req, accessToken)

		resp, errDo := s.httpClient.Do(req)
		if errDo != nil {
			cancel()
			return "", fmt.Errorf("execute request: %w", errDo)
		}
		bodyBytes, errRead := io.ReadAll(resp.Body)
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("antigravity onboardUser: close body error: %v", errClose)
		}
		cancel()
		if errRead != nil {
			return "", fmt.Errorf("read response: %w", errRead)
		}

		if resp.StatusCode != http.StatusOK {
			preview := strings.TrimSpace(string(bodyBytes))
			if len(preview) > 200 {
				preview = preview[:200]
			}
			return "", fmt.Errorf("http %d: %s", resp.StatusCode, preview)
		}

		var data map[string]any
		if errDecode := json.Unmarshal(bodyBytes, &data); errDecode != nil {
			return "", fmt.Errorf("decode response: %w", errDecode)
		}
		if done, okDone := data["done"].(bool); okDone && done {
			if responseData, okResp := data["response"].(map[string]any); okResp {
				if projectID := extractCompanionProject(responseData["cloudaicompanionProject"]); projectID != "" {
					log.Infof("antigravity: onboarded, project id %s", projectID)
					return projectID, nil
				}
			}
			return "", fmt.Errorf("onboard response missing project id")
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return "", fmt.Errorf("onboard did not complete after %d attempts", maxAttempts)
}

func (s *Service) setCodeAssistHeaders(req *http.Request, accessToken string) {
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", APIUserAgent)
	req.Header.Set("X-Goog-Api-Client", APIClient)
	req.Header.Set("Client-Metadata", ClientMetadata)
}

func extractCompanionProject(value any) string {
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case map[string]any:
		if id, ok := typed["id"].(string); ok {
			return strings.TrimSpace(id)
		}
	}
	return ""
}
