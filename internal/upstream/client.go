// Package upstream implements the HTTP client for the Antigravity
// generateContent endpoint family, including the SSE stream consumer.
package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/yusnake/antigravity2api/internal/auth/antigravity"
	"github.com/yusnake/antigravity2api/internal/credential"
	"github.com/yusnake/antigravity2api/internal/translator"
)

const (
	baseURLDaily        = "https://daily-cloudcode-pa.googleapis.com"
	sandboxBaseURLDaily = "https://daily-cloudcode-pa.sandbox.googleapis.com"
	countTokensPath     = "/v1internal:countTokens"
	streamPath          = "/v1internal:streamGenerateContent"
	generatePath        = "/v1internal:generateContent"
	modelsPath          = "/v1internal:fetchAvailableModels"

	// streamScannerBuffer bounds a single SSE line; inline image payloads
	// can run to megabytes.
	streamScannerBuffer = 10 << 20
)

var defaultBaseURLOrder = []string{baseURLDaily, sandboxBaseURLDaily}

// StreamResult exposes a live upstream SSE stream as a channel of JSON event
// payloads. Exactly one of the channels' terminal states applies: Events
// closing cleanly, or one error on Errs.
type StreamResult struct {
	Events <-chan []byte
	Errs   <-chan error
}

// Client talks to the Antigravity upstream with a credential view.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
	baseURLs   []string
}

// NewClient creates an upstream client. The timeout bounds whole calls,
// including streams; zero falls back to 180s.
func NewClient(httpClient *http.Client, timeout time.Duration) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	return &Client{httpClient: httpClient, timeout: timeout, baseURLs: defaultBaseURLOrder}
}

// SetBaseURLs overrides the upstream endpoints, first entry preferred.
func (c *Client) SetBaseURLs(urls []string) {
	if len(urls) > 0 {
		c.baseURLs = urls
	}
}

// Generate performs a non-streaming generateContent call and returns the
// upstream response body.
func (c *Client) Generate(ctx context.Context, view credential.View, req *translator.Request) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload := c.buildEnvelope(view, req)

	var lastErr error
	for idx, baseURL := range c.baseURLs {
		httpReq, errReq := c.buildHTTPRequest(ctx, view, baseURL+generatePath, payload, false)
		if errReq != nil {
			return nil, errReq
		}
		body, errDo := c.doRead(httpReq)
		if errDo == nil {
			return body, nil
		}
		if errors.Is(errDo, context.Canceled) || errors.Is(errDo, context.DeadlineExceeded) {
			return nil, errDo
		}
		lastErr = errDo
		if idx+1 < len(c.baseURLs) && shouldFallBack(errDo) {
			log.Debugf("upstream: error on %s, retrying with fallback base url: %v", baseURL, errDo)
			continue
		}
		break
	}
	return nil, lastErr
}

// GenerateStream performs a streaming generateContent call. The returned
// channels are fed by a goroutine that exits when the stream ends, errors,
// or ctx is canceled; cancel ctx to abandon the stream without leaks.
func (c *Client) GenerateStream(ctx context.Context, view credential.View, req *translator.Request) (*StreamResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)

	payload := c.buildEnvelope(view, req)

	var httpResp *http.Response
	var lastErr error
	for idx, baseURL := range c.baseURLs {
		httpReq, errReq := c.buildHTTPRequest(ctx, view, baseURL+streamPath+"?alt=sse", payload, true)
		if errReq != nil {
			cancel()
			return nil, errReq
		}
		resp, errDo := c.httpClient.Do(httpReq)
		if errDo != nil {
			if errors.Is(errDo, context.Canceled) || errors.Is(errDo, context.DeadlineExceeded) {
				cancel()
				return nil, errDo
			}
			lastErr = errDo
			if idx+1 < len(c.baseURLs) {
				log.Debugf("upstream: stream error on %s, retrying with fallback base url: %v", baseURL, errDo)
				continue
			}
			break
		}
		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
			if errClose := resp.Body.Close(); errClose != nil {
				log.Errorf("upstream: close response body error: %v", errClose)
			}
			lastErr = newStatusError(resp.StatusCode, bodyBytes)
			if resp.StatusCode == http.StatusTooManyRequests && idx+1 < len(c.baseURLs) {
				log.Debugf("upstream: rate limited on %s, retrying with fallback base url", baseURL)
				continue
			}
			break
		}
		httpResp = resp
		break
	}
	if httpResp == nil {
		cancel()
		if lastErr == nil {
			lastErr = &StatusError{Code: http.StatusServiceUnavailable, Msg: "no base url available"}
		}
		return nil, lastErr
	}

	events := make(chan []byte)
	errs := make(chan error, 1)
	go func() {
		defer cancel()
		defer close(events)
		defer func() {
			if errClose := httpResp.Body.Close(); errClose != nil {
				log.Errorf("upstream: close response body error: %v", errClose)
			}
		}()
		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(nil, streamScannerBuffer)
		for scanner.Scan() {
			payload := ssePayload(scanner.Bytes())
			if payload == nil {
				continue
			}
			select {
			case events <- payload:
			case <-ctx.Done():
				return
			}
		}
		if errScan := scanner.Err(); errScan != nil && !errors.Is(errScan, context.Canceled) {
			errs <- errScan
		}
	}()

	return &StreamResult{Events: events, Errs: errs}, nil
}

// CountTokens asks the upstream for the token count of the request contents.
func (c *Client) CountTokens(ctx context.Context, view credential.View, req *translator.Request) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	inner := string(req.Body)
	inner, _ = sjson.Delete(inner, "generationConfig")
	inner, _ = sjson.Delete(inner, "toolConfig")
	payload, _ := sjson.SetRaw(`{}`, "request", inner)
	payload, _ = sjson.Set(payload, "request.model", req.Model)

	var lastErr error
	for idx, baseURL := range c.baseURLs {
		httpReq, errReq := c.buildHTTPRequest(ctx, view, baseURL+countTokensPath, []byte(payload), false)
		if errReq != nil {
			return 0, errReq
		}
		body, errDo := c.doRead(httpReq)
		if errDo == nil {
			return gjson.GetBytes(body, "totalTokens").Int(), nil
		}
		if errors.Is(errDo, context.Canceled) || errors.Is(errDo, context.DeadlineExceeded) {
			return 0, errDo
		}
		lastErr = errDo
		if idx+1 < len(c.baseURLs) && shouldFallBack(errDo) {
			continue
		}
		break
	}
	return 0, lastErr
}

// FetchModels retrieves the upstream model map, or an error when every base
// URL fails.
func (c *Client) FetchModels(ctx context.Context, view credential.View) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var lastErr error
	for idx, baseURL := range c.baseURLs {
		httpReq, errReq := c.buildHTTPRequest(ctx, view, baseURL+modelsPath, []byte(`{}`), false)
		if errReq != nil {
			return nil, errReq
		}
		body, errDo := c.doRead(httpReq)
		if errDo == nil {
			return body, nil
		}
		lastErr = errDo
		if idx+1 < len(c.baseURLs) && shouldFallBack(errDo) {
			continue
		}
		break
	}
	return nil, lastErr
}

// buildEnvelope wraps the translated request into the upstream envelope.
func (c *Client) buildEnvelope(view credential.View, req *translator.Request) []byte {
	out := `{}`
	out, _ = sjson.Set(out, "model", req.Model)
	out, _ = sjson.Set(out, "userAgent", "antigravity")
	out, _ = sjson.Set(out, "requestType", "agent")
	if view.ProjectID != "" {
		out, _ = sjson.Set(out, "project", view.ProjectID)
	}
	out, _ = sjson.Set(out, "requestId", "agent-"+uuid.NewString())
	out, _ = sjson.SetRaw(out, "request", string(req.Body))
	out, _ = sjson.Set(out, "request.sessionId", view.SessionID)
	return []byte(out)
}

func (c *Client) buildHTTPRequest(ctx context.Context, view credential.View, requestURL string, payload []byte, stream bool) (*http.Request, error) {
	if strings.TrimSpace(view.AccessToken) == "" {
		return nil, &StatusError{Code: http.StatusUnauthorized, Msg: "missing access token"}
	}
	httpReq, errReq := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewReader(payload))
	if errReq != nil {
		return nil, errReq
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+view.AccessToken)
	httpReq.Header.Set("User-Agent", antigravity.DefaultUserAgent)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	} else {
		httpReq.Header.Set("Accept", "application/json")
	}
	if host := resolveHost(requestURL); host != "" {
		httpReq.Host = host
	}
	return httpReq, nil
}

func (c *Client) doRead(httpReq *http.Request) ([]byte, error) {
	httpResp, errDo := c.httpClient.Do(httpReq)
	if errDo != nil {
		return nil, errDo
	}
	defer func() {
		if errClose := httpResp.Body.Close(); errClose != nil {
			log.Errorf("upstream: close response body error: %v", errClose)
		}
	}()
	bodyBytes, errRead := io.ReadAll(httpResp.Body)
	if errRead != nil {
		return nil, errRead
	}
	if httpResp.StatusCode < http.StatusOK || httpResp.StatusCode >= http.StatusMultipleChoices {
		return nil, newStatusError(httpResp.StatusCode, bodyBytes)
	}
	return bodyBytes, nil
}

func newStatusError(code int, body []byte) *StatusError {
	statusErr := &StatusError{Code: code, Msg: strings.TrimSpace(string(body))}
	if code == http.StatusTooManyRequests {
		if retryAfter := parseRetryDelay(body); retryAfter != nil {
			statusErr.RetryAfter = retryAfter
		}
	}
	return statusErr
}

// parseRetryDelay digs the RetryInfo detail out of a 429 error body.
func parseRetryDelay(body []byte) *time.Duration {
	details := gjson.GetBytes(body, "error.details")
	if !details.IsArray() {
		return nil
	}
	for _, detail := range details.Array() {
		if !strings.HasSuffix(detail.Get("@type").String(), "RetryInfo") {
			continue
		}
		raw := detail.Get("retryDelay").String()
		if raw == "" {
			continue
		}
		parsed, errParse := time.ParseDuration(raw)
		if errParse != nil {
			continue
		}
		return &parsed
	}
	return nil
}

func shouldFallBack(err error) bool {
	code := StatusOf(err)
	if code == 0 {
		// transport-level failure
		return true
	}
	return code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable
}

// ssePayload extracts the JSON payload from one SSE line. Blank lines,
// comments, and non-data fields yield nil.
func ssePayload(line []byte) []byte {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || trimmed[0] == ':' {
		return nil
	}
	if bytes.HasPrefix(trimmed, []byte("data:")) {
		trimmed = bytes.TrimSpace(trimmed[len("data:"):])
	}
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return nil
	}
	return append([]byte(nil), trimmed...)
}

func resolveHost(requestURL string) string {
	parsed, errParse := url.Parse(requestURL)
	if errParse != nil {
		return ""
	}
	return parsed.Host
}
