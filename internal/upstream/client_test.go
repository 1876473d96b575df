package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/yusnake/antigravity2api/internal/credential"
	"github.com/yusnake/antigravity2api/internal/translator"
)

func testView() credential.View {
	return credential.View{
		AccessToken: "at-test",
		ProjectID:   "proj-test",
		SessionID:   "-12345",
	}
}

func testRequest() *translator.Request {
	return &translator.Request{
		Model: "gemini-2.5-flash",
		Body:  []byte(`{"contents":[{"role":"user","parts":[{"text":"ping"}]}],"generationConfig":{"temperature":1}}`),
	}
}

func TestGenerateBuildsEnvelope(t *testing.T) {
	var captured []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1internal:generateContent" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer at-test" {
			t.Errorf("authorization = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		captured = body
		fmt.Fprint(w, `{"response":{"candidates":[{"content":{"parts":[{"text":"pong"}]}}]}}`)
	}))
	defer server.Close()

	client := NewClient(server.Client(), time.Minute)
	client.SetBaseURLs([]string{server.URL})

	body, err := client.Generate(context.Background(), testView(), testRequest())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if gjson.GetBytes(body, "response.candidates.0.content.parts.0.text").String() != "pong" {
		t.Errorf("body = %s", body)
	}

	envelope := gjson.ParseBytes(captured)
	if envelope.Get("project").String() != "proj-test" {
		t.Errorf("project = %q", envelope.Get("project").String())
	}
	if envelope.Get("model").String() != "gemini-2.5-flash" {
		t.Errorf("model = %q", envelope.Get("model").String())
	}
	if envelope.Get("userAgent").String() != "antigravity" {
		t.Errorf("userAgent = %q", envelope.Get("userAgent").String())
	}
	if envelope.Get("request.sessionId").String() != "-12345" {
		t.Errorf("sessionId = %q", envelope.Get("request.sessionId").String())
	}
	if envelope.Get("request.contents.0.parts.0.text").String() != "ping" {
		t.Errorf("contents lost: %s", envelope.Get("request").Raw)
	}
}

func TestGenerateStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"bad request"}}`)
	}))
	defer server.Close()

	client := NewClient(server.Client(), time.Minute)
	client.SetBaseURLs([]string{server.URL})

	_, err := client.Generate(context.Background(), testView(), testRequest())
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusBadRequest {
		t.Fatalf("err = %v, want StatusError 400", err)
	}
}

func TestGenerateFallsBackOn429(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer primary.Close()
	secondary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"response":{"candidates":[]}}`)
	}))
	defer secondary.Close()

	client := NewClient(nil, time.Minute)
	client.SetBaseURLs([]string{primary.URL, secondary.URL})

	if _, err := client.Generate(context.Background(), testView(), testRequest()); err != nil {
		t.Fatalf("fallback should succeed: %v", err)
	}
}

func TestGenerateStreamParsesSSE(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("alt") != "sse" {
			t.Errorf("alt = %q", r.URL.Query().Get("alt"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"response\":{\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"a\"}]}}]}}\n\n")
		fmt.Fprint(w, ": heartbeat comment\n\n")
		fmt.Fprint(w, "data: {\"response\":{\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"b\"}]}}]}}\n\n")
	}))
	defer server.Close()

	client := NewClient(server.Client(), time.Minute)
	client.SetBaseURLs([]string{server.URL})

	result, err := client.GenerateStream(context.Background(), testView(), testRequest())
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}

	var texts []string
	for payload := range result.Events {
		texts = append(texts, gjson.GetBytes(payload, "response.candidates.0.content.parts.0.text").String())
	}
	select {
	case errStream := <-result.Errs:
		t.Fatalf("unexpected stream error: %v", errStream)
	default:
	}
	if len(texts) != 2 || texts[0] != "a" || texts[1] != "b" {
		t.Errorf("texts = %v", texts)
	}
}

func TestGenerateStreamPreStreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "boom")
	}))
	defer server.Close()

	client := NewClient(server.Client(), time.Minute)
	client.SetBaseURLs([]string{server.URL})

	_, err := client.GenerateStream(context.Background(), testView(), testRequest())
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusInternalServerError {
		t.Fatalf("err = %v, want StatusError 500", err)
	}
}

func TestCountTokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1internal:countTokens" {
			t.Errorf("path = %q", r.URL.Path)
		}
		fmt.Fprint(w, `{"totalTokens":42}`)
	}))
	defer server.Close()

	client := NewClient(server.Client(), time.Minute)
	client.SetBaseURLs([]string{server.URL})

	count, err := client.CountTokens(context.Background(), testView(), testRequest())
	if err != nil {
		t.Fatalf("CountTokens: %v", err)
	}
	if count != 42 {
		t.Errorf("count = %d", count)
	}
}

func TestMissingAccessToken(t *testing.T) {
	client := NewClient(nil, time.Minute)
	_, err := client.Generate(context.Background(), credential.View{}, testRequest())
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusUnauthorized {
		t.Fatalf("err = %v, want StatusError 401", err)
	}
}

func TestParseRetryDelay(t *testing.T) {
	body := []byte(`{"error":{"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"7s"}]}}`)
	delay := parseRetryDelay(body)
	if delay == nil || *delay != 7*time.Second {
		t.Errorf("delay = %v", delay)
	}
	if parseRetryDelay([]byte(`{}`)) != nil {
		t.Error("no details must yield nil")
	}
}

func TestSSEPayload(t *testing.T) {
	if got := ssePayload([]byte(`data: {"x":1}`)); string(got) != `{"x":1}` {
		t.Errorf("got %q", got)
	}
	if ssePayload([]byte(": comment")) != nil {
		t.Error("comment must be skipped")
	}
	if ssePayload([]byte("")) != nil {
		t.Error("blank must be skipped")
	}
	if got := ssePayload([]byte(`{"bare":true}`)); string(got) != `{"bare":true}` {
		t.Errorf("bare json line: %q", got)
	}
	if ssePayload([]byte("data: not json")) != nil {
		t.Error("invalid json must be skipped")
	}
}

func TestIsTransient(t *testing.T) {
	retryable := []int{429, 500}
	if !IsTransient(&StatusError{Code: 429}, retryable) {
		t.Error("429 must be transient")
	}
	if IsTransient(&StatusError{Code: 400}, retryable) {
		t.Error("400 must not be transient")
	}
	if IsTransient(errors.New("plain"), retryable) {
		t.Error("non-status errors are not transient")
	}
}
