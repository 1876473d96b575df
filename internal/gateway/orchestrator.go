// Package gateway ties the credential pool, request adapter, upstream
// client, streaming engine, and usage store together per request.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/yusnake/antigravity2api/internal/auth/antigravity"
	"github.com/yusnake/antigravity2api/internal/credential"
	"github.com/yusnake/antigravity2api/internal/stream"
	"github.com/yusnake/antigravity2api/internal/translator"
	"github.com/yusnake/antigravity2api/internal/upstream"
	"github.com/yusnake/antigravity2api/internal/usage"
)

// RequestInfo is the client-request snapshot carried into the log entry.
type RequestInfo struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte
	Model   string
}

// Orchestrator drives one upstream exchange per inbound request, recovering
// transient and credential-terminal upstream failures by bounded retry with
// a fresh credential.
type Orchestrator struct {
	pool    *credential.Pool
	adapter *translator.Adapter
	client  *upstream.Client
	logs    *usage.Store
	images  stream.ImageSaver

	retryStatusCodes []int
	retryMaxAttempts int
}

// New creates an orchestrator.
func New(pool *credential.Pool, adapter *translator.Adapter, client *upstream.Client, logs *usage.Store, images stream.ImageSaver, retryStatusCodes []int, retryMaxAttempts int) *Orchestrator {
	if retryMaxAttempts < 1 {
		retryMaxAttempts = 1
	}
	return &Orchestrator{
		pool:             pool,
		adapter:          adapter,
		client:           client,
		logs:             logs,
		images:           images,
		retryStatusCodes: retryStatusCodes,
		retryMaxAttempts: retryMaxAttempts,
	}
}

// Adapter exposes the request adapter for the handlers.
func (o *Orchestrator) Adapter() *translator.Adapter { return o.adapter }

// Client exposes the upstream client for auxiliary routes (models, count
// tokens).
func (o *Orchestrator) Client() *upstream.Client { return o.client }

// Acquire picks a credential, optionally pinned to a project id.
func (o *Orchestrator) Acquire(ctx context.Context, forcedProjectID string) (credential.View, error) {
	if forcedProjectID != "" {
		return o.pool.AcquireByProjectID(ctx, forcedProjectID)
	}
	return o.pool.Acquire(ctx)
}

// NonStream performs a non-streaming exchange and returns the upstream
// response body. Exactly one log entry is appended whatever happens.
func (o *Orchestrator) NonStream(ctx context.Context, info RequestInfo, req *translator.Request, forcedProjectID string) ([]byte, error) {
	started := time.Now()
	var lastErr error
	var lastProjectID string

	for attempt := 0; attempt < o.retryMaxAttempts; attempt++ {
		view, errAcquire := o.Acquire(ctx, forcedProjectID)
		if errAcquire != nil {
			lastErr = errAcquire
			break
		}
		lastProjectID = view.ProjectID

		body, errGenerate := o.client.Generate(ctx, view, req)
		if errGenerate == nil {
			o.finish(info, view.ProjectID, started, http.StatusOK, nil, body, nil)
			return body, nil
		}
		lastErr = errGenerate
		if !o.retryable(ctx, view, errGenerate) {
			break
		}
	}

	o.finish(info, lastProjectID, started, errStatus(lastErr), lastErr, nil, nil)
	return nil, lastErr
}

// Stream performs a streaming exchange against a dialect sink. Retries only
// happen before the stream is committed to the client.
func (o *Orchestrator) Stream(ctx context.Context, info RequestInfo, req *translator.Request, forcedProjectID string, sink stream.Sink) error {
	started := time.Now()
	var lastErr error
	var lastProjectID string

	for attempt := 0; attempt < o.retryMaxAttempts; attempt++ {
		view, errAcquire := o.Acquire(ctx, forcedProjectID)
		if errAcquire != nil {
			lastErr = errAcquire
			break
		}
		lastProjectID = view.ProjectID

		result, errOpen := o.client.GenerateStream(ctx, view, req)
		if errOpen != nil {
			lastErr = errOpen
			if !o.retryable(ctx, view, errOpen) {
				break
			}
			continue
		}

		pumped := stream.Pump(ctx, result, sink, o.images, req.ImageModel)
		o.adapter.RegisterResponseSignatures(pumped.Outcome)

		status := http.StatusOK
		if pumped.Err != nil {
			status = errStatus(pumped.Err)
		}
		o.finish(info, view.ProjectID, started, status, pumped.Err, nil, pumped.Events)
		if pumped.Err != nil && !pumped.Committed {
			return pumped.Err
		}
		return nil
	}

	o.finish(info, lastProjectID, started, errStatus(lastErr), lastErr, nil, nil)
	return lastErr
}

// retryable classifies an upstream failure. Credential-terminal failures
// disable the credential so the next attempt acquires a different one.
func (o *Orchestrator) retryable(ctx context.Context, view credential.View, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if upstream.IsAuthFailure(err) {
		log.Warnf("orchestrator: upstream rejected credential for project %s, disabling", view.ProjectID)
		o.pool.DisableByProjectID(view.ProjectID)
		return true
	}
	return upstream.IsTransient(err, o.retryStatusCodes)
}

// finish records the pool outcome and appends the single log entry for this
// request. Logging failures never propagate to the response path.
func (o *Orchestrator) finish(info RequestInfo, projectID string, started time.Time, status int, errResult error, responseBody []byte, events []json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("orchestrator: log append panic: %v", r)
		}
	}()

	success := errResult == nil
	o.pool.RecordOutcome(projectID, success, info.Model)

	message := "ok"
	if errResult != nil {
		message = errResult.Error()
	}

	requestBody := info.Body
	if len(requestBody) > 0 && !json.Valid(requestBody) {
		// Keep malformed bodies as a JSON string so the log document
		// stays marshalable.
		requestBody, _ = json.Marshal(string(info.Body))
	}

	detail := &usage.Detail{
		Request: &usage.RequestSnapshot{
			Method:  info.Method,
			Path:    info.Path,
			Headers: info.Headers,
			Body:    requestBody,
		},
		Response: &usage.ResponseSnapshot{Status: status},
	}
	if responseBody != nil {
		if !json.Valid(responseBody) {
			responseBody, _ = json.Marshal(string(responseBody))
		}
		detail.Response.Body = responseBody
	}
	if events != nil {
		detail.Response.Events = events
		detail.Response.Summary = usage.DeriveStreamSummary(events)
	}

	o.logs.Append(&usage.Entry{
		Timestamp:  started.UnixMilli(),
		Model:      info.Model,
		ProjectID:  projectID,
		Success:    success,
		StatusCode: status,
		Message:    message,
		DurationMS: time.Since(started).Milliseconds(),
		Method:     info.Method,
		Path:       info.Path,
		Detail:     detail,
	})
}

func errStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch {
	case errors.Is(err, credential.ErrNoCredentialAvailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, credential.ErrCredentialNotFound):
		return http.StatusNotFound
	case errors.Is(err, antigravity.ErrProjectIDMissing):
		return http.StatusBadRequest
	case errors.Is(err, antigravity.ErrAuthExchangeFailed):
		return http.StatusInternalServerError
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return 499
	}
	if code := upstream.StatusOf(err); code != 0 {
		return code
	}
	return http.StatusInternalServerError
}

// HTTPStatus maps an orchestration error to the client-facing status.
func HTTPStatus(err error) int {
	return errStatus(err)
}
