// Package proxy implements the egress proxy: the component that turns
// a validated runtime call into an outbound HTTPS request against a
// third-party API, enforcing the manifest's input schema, body-size
// limit, per-action rate limit, and host allow-list before the
// request ever leaves the boundary.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dhannusch/pincer/internal/apierr"
	"github.com/dhannusch/pincer/internal/manifest"
	"github.com/dhannusch/pincer/internal/metrics"
)

// RegistryLookup resolves the active, enabled action for an
// (adapterId, actionName) pair. Satisfied by *registry.Registry.
type RegistryLookup interface {
	GetAdapterAction(ctx context.Context, adapterID, actionName string) (*manifest.Manifest, *manifest.Action, error)
}

// SecretResolver resolves a vault binding to its plaintext. Satisfied
// by *vault.Vault.
type SecretResolver interface {
	Resolve(ctx context.Context, binding string) (string, error)
}

// Proxy is the boundary's egress request executor.
type Proxy struct {
	registry RegistryLookup
	vault    SecretResolver
	limiter  *rateLimiter
	client   *http.Client
	metrics  *metrics.Metrics
	nowFn    func() time.Time
}

func New(registry RegistryLookup, vault SecretResolver, m *metrics.Metrics) *Proxy {
	return &Proxy{
		registry: registry,
		vault:    vault,
		limiter:  newRateLimiter(),
		client:   &http.Client{},
		metrics:  m,
		nowFn:    time.Now,
	}
}

// ExecuteInput is one inbound runtime call, already authenticated.
type ExecuteInput struct {
	KeyID      string
	AdapterID  string
	ActionName string
	RawBody    []byte
}

// ExecuteResult is the shaped response the HTTP handler writes back.
type ExecuteResult struct {
	StatusCode  int
	Body        any
	IsRawText   bool
	RawTextBody string
}

// Sweep evicts stale rate-limit buckets. Intended to be called
// periodically from a background goroutine by the process wiring.
func (p *Proxy) Sweep(now time.Time) {
	p.limiter.Sweep(now)
}

func (p *Proxy) now() time.Time {
	if p.nowFn != nil {
		return p.nowFn()
	}
	return time.Now()
}

// Execute runs steps 3-11 of the egress proxy's contract: action
// lookup, input validation, size/rate limits, upstream request
// construction and dispatch, and response shaping. Step 1 (read body)
// and step 2 (authenticate) happen in the HTTP layer before Execute is
// called, since authentication needs the raw body for its signature
// check regardless of whether the call ever reaches the proxy.
func (p *Proxy) Execute(ctx context.Context, in ExecuteInput) (ExecuteResult, error) {
	start := p.now()
	outcome := metrics.OutcomeAllowed
	denyReason := ""
	statusClass := 0

	defer func() {
		latencyMs := float64(p.now().Sub(start).Microseconds()) / 1000.0
		if p.metrics != nil {
			p.metrics.ObserveProxyCall(in.AdapterID, in.ActionName, outcome, statusClass, denyReason, latencyMs)
		}
	}()

	m, action, err := p.registry.GetAdapterAction(ctx, in.AdapterID, in.ActionName)
	if err != nil {
		outcome, denyReason, statusClass = metrics.OutcomeDenied, apierr.ErrActionNotAllowed.Kind, apierr.ErrActionNotAllowed.Status
		return ExecuteResult{}, apierr.ErrActionNotAllowed
	}

	var payload struct {
		Input map[string]any `json:"input"`
	}
	if len(in.RawBody) > 0 {
		var probe map[string]any
		if err := json.Unmarshal(in.RawBody, &probe); err != nil {
			outcome, denyReason, statusClass = metrics.OutcomeDenied, apierr.ErrInvalidInputPayload.Kind, apierr.ErrInvalidInputPayload.Status
			return ExecuteResult{}, apierr.ErrInvalidInputPayload
		}
		rawInput, ok := probe["input"]
		if !ok {
			rawInput = map[string]any{}
		}
		inputMap, ok := rawInput.(map[string]any)
		if !ok {
			outcome, denyReason, statusClass = metrics.OutcomeDenied, apierr.ErrInvalidInputPayload.Kind, apierr.ErrInvalidInputPayload.Status
			return ExecuteResult{}, apierr.ErrInvalidInputPayload
		}
		payload.Input = inputMap
	} else {
		payload.Input = map[string]any{}
	}

	if errs := validateInput(action.InputSchema, payload.Input); len(errs) > 0 {
		outcome, denyReason, statusClass = metrics.OutcomeDenied, apierr.ErrInvalidInput.Kind, apierr.ErrInvalidInput.Status
		return ExecuteResult{}, apierr.ErrInvalidInput.WithDetails(errs...)
	}

	maxBytes := action.Limits.MaxBodyKb * 1024
	if len(in.RawBody) > maxBytes {
		outcome, denyReason, statusClass = metrics.OutcomeDenied, apierr.ErrBodyTooLarge.Kind, apierr.ErrBodyTooLarge.Status
		return ExecuteResult{}, apierr.ErrBodyTooLarge
	}

	nowMs := p.now().UnixMilli()
	rlKey := fmt.Sprintf("%s:%s:%s:%d", in.KeyID, in.AdapterID, in.ActionName, nowMs/60000)
	if !p.limiter.Allow(rlKey, nowMs, action.Limits.RatePerMinute) {
		outcome, denyReason, statusClass = metrics.OutcomeDenied, apierr.ErrRateLimited.Kind, apierr.ErrRateLimited.Status
		return ExecuteResult{}, apierr.ErrRateLimited
	}

	req, cancel, err := p.buildRequest(ctx, m, action, payload.Input)
	if err != nil {
		outcome = metrics.OutcomeError
		if ae, ok := err.(*apierr.Error); ok {
			denyReason, statusClass = ae.Kind, ae.Status
		}
		return ExecuteResult{}, err
	}
	defer cancel()

	resp, err := p.client.Do(req)
	if err != nil {
		outcome, denyReason, statusClass = metrics.OutcomeError, apierr.ErrUpstreamError.Kind, apierr.ErrUpstreamError.Status
		return ExecuteResult{}, apierr.Internalf("upstream request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		outcome, denyReason, statusClass = metrics.OutcomeError, apierr.ErrInternal.Kind, apierr.ErrInternal.Status
		return ExecuteResult{}, apierr.Internalf("read upstream response: %v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		outcome, denyReason, statusClass = metrics.OutcomeError, apierr.ErrUpstreamError.Kind, resp.StatusCode
		return ExecuteResult{}, apierr.ErrUpstreamError.WithUpstreamStatus(resp.StatusCode)
	}

	statusClass = resp.StatusCode
	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/json") {
		var data any
		if err := json.Unmarshal(respBody, &data); err != nil {
			outcome, denyReason, statusClass = metrics.OutcomeError, apierr.ErrInternal.Kind, apierr.ErrInternal.Status
			return ExecuteResult{}, apierr.Internalf("parse upstream json: %v", err)
		}
		return ExecuteResult{
			StatusCode: http.StatusOK,
			Body: map[string]any{
				"ok":     true,
				"adapter": in.AdapterID,
				"action":  in.ActionName,
				"data":    data,
			},
		}, nil
	}

	return ExecuteResult{StatusCode: http.StatusOK, IsRawText: true, RawTextBody: string(respBody)}, nil
}

// buildRequest constructs the outbound request per step 8, then
// re-validates the resolved URL against the manifest's host allow-list
// per step 9.
func (p *Proxy) buildRequest(ctx context.Context, m *manifest.Manifest, action *manifest.Action, input map[string]any) (*http.Request, context.CancelFunc, error) {
	secret, err := p.vault.Resolve(ctx, action.Auth.SecretBinding)
	if err != nil {
		return nil, nil, apierr.Internalf("resolve secret binding: %v", err)
	}
	if secret == "" {
		return nil, nil, apierr.Internalf("secret binding %s resolved empty", action.Auth.SecretBinding)
	}

	base, err := url.Parse(m.BaseURL)
	if err != nil {
		return nil, nil, apierr.Internalf("parse baseUrl: %v", err)
	}
	resolved, err := base.Parse(action.Path)
	if err != nil {
		return nil, nil, apierr.Internalf("resolve action path: %v", err)
	}

	var bodyReader io.Reader
	contentType := ""

	switch action.RequestMode {
	case manifest.RequestModeJSON:
		raw, err := json.Marshal(input)
		if err != nil {
			return nil, nil, apierr.Internalf("marshal request body: %v", err)
		}
		bodyReader = bytes.NewReader(raw)
		contentType = "application/json"
	case manifest.RequestModeQuery:
		q := resolved.Query()
		for key, value := range input {
			if value == nil {
				continue
			}
			q.Set(key, fmt.Sprintf("%v", value))
		}
		resolved.RawQuery = q.Encode()
	}

	if action.Auth.Placement == manifest.AuthPlacementQuery {
		q := resolved.Query()
		q.Set(action.Auth.Name, action.Auth.Prefix+secret)
		resolved.RawQuery = q.Encode()
	}

	if resolved.Scheme != "https" {
		return nil, nil, apierr.ErrHostNotAllowed
	}
	allowed := false
	lowerHost := strings.ToLower(resolved.Host)
	for _, h := range m.AllowedHosts {
		if strings.ToLower(h) == lowerHost {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, nil, apierr.ErrHostNotAllowed
	}

	timeout := time.Duration(action.Limits.TimeoutMs) * time.Millisecond
	reqCtx, cancel := context.WithTimeout(ctx, timeout)

	req, err := http.NewRequestWithContext(reqCtx, string(action.Method), resolved.String(), bodyReader)
	if err != nil {
		cancel()
		return nil, nil, apierr.Internalf("build upstream request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if action.Auth.Placement == manifest.AuthPlacementHeader {
		req.Header.Set(action.Auth.Name, action.Auth.Prefix+secret)
	}

	return req, cancel, nil
}
