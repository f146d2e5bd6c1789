package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dhannusch/pincer/internal/apierr"
	"github.com/dhannusch/pincer/internal/manifest"
)

type fakeRegistry struct {
	manifest *manifest.Manifest
	action   *manifest.Action
	err      error
}

func (f fakeRegistry) GetAdapterAction(ctx context.Context, adapterID, actionName string) (*manifest.Manifest, *manifest.Action, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.manifest, f.action, nil
}

type fakeVault struct {
	values map[string]string
}

func (f fakeVault) Resolve(ctx context.Context, binding string) (string, error) {
	return f.values[binding], nil
}

func intp(v int) *int { return &v }

func seedManifestAndAction(baseURL string, allowedHost string) (*manifest.Manifest, *manifest.Action) {
	action := manifest.Action{
		Method:      manifest.MethodGET,
		Path:        "/youtube/v3/search",
		RequestMode: manifest.RequestModeQuery,
		Auth: manifest.AuthSpec{
			Placement:     manifest.AuthPlacementQuery,
			Name:          "key",
			SecretBinding: "YOUTUBE_API_KEY",
		},
		Limits: manifest.Limits{MaxBodyKb: 8, TimeoutMs: 10000, RatePerMinute: 2},
		InputSchema: manifest.InputSchema{
			Type:     "object",
			Required: []string{"channelId"},
			Properties: map[string]manifest.Property{
				"channelId": {Type: manifest.PropertyString, MinLength: intp(1)},
			},
		},
	}
	m := &manifest.Manifest{
		ID:           "youtube",
		Revision:     1,
		BaseURL:      baseURL,
		AllowedHosts: []string{allowedHost},
		Actions:      map[string]manifest.Action{"list_channel_videos": action},
	}
	return m, &action
}

func TestExecuteValidCallEndToEnd(t *testing.T) {
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "shhh-api-key" {
			t.Errorf("expected api key query param, got %q", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"items":[]}`))
	}))
	defer upstream.Close()

	m, action := seedManifestAndAction(upstream.URL, upstream.Listener.Addr().String())
	p := New(fakeRegistry{manifest: m, action: action}, fakeVault{values: map[string]string{"YOUTUBE_API_KEY": "shhh-api-key"}}, nil)
	p.client = upstream.Client()

	body, _ := json.Marshal(map[string]any{"input": map[string]any{"channelId": "abc123"}})
	result, err := p.Execute(context.Background(), ExecuteInput{
		KeyID:      "key_abc",
		AdapterID:  "youtube",
		ActionName: "list_channel_videos",
		RawBody:    body,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", result.StatusCode)
	}
	shaped, ok := result.Body.(map[string]any)
	if !ok || shaped["ok"] != true || shaped["adapter"] != "youtube" {
		t.Fatalf("unexpected shaped body: %+v", result.Body)
	}
}

func TestExecuteActionNotAllowedWhenMissing(t *testing.T) {
	p := New(fakeRegistry{err: apierr.ErrAdapterNotFound}, fakeVault{}, nil)
	_, err := p.Execute(context.Background(), ExecuteInput{AdapterID: "ghost", ActionName: "whatever"})
	if err != apierr.ErrActionNotAllowed {
		t.Fatalf("expected ErrActionNotAllowed, got %v", err)
	}
}

func TestExecuteInvalidInputPayloadShape(t *testing.T) {
	m, action := seedManifestAndAction("https://youtube.googleapis.com", "youtube.googleapis.com")
	p := New(fakeRegistry{manifest: m, action: action}, fakeVault{values: map[string]string{"YOUTUBE_API_KEY": "k"}}, nil)

	_, err := p.Execute(context.Background(), ExecuteInput{
		AdapterID:  "youtube",
		ActionName: "list_channel_videos",
		RawBody:    []byte(`["not", "an", "object"]`),
	})
	if err != apierr.ErrInvalidInputPayload {
		t.Fatalf("expected ErrInvalidInputPayload, got %v", err)
	}
}

func TestExecuteInvalidInputMissingRequired(t *testing.T) {
	m, action := seedManifestAndAction("https://youtube.googleapis.com", "youtube.googleapis.com")
	p := New(fakeRegistry{manifest: m, action: action}, fakeVault{values: map[string]string{"YOUTUBE_API_KEY": "k"}}, nil)

	body, _ := json.Marshal(map[string]any{"input": map[string]any{}})
	_, err := p.Execute(context.Background(), ExecuteInput{
		AdapterID:  "youtube",
		ActionName: "list_channel_videos",
		RawBody:    body,
	})
	ae, ok := err.(*apierr.Error)
	if !ok || ae.Kind != apierr.ErrInvalidInput.Kind {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestExecuteBodyTooLarge(t *testing.T) {
	m, action := seedManifestAndAction("https://youtube.googleapis.com", "youtube.googleapis.com")
	action.Limits.MaxBodyKb = 1

	p := New(fakeRegistry{manifest: m, action: action}, fakeVault{values: map[string]string{"YOUTUBE_API_KEY": "k"}}, nil)

	hugeChannelID := make([]byte, 2048)
	for i := range hugeChannelID {
		hugeChannelID[i] = 'a'
	}
	body, _ := json.Marshal(map[string]any{"input": map[string]any{"channelId": string(hugeChannelID)}})

	_, err := p.Execute(context.Background(), ExecuteInput{
		AdapterID:  "youtube",
		ActionName: "list_channel_videos",
		RawBody:    body,
	})
	if err != apierr.ErrBodyTooLarge {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}
}

func TestExecuteHostNotAllowedAfterInterpolation(t *testing.T) {
	m, action := seedManifestAndAction("https://youtube.googleapis.com", "youtube.googleapis.com")
	// Simulate a manifest whose action path resolves outside allowedHosts.
	action.Path = "https://not-allowed.example.com/api"
	m.Actions["list_channel_videos"] = *action

	p := New(fakeRegistry{manifest: m, action: action}, fakeVault{values: map[string]string{"YOUTUBE_API_KEY": "k"}}, nil)

	body, _ := json.Marshal(map[string]any{"input": map[string]any{"channelId": "abc"}})
	_, err := p.Execute(context.Background(), ExecuteInput{
		AdapterID:  "youtube",
		ActionName: "list_channel_videos",
		RawBody:    body,
	})
	if err != apierr.ErrHostNotAllowed {
		t.Fatalf("expected ErrHostNotAllowed, got %v", err)
	}
}

func TestExecuteRateLimitBoundary(t *testing.T) {
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	m, action := seedManifestAndAction(upstream.URL, upstream.Listener.Addr().String())
	action.Limits.RatePerMinute = 2
	m.Actions["list_channel_videos"] = *action

	p := New(fakeRegistry{manifest: m, action: action}, fakeVault{values: map[string]string{"YOUTUBE_API_KEY": "k"}}, nil)
	p.client = upstream.Client()
	fixedNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p.nowFn = func() time.Time { return fixedNow }

	body, _ := json.Marshal(map[string]any{"input": map[string]any{"channelId": "abc"}})
	for i := 0; i < 2; i++ {
		if _, err := p.Execute(context.Background(), ExecuteInput{
			KeyID: "key_abc", AdapterID: "youtube", ActionName: "list_channel_videos", RawBody: body,
		}); err != nil {
			t.Fatalf("call %d: expected success, got %v", i+1, err)
		}
	}

	if _, err := p.Execute(context.Background(), ExecuteInput{
		KeyID: "key_abc", AdapterID: "youtube", ActionName: "list_channel_videos", RawBody: body,
	}); err != apierr.ErrRateLimited {
		t.Fatalf("expected ErrRateLimited on 3rd call within the minute, got %v", err)
	}
}

func TestExecuteUpstreamErrorPropagatesStatus(t *testing.T) {
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer upstream.Close()

	m, action := seedManifestAndAction(upstream.URL, upstream.Listener.Addr().String())
	p := New(fakeRegistry{manifest: m, action: action}, fakeVault{values: map[string]string{"YOUTUBE_API_KEY": "k"}}, nil)
	p.client = upstream.Client()

	body, _ := json.Marshal(map[string]any{"input": map[string]any{"channelId": "abc"}})
	_, err := p.Execute(context.Background(), ExecuteInput{
		AdapterID: "youtube", ActionName: "list_channel_videos", RawBody: body,
	})
	ae, ok := err.(*apierr.Error)
	if !ok || ae.Kind != apierr.ErrUpstreamError.Kind || ae.Upstream != http.StatusBadGateway {
		t.Fatalf("expected ErrUpstreamError with upstream 502, got %+v", err)
	}
}
