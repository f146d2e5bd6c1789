package runtimekey

import (
	"context"
	"testing"
	"time"

	"github.com/dhannusch/pincer/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	kv, err := store.Open(store.InMemoryConfig())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })
	return kv
}

func TestGetAbsentReturnsNotFound(t *testing.T) {
	s := New(openTestStore(t))
	if _, err := s.Get(context.Background()); err != store.ErrNotFound {
		t.Fatalf("expected store.ErrNotFound, got %v", err)
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New(openTestStore(t))

	rec := Record{
		ID:                "key_abc123",
		KeyHash:           "deadbeef",
		HMACSecretBinding: "PINCER_HMAC_SECRET_ACTIVE",
		KeySecretBinding:  "PINCER_RUNTIME_KEY_SECRET_ACTIVE",
		SkewSeconds:       60,
		UpdatedAt:         time.Now().UTC(),
	}
	if err := s.Put(ctx, rec); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != rec.ID || got.KeyHash != rec.KeyHash {
		t.Fatalf("round trip mismatch: got %+v", got)
	}
}

func TestResolvedBindingsNewerShapeAuthoritative(t *testing.T) {
	rec := Record{
		HMACSecretBinding: "CUSTOM_HMAC",
		KeySecretBinding:  "CUSTOM_KEY",
	}
	hmacBinding, keyBinding := rec.ResolvedBindings()
	if hmacBinding != "CUSTOM_HMAC" || keyBinding != "CUSTOM_KEY" {
		t.Fatalf("expected explicit bindings to win, got %q/%q", hmacBinding, keyBinding)
	}
}

func TestResolvedBindingsFallsBackToDefaults(t *testing.T) {
	rec := Record{}
	hmacBinding, keyBinding := rec.ResolvedBindings()
	if hmacBinding != DefaultHMACSecretBinding {
		t.Fatalf("expected default hmac binding, got %q", hmacBinding)
	}
	if keyBinding != DefaultKeySecretBinding {
		t.Fatalf("expected default key binding, got %q", keyBinding)
	}
}

func TestResolvedSkewSecondsDefault(t *testing.T) {
	rec := Record{}
	if got := rec.ResolvedSkewSeconds(); got != DefaultSkewSeconds {
		t.Fatalf("expected default skew %d, got %d", DefaultSkewSeconds, got)
	}
	rec.SkewSeconds = 30
	if got := rec.ResolvedSkewSeconds(); got != 30 {
		t.Fatalf("expected explicit skew 30, got %d", got)
	}
}
