package store

import (
	"context"
	"testing"
	"time"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(InMemoryConfig())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	if _, err := s.Get(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Put(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("got %q, want v", got)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "k"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestReadDeleteOnce(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	if err := s.Put(ctx, "pairing:ONCE", []byte("payload")); err != nil {
		t.Fatalf("put: %v", err)
	}

	v, err := s.ReadDeleteOnce(ctx, "pairing:ONCE")
	if err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if string(v) != "payload" {
		t.Fatalf("got %q", v)
	}

	if _, err := s.ReadDeleteOnce(ctx, "pairing:ONCE"); err != ErrNotFound {
		t.Fatalf("second consume should be ErrNotFound, got %v", err)
	}
}

func TestPutTTLExpires(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	if err := s.PutTTL(ctx, "ephemeral", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatalf("put ttl: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, err := s.Get(ctx, "ephemeral"); err != ErrNotFound {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestListPrefixOrder(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	keys := []string{"audit:a", "audit:b", "audit:c", "other:z"}
	for _, k := range keys {
		if err := s.Put(ctx, k, []byte(k)); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}
	got, err := s.ListPrefix(ctx, "audit:")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3", len(got))
	}
	for i, want := range []string{"audit:a", "audit:b", "audit:c"} {
		if got[i].Key != want {
			t.Fatalf("entry %d = %s, want %s", i, got[i].Key, want)
		}
	}
}
