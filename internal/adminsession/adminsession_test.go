package adminsession

import (
	"context"
	"testing"
	"time"

	"github.com/dhannusch/pincer/internal/apierr"
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

func TestBootstrapThenLogin(t *testing.T) {
	ctx := context.Background()
	s := New(openTestStore(t), "bootstrap-token-value")
	t.Cleanup(s.Close)

	if err := s.Bootstrap(ctx, "bootstrap-token-value", "Admin", "correct-horse-battery"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	session, retryAfter, err := s.Login(ctx, "admin", "correct-horse-battery", "1.2.3.4")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if retryAfter != 0 {
		t.Fatalf("expected no retry-after on success, got %d", retryAfter)
	}
	if session.Username != "admin" || session.SessionID == "" || session.CSRFToken == "" {
		t.Fatalf("unexpected session: %+v", session)
	}
}

func TestBootstrapRejectsSecondCall(t *testing.T) {
	ctx := context.Background()
	s := New(openTestStore(t), "bootstrap-token-value")
	t.Cleanup(s.Close)

	if err := s.Bootstrap(ctx, "bootstrap-token-value", "admin", "correct-horse-battery"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if err := s.Bootstrap(ctx, "bootstrap-token-value", "admin2", "correct-horse-battery"); err != apierr.ErrAdminAlreadyInit {
		t.Fatalf("expected ErrAdminAlreadyInit, got %v", err)
	}
}

func TestBootstrapRejectsBadToken(t *testing.T) {
	ctx := context.Background()
	s := New(openTestStore(t), "bootstrap-token-value")
	t.Cleanup(s.Close)

	if err := s.Bootstrap(ctx, "wrong-token", "admin", "correct-horse-battery"); err != apierr.ErrInvalidBootstrapToken {
		t.Fatalf("expected ErrInvalidBootstrapToken, got %v", err)
	}
}

func TestBootstrapRejectsShortPassword(t *testing.T) {
	ctx := context.Background()
	s := New(openTestStore(t), "bootstrap-token-value")
	t.Cleanup(s.Close)

	if err := s.Bootstrap(ctx, "bootstrap-token-value", "admin", "short"); err != apierr.ErrInvalidPassword {
		t.Fatalf("expected ErrInvalidPassword, got %v", err)
	}
}

func TestLoginLockoutEscalation(t *testing.T) {
	ctx := context.Background()
	s := New(openTestStore(t), "bootstrap-token-value")
	t.Cleanup(s.Close)
	if err := s.Bootstrap(ctx, "bootstrap-token-value", "admin", "correct-horse-battery"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	for i := 0; i < 4; i++ {
		_, _, err := s.Login(ctx, "admin", "wrong-password", "9.9.9.9")
		if err != apierr.ErrInvalidCredentials {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}

	_, retryAfter, err := s.Login(ctx, "admin", "wrong-password", "9.9.9.9")
	if err != apierr.ErrLoginLocked {
		t.Fatalf("expected ErrLoginLocked on 5th failure, got %v", err)
	}
	if retryAfter < 30 {
		t.Fatalf("expected retryAfter >= 30, got %d", retryAfter)
	}
}

func TestLoginLockedRejectsEvenCorrectPassword(t *testing.T) {
	ctx := context.Background()
	s := New(openTestStore(t), "bootstrap-token-value")
	t.Cleanup(s.Close)
	if err := s.Bootstrap(ctx, "bootstrap-token-value", "admin", "correct-horse-battery"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	for i := 0; i < 5; i++ {
		_, _, _ = s.Login(ctx, "admin", "wrong-password", "9.9.9.9")
	}
	_, _, err := s.Login(ctx, "admin", "correct-horse-battery", "9.9.9.9")
	if err != apierr.ErrLoginLocked {
		t.Fatalf("expected ErrLoginLocked even with correct password while locked, got %v", err)
	}
}

func TestEnforceSessionAbsoluteExpiry(t *testing.T) {
	ctx := context.Background()
	kv := openTestStore(t)
	s := New(kv, "bootstrap-token-value")
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.nowFn = func() time.Time { return base }

	if err := s.Bootstrap(ctx, "bootstrap-token-value", "admin", "correct-horse-battery"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	session, _, err := s.Login(ctx, "admin", "correct-horse-battery", "1.2.3.4")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	s.nowFn = func() time.Time { return base.Add(8*time.Hour + time.Second) }
	if _, err := s.EnforceSession(ctx, session.SessionID, false, ""); err != apierr.ErrExpiredAdminSession {
		t.Fatalf("expected ErrExpiredAdminSession after absolute TTL, got %v", err)
	}
}

func TestEnforceSessionIdleExpiry(t *testing.T) {
	ctx := context.Background()
	kv := openTestStore(t)
	s := New(kv, "bootstrap-token-value")
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.nowFn = func() time.Time { return base }

	if err := s.Bootstrap(ctx, "bootstrap-token-value", "admin", "correct-horse-battery"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	session, _, err := s.Login(ctx, "admin", "correct-horse-battery", "1.2.3.4")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	s.nowFn = func() time.Time { return base.Add(30*time.Minute + time.Second) }
	if _, err := s.EnforceSession(ctx, session.SessionID, false, ""); err != apierr.ErrExpiredAdminSession {
		t.Fatalf("expected ErrExpiredAdminSession after idle TTL, got %v", err)
	}
}

func TestEnforceSessionRequiresValidCSRF(t *testing.T) {
	ctx := context.Background()
	kv := openTestStore(t)
	s := New(kv, "bootstrap-token-value")

	if err := s.Bootstrap(ctx, "bootstrap-token-value", "admin", "correct-horse-battery"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	session, _, err := s.Login(ctx, "admin", "correct-horse-battery", "1.2.3.4")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if _, err := s.EnforceSession(ctx, session.SessionID, true, "wrong-csrf"); err != apierr.ErrInvalidCSRFToken {
		t.Fatalf("expected ErrInvalidCSRFToken, got %v", err)
	}
	if _, err := s.EnforceSession(ctx, session.SessionID, true, session.CSRFToken); err != nil {
		t.Fatalf("expected valid csrf to pass, got %v", err)
	}
}

func TestEnforceSessionRotatesAndInvalidatesOldID(t *testing.T) {
	ctx := context.Background()
	kv := openTestStore(t)
	s := New(kv, "bootstrap-token-value")
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.nowFn = func() time.Time { return base }

	if err := s.Bootstrap(ctx, "bootstrap-token-value", "admin", "correct-horse-battery"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	session, _, err := s.Login(ctx, "admin", "correct-horse-battery", "1.2.3.4")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	s.nowFn = func() time.Time { return base.Add(15*time.Minute + time.Second) }
	result, err := s.EnforceSession(ctx, session.SessionID, false, "")
	if err != nil {
		t.Fatalf("enforce: %v", err)
	}
	if !result.Rotated {
		t.Fatal("expected rotation after 15 minutes")
	}
	if result.Session.SessionID == session.SessionID {
		t.Fatal("expected a new session id after rotation")
	}

	if _, err := s.EnforceSession(ctx, session.SessionID, false, ""); err != apierr.ErrInvalidAdminSession {
		t.Fatalf("expected old session id invalidated, got %v", err)
	}

	if _, err := s.EnforceSession(ctx, result.Session.SessionID, false, ""); err != nil {
		t.Fatalf("expected new session id to work, got %v", err)
	}
}

func TestLogoutDeletesSession(t *testing.T) {
	ctx := context.Background()
	kv := openTestStore(t)
	s := New(kv, "bootstrap-token-value")

	if err := s.Bootstrap(ctx, "bootstrap-token-value", "admin", "correct-horse-battery"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	session, _, err := s.Login(ctx, "admin", "correct-horse-battery", "1.2.3.4")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := s.Logout(ctx, session.SessionID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := s.EnforceSession(ctx, session.SessionID, false, ""); err != apierr.ErrInvalidAdminSession {
		t.Fatalf("expected session gone after logout, got %v", err)
	}
}

func TestClientIDFallsBackToUnknown(t *testing.T) {
	if got := ClientID(""); got != "unknown" {
		t.Fatalf("expected unknown for empty header, got %q", got)
	}
	if got := ClientID("203.0.113.5"); got != "203.0.113.5" {
		t.Fatalf("expected passthrough, got %q", got)
	}
}
