// Package adminsession implements the admin bootstrap, login, session
// enforcement, and logout operations: PBKDF2 password hashing, a
// cookie-plus-CSRF session with absolute/idle TTLs and periodic
// rotation, and an exponential-backoff login-lockout state machine
// keyed by (username, clientId).
package adminsession

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/pbkdf2"

	"github.com/dhannusch/pincer/internal/apierr"
	"github.com/dhannusch/pincer/internal/cryptoutil"
	"github.com/dhannusch/pincer/internal/store"
)

const (
	userKey              = "admin:user:primary"
	sessionKeyPrefix     = "admin:session:"
	loginStateKeyPrefix  = "admin:login:"
	pbkdf2Iterations     = 120000
	pbkdf2KeyLenBytes    = 32
	minPasswordLength    = 12
	absoluteTTL          = 8 * time.Hour
	idleTTL              = 30 * time.Minute
	rotationInterval     = 15 * time.Minute
	lockThreshold        = 5
	baseLockSeconds      = 30
	maxLockSeconds       = 15 * 60
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{3,64}$`)

// Store is the boundary's admin identity and session store.
type Store struct {
	kv             *store.Store
	bootstrapToken *memguard.LockedBuffer
	nowFn          func() time.Time
}

// New builds a Store over kv, holding bootstrapToken in locked memory
// for the process lifetime the same way vault.New holds its derived
// key. Call Close to wipe it on shutdown.
func New(kv *store.Store, bootstrapToken string) *Store {
	locked := memguard.NewBufferFromBytes([]byte(bootstrapToken))
	return &Store{kv: kv, bootstrapToken: locked, nowFn: time.Now}
}

// Close wipes the bootstrap token from memory.
func (s *Store) Close() {
	s.bootstrapToken.Destroy()
}

func (s *Store) now() time.Time {
	if s.nowFn != nil {
		return s.nowFn()
	}
	return time.Now()
}

func sessionKey(sessionID string) string { return sessionKeyPrefix + sessionID }

func loginStateKey(username, clientID string) string {
	return fmt.Sprintf("%s%s:%s", loginStateKeyPrefix, username, clientID)
}

// ClientID extracts the lockout-keying client identity from the
// cf-connecting-ip header value, falling back to "unknown" — coarse
// by design, to prevent trivial bypass by cookie clearing.
func ClientID(cfConnectingIP string) string {
	if cfConnectingIP == "" {
		return "unknown"
	}
	return cfConnectingIP
}

func randomHex(nBytes int) (string, error) {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func hashPassword(password string, salt []byte, iterations int) string {
	derived := pbkdf2.Key([]byte(password), salt, iterations, pbkdf2KeyLenBytes, sha256.New)
	return hex.EncodeToString(derived)
}

func (s *Store) loadUser(ctx context.Context) (AdminUser, error) {
	raw, err := s.kv.Get(ctx, userKey)
	if err != nil {
		return AdminUser{}, err
	}
	var u AdminUser
	if err := json.Unmarshal(raw, &u); err != nil {
		return AdminUser{}, err
	}
	return u, nil
}

// NeedsBootstrap reports whether the singleton admin user has not yet
// been created.
func (s *Store) NeedsBootstrap(ctx context.Context) bool {
	_, err := s.loadUser(ctx)
	return err == store.ErrNotFound
}

// Bootstrap creates the singleton admin user. Fails if one already
// exists, or if token/username/password fail their checks.
func (s *Store) Bootstrap(ctx context.Context, token, username, password string) error {
	if _, err := s.loadUser(ctx); err == nil {
		return apierr.ErrAdminAlreadyInit
	} else if err != store.ErrNotFound {
		return err
	}

	if !cryptoutil.ConstantTimeEqual([]byte(token), s.bootstrapToken.Bytes()) {
		return apierr.ErrInvalidBootstrapToken
	}

	username = toLowerASCII(username)
	if !usernamePattern.MatchString(username) {
		return apierr.ErrInvalidUsername
	}
	if len(password) < minPasswordLength {
		return apierr.ErrInvalidPassword
	}

	saltHex, err := randomHex(16)
	if err != nil {
		return apierr.Internalf("generate salt: %v", err)
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return apierr.Internalf("decode salt: %v", err)
	}

	now := s.now()
	user := AdminUser{
		Username:        username,
		PasswordSaltHex: saltHex,
		PasswordHashHex: hashPassword(password, salt, pbkdf2Iterations),
		Iterations:      pbkdf2Iterations,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	raw, err := json.Marshal(user)
	if err != nil {
		return apierr.Internalf("marshal admin user: %v", err)
	}
	return s.kv.Put(ctx, userKey, raw)
}

func toLowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func (s *Store) loadLoginState(ctx context.Context, username, clientID string) (LoginState, error) {
	raw, err := s.kv.Get(ctx, loginStateKey(username, clientID))
	if err == store.ErrNotFound {
		return LoginState{}, nil
	}
	if err != nil {
		return LoginState{}, err
	}
	var st LoginState
	if err := json.Unmarshal(raw, &st); err != nil {
		return LoginState{}, err
	}
	return st, nil
}

func (s *Store) writeLoginState(ctx context.Context, username, clientID string, st LoginState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, loginStateKey(username, clientID), raw)
}

func (s *Store) clearLoginState(ctx context.Context, username, clientID string) error {
	return s.kv.Delete(ctx, loginStateKey(username, clientID))
}

// lockSeconds computes min(15min, 30*2^(n-threshold)) for n failures
// at or above lockThreshold.
func lockSeconds(failedCount int) int {
	exp := failedCount - lockThreshold
	if exp < 0 {
		exp = 0
	}
	seconds := baseLockSeconds << uint(exp)
	if seconds > maxLockSeconds || seconds <= 0 {
		seconds = maxLockSeconds
	}
	return seconds
}

// Login verifies credentials under the per-client lockout state
// machine. On success it mints and persists a new session. On
// failure it returns apierr.ErrLoginLocked with retryAfterSeconds set
// once the lock threshold is reached.
func (s *Store) Login(ctx context.Context, username, password, clientID string) (Session, int, error) {
	username = toLowerASCII(username)
	now := s.now()

	st, err := s.loadLoginState(ctx, username, clientID)
	if err != nil {
		return Session{}, 0, err
	}
	if st.LockUntil.After(now) {
		retryAfter := int(st.LockUntil.Sub(now).Seconds()) + 1
		return Session{}, retryAfter, apierr.ErrLoginLocked
	}

	user, err := s.loadUser(ctx)
	if err != nil {
		return Session{}, 0, apierr.ErrInvalidCredentials
	}

	match := false
	if user.Username == username {
		salt, err := hex.DecodeString(user.PasswordSaltHex)
		if err == nil {
			computed := hashPassword(password, salt, user.Iterations)
			match = cryptoutil.ConstantTimeEqualHex(computed, user.PasswordHashHex)
		}
	}

	if !match {
		st.FailedCount++
		st.UpdatedAt = now
		retryAfter := 0
		if st.FailedCount >= lockThreshold {
			seconds := lockSeconds(st.FailedCount)
			st.LockUntil = now.Add(time.Duration(seconds) * time.Second)
			retryAfter = seconds
		}
		if err := s.writeLoginState(ctx, username, clientID, st); err != nil {
			return Session{}, 0, err
		}
		if retryAfter > 0 {
			return Session{}, retryAfter, apierr.ErrLoginLocked
		}
		return Session{}, 0, apierr.ErrInvalidCredentials
	}

	_ = s.clearLoginState(ctx, username, clientID)

	session, err := s.mintSession(ctx, username, now)
	if err != nil {
		return Session{}, 0, err
	}
	return session, 0, nil
}

func (s *Store) mintSession(ctx context.Context, username string, now time.Time) (Session, error) {
	sessionID, err := randomHex(24)
	if err != nil {
		return Session{}, apierr.Internalf("generate session id: %v", err)
	}
	csrfToken, err := randomHex(24)
	if err != nil {
		return Session{}, apierr.Internalf("generate csrf token: %v", err)
	}
	session := Session{
		SessionID:      sessionID,
		Username:       username,
		CSRFToken:      csrfToken,
		CreatedAt:      now,
		RotatedAt:      now,
		LastSeenAt:     now,
		AbsoluteExpiry: now.Add(absoluteTTL),
		IdleExpiry:     now.Add(idleTTL),
	}
	if err := s.writeSession(ctx, session); err != nil {
		return Session{}, err
	}
	return session, nil
}

func (s *Store) writeSession(ctx context.Context, session Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, sessionKey(session.SessionID), raw)
}

func (s *Store) loadSession(ctx context.Context, sessionID string) (Session, error) {
	raw, err := s.kv.Get(ctx, sessionKey(sessionID))
	if err != nil {
		return Session{}, err
	}
	var session Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return Session{}, err
	}
	return session, nil
}

// EnforceResult is what EnforceSession returns on success.
type EnforceResult struct {
	Session Session
	Rotated bool
}

// EnforceSession validates sessionID, enforces absolute/idle TTLs and
// (when requireCsrf) the CSRF header, and rotates the session once
// rotationInterval has elapsed since its last rotation. Rotated is
// true when the caller must set a fresh Set-Cookie.
func (s *Store) EnforceSession(ctx context.Context, sessionID string, requireCsrf bool, presentedCSRF string) (EnforceResult, error) {
	if sessionID == "" {
		return EnforceResult{}, apierr.ErrMissingAdminSession
	}
	session, err := s.loadSession(ctx, sessionID)
	if err == store.ErrNotFound {
		return EnforceResult{}, apierr.ErrInvalidAdminSession
	}
	if err != nil {
		return EnforceResult{}, err
	}

	now := s.now()
	if now.After(session.AbsoluteExpiry) || now.After(session.IdleExpiry) {
		_ = s.kv.Delete(ctx, sessionKey(sessionID))
		return EnforceResult{}, apierr.ErrExpiredAdminSession
	}

	if requireCsrf {
		if !cryptoutil.ConstantTimeEqual([]byte(presentedCSRF), []byte(session.CSRFToken)) {
			return EnforceResult{}, apierr.ErrInvalidCSRFToken
		}
	}

	if now.Sub(session.RotatedAt) >= rotationInterval {
		newSessionID, err := randomHex(24)
		if err != nil {
			return EnforceResult{}, apierr.Internalf("generate session id: %v", err)
		}
		newCSRF, err := randomHex(24)
		if err != nil {
			return EnforceResult{}, apierr.Internalf("generate csrf token: %v", err)
		}
		rotated := session
		rotated.SessionID = newSessionID
		rotated.CSRFToken = newCSRF
		rotated.RotatedAt = now
		rotated.LastSeenAt = now
		rotated.IdleExpiry = now.Add(idleTTL)

		if err := s.kv.Delete(ctx, sessionKey(sessionID)); err != nil {
			return EnforceResult{}, err
		}
		if err := s.writeSession(ctx, rotated); err != nil {
			return EnforceResult{}, err
		}
		return EnforceResult{Session: rotated, Rotated: true}, nil
	}

	session.LastSeenAt = now
	session.IdleExpiry = now.Add(idleTTL)
	if err := s.writeSession(ctx, session); err != nil {
		return EnforceResult{}, err
	}
	return EnforceResult{Session: session}, nil
}

// Logout deletes sessionID's session, if any.
func (s *Store) Logout(ctx context.Context, sessionID string) error {
	return s.kv.Delete(ctx, sessionKey(sessionID))
}
