// Package apierr defines the stable, machine-readable error kinds the
// boundary returns to callers, per the error handling design: every
// failure surfaced across the HTTP API carries one of these kinds plus
// its associated status code, never a raw Go error string.
package apierr

import (
	"fmt"
	"net/http"
)

// Error is a stable error kind with its HTTP status and optional
// structured details. It implements the error interface so it can be
// returned and wrapped like any other Go error, but callers that need
// to render an HTTP response should type-assert to *Error (or use
// errors.As) and call Respond.
type Error struct {
	Kind     string
	Status   int
	Details  []string
	Missing  []string // missingSecrets, when relevant
	Upstream int      // upstreamStatus, when relevant
}

func New(kind string, status int) *Error {
	return &Error{Kind: kind, Status: status}
}

func (e *Error) Error() string {
	return e.Kind
}

// WithDetails returns a copy of e carrying the given validation details.
func (e *Error) WithDetails(details ...string) *Error {
	c := *e
	c.Details = details
	return &c
}

// WithMissingSecrets returns a copy of e carrying missingSecrets.
func (e *Error) WithMissingSecrets(bindings ...string) *Error {
	c := *e
	c.Missing = bindings
	return &c
}

// WithUpstreamStatus returns a copy of e carrying the upstream HTTP status.
func (e *Error) WithUpstreamStatus(status int) *Error {
	c := *e
	c.Upstream = status
	return &c
}

// Sentinel kinds, one per §7 of the specification.
var (
	// Input / validation
	ErrInvalidPayload      = New("invalid_payload", http.StatusBadRequest)
	ErrInvalidManifest     = New("invalid_manifest", http.StatusBadRequest)
	ErrInvalidInput        = New("invalid_input", http.StatusBadRequest)
	ErrInvalidInputPayload = New("invalid_input_payload", http.StatusBadRequest)
	ErrInvalidReason       = New("invalid_reason", http.StatusBadRequest)
	ErrInvalidLimit        = New("invalid_limit", http.StatusBadRequest)
	ErrInvalidSince        = New("invalid_since", http.StatusBadRequest)
	ErrInvalidSecretValue  = New("invalid_secret_value", http.StatusBadRequest)
	ErrInvalidUsername     = New("invalid_username", http.StatusBadRequest)
	ErrInvalidPassword     = New("invalid_password", http.StatusBadRequest)

	// Auth
	ErrInvalidRuntimeKeyFormat = New("invalid_runtime_key_format", http.StatusUnauthorized)
	ErrUnknownRuntimeKey       = New("unknown_runtime_key", http.StatusUnauthorized)
	ErrInvalidRuntimeKey       = New("invalid_runtime_key", http.StatusUnauthorized)
	ErrMissingRuntimeConfig    = New("missing_runtime_config", http.StatusInternalServerError)
	ErrMissingHMACSecret       = New("missing_hmac_secret", http.StatusInternalServerError)
	ErrInvalidTimestamp        = New("invalid_timestamp", http.StatusUnauthorized)
	ErrStaleTimestamp          = New("stale_timestamp", http.StatusUnauthorized)
	ErrInvalidBodyHash         = New("invalid_body_hash", http.StatusUnauthorized)
	ErrInvalidSignature        = New("invalid_signature", http.StatusUnauthorized)
	ErrMissingSecret           = New("missing_secret", http.StatusInternalServerError)
	ErrMissingAdminSession     = New("missing_admin_session", http.StatusUnauthorized)
	ErrInvalidAdminSession     = New("invalid_admin_session", http.StatusUnauthorized)
	ErrExpiredAdminSession     = New("expired_admin_session", http.StatusUnauthorized)
	ErrInvalidCSRFToken        = New("invalid_csrf_token", http.StatusForbidden)
	ErrInvalidBootstrapToken   = New("invalid_bootstrap_token", http.StatusUnauthorized)
	ErrInvalidCredentials      = New("invalid_credentials", http.StatusUnauthorized)
	ErrLoginLocked             = New("login_locked", http.StatusTooManyRequests)
	ErrAdminAlreadyInit        = New("admin_already_initialized", http.StatusConflict)

	// Registry
	ErrProposalNotFound       = New("proposal_not_found", http.StatusNotFound)
	ErrAdapterNotFound        = New("adapter_not_found", http.StatusNotFound)
	ErrRevisionOutdated       = New("revision_outdated", http.StatusConflict)
	ErrRevisionConflict       = New("revision_conflict", http.StatusConflict)
	ErrMissingRequiredSecrets = New("missing_required_secrets", http.StatusBadRequest)

	// Pairing
	ErrInvalidOrExpiredCode = New("invalid_or_expired_code", http.StatusNotFound)

	// Proxy / runtime
	ErrActionNotAllowed = New("action_not_allowed", http.StatusForbidden)
	ErrBodyTooLarge     = New("body_too_large", http.StatusRequestEntityTooLarge)
	ErrRateLimited      = New("rate_limited", http.StatusTooManyRequests)
	ErrHostNotAllowed   = New("host_not_allowed", http.StatusForbidden)
	ErrUpstreamError    = New("upstream_error", http.StatusBadGateway)

	// Infrastructure
	ErrMissingKVBinding     = New("missing_kv_binding", http.StatusInternalServerError)
	ErrCorruptPairingRecord = New("corrupt_pairing_record", http.StatusInternalServerError)
	ErrInternal             = New("internal_error", http.StatusInternalServerError)
)

// Sanitize replaces any substring matching /secret/i with "[redacted]",
// per §7's rule for infrastructure failures that might otherwise leak
// binding names or partial secret material in a message.
func Sanitize(msg string) string {
	return sanitizeRegexp.ReplaceAllString(msg, "[redacted]")
}

// Internalf builds an ErrInternal-kind error from a format string, with
// the rendered message sanitized before being attached as a detail.
func Internalf(format string, args ...any) *Error {
	return ErrInternal.WithDetails(Sanitize(fmt.Sprintf(format, args...)))
}
