// Package signedauth implements the signed-request verifier: bearer
// runtime key plus timestamped HMAC signature with a replay window,
// exactly the seven-step contract the boundary's auth pipeline runs on
// every /v1/adapter/* and /v1/adapters* call.
package signedauth

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/dhannusch/pincer/internal/apierr"
	"github.com/dhannusch/pincer/internal/cryptoutil"
	"github.com/dhannusch/pincer/internal/runtimekey"
)

// RuntimeKeyLookup loads the boundary's single runtime key record.
// Satisfied by *runtimekey.Store; an interface here keeps this package
// unit-testable without a live store.
type RuntimeKeyLookup interface {
	Get(ctx context.Context) (runtimekey.Record, error)
}

// SecretResolver resolves a vault binding name to its plaintext value,
// returning "" when absent. Satisfied by *vault.Vault.
type SecretResolver interface {
	Resolve(ctx context.Context, binding string) (string, error)
}

// Input is everything the verifier needs from one inbound request.
type Input struct {
	Method           string
	Path             string
	Body             []byte
	AuthorizationHdr string
	TimestampHdr     string
	BodySHA256Hdr    string
	SignatureHdr     string
}

// Result carries OK=true and the authenticated keyId on success. On
// failure Verify returns a zero Result together with the *apierr.Error
// describing which step failed.
type Result struct {
	OK    bool
	KeyID string
}

// Verifier runs the seven-step contract against an injected runtime
// key lookup and secret resolver, so it can be unit tested without
// Badger or memguard in the loop.
type Verifier struct {
	Keys   RuntimeKeyLookup
	Vault  SecretResolver
	Now    func() time.Time
}

func New(keys RuntimeKeyLookup, vault SecretResolver) *Verifier {
	return &Verifier{Keys: keys, Vault: vault, Now: time.Now}
}

// Verify runs the full contract and returns the authenticated keyId,
// or an *apierr.Error identifying the failed step.
func (v *Verifier) Verify(ctx context.Context, in Input) (Result, error) {
	keyID, keySecret, err := parseBearer(in.AuthorizationHdr)
	if err != nil {
		return Result{}, err
	}

	rec, err := v.Keys.Get(ctx)
	if err != nil {
		return Result{}, apierr.ErrMissingRuntimeConfig
	}

	if rec.ID != keyID {
		return Result{}, apierr.ErrUnknownRuntimeKey
	}

	computedKeyHash := cryptoutil.SHA256Hex([]byte(keySecret))
	if !cryptoutil.ConstantTimeEqualHex(computedKeyHash, rec.KeyHash) {
		return Result{}, apierr.ErrInvalidRuntimeKey
	}

	hmacBinding, _ := rec.ResolvedBindings()
	hmacSecret, err := v.Vault.Resolve(ctx, hmacBinding)
	if err != nil || hmacSecret == "" {
		return Result{}, apierr.ErrMissingHMACSecret
	}

	now := v.Now
	if now == nil {
		now = time.Now
	}

	ts, err := strconv.ParseInt(strings.TrimSpace(in.TimestampHdr), 10, 64)
	if err != nil {
		return Result{}, apierr.ErrInvalidTimestamp
	}
	skew := rec.ResolvedSkewSeconds()
	nowSeconds := now().Unix()
	delta := nowSeconds - ts
	if delta < 0 {
		delta = -delta
	}
	if delta > int64(skew) {
		return Result{}, apierr.ErrStaleTimestamp
	}

	computedBodyHash := cryptoutil.SHA256Hex(in.Body)
	if !cryptoutil.ConstantTimeEqualHex(computedBodyHash, strings.ToLower(in.BodySHA256Hdr)) {
		return Result{}, apierr.ErrInvalidBodyHash
	}

	signing := cryptoutil.CanonicalSigningString(strings.ToUpper(in.Method), in.Path, ts, computedBodyHash)
	computedSignature := cryptoutil.HMACSHA256Hex([]byte(hmacSecret), []byte(signing))
	presented := strings.TrimPrefix(in.SignatureHdr, "v1=")
	if !cryptoutil.ConstantTimeEqualHex(computedSignature, strings.ToLower(presented)) {
		return Result{}, apierr.ErrInvalidSignature
	}

	return Result{OK: true, KeyID: keyID}, nil
}

// parseBearer splits "Bearer <keyId>.<keySecret>" into its two halves.
func parseBearer(header string) (keyID, keySecret string, err error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", "", apierr.ErrInvalidRuntimeKeyFormat
	}
	rest := strings.TrimPrefix(header, prefix)
	dot := strings.IndexByte(rest, '.')
	if dot < 0 {
		return "", "", apierr.ErrInvalidRuntimeKeyFormat
	}
	keyID, keySecret = rest[:dot], rest[dot+1:]
	if keyID == "" || keySecret == "" {
		return "", "", apierr.ErrInvalidRuntimeKeyFormat
	}
	return keyID, keySecret, nil
}
