// Package runtimekey owns the boundary's single Runtime Key Record:
// the bearer credential plus HMAC-secret binding pair that every
// agent-host request authenticates against.
package runtimekey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dhannusch/pincer/internal/store"
)

const storeKey = "runtime:active"

// Default vault binding names used when a record predates the
// hmacSecretBinding/keySecretBinding fields.
const (
	DefaultHMACSecretBinding = "PINCER_HMAC_SECRET_ACTIVE"
	DefaultKeySecretBinding  = "PINCER_RUNTIME_KEY_SECRET_ACTIVE"
)

// DefaultSkewSeconds is used when a record does not specify skewSeconds.
const DefaultSkewSeconds = 60

// Record is the boundary's one-per-deployment runtime key record.
type Record struct {
	ID                string    `json:"id"`
	KeyHash           string    `json:"keyHash"`
	HMACSecretBinding string    `json:"hmacSecretBinding,omitempty"`
	KeySecretBinding  string    `json:"keySecretBinding,omitempty"`
	SkewSeconds       int       `json:"skewSeconds"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// ResolvedBindings applies the newer-shape-authoritative rule: if both
// binding fields are present, they win; an absent field falls back to
// the corresponding default binding name.
func (r Record) ResolvedBindings() (hmacBinding, keyBinding string) {
	hmacBinding = r.HMACSecretBinding
	if hmacBinding == "" {
		hmacBinding = DefaultHMACSecretBinding
	}
	keyBinding = r.KeySecretBinding
	if keyBinding == "" {
		keyBinding = DefaultKeySecretBinding
	}
	return hmacBinding, keyBinding
}

// ResolvedSkewSeconds returns SkewSeconds, defaulting to DefaultSkewSeconds
// when unset (zero value).
func (r Record) ResolvedSkewSeconds() int {
	if r.SkewSeconds <= 0 {
		return DefaultSkewSeconds
	}
	return r.SkewSeconds
}

// Store persists the singleton Runtime Key Record.
type Store struct {
	kv *store.Store
}

func New(kv *store.Store) *Store {
	return &Store{kv: kv}
}

// Get returns the current record, or (Record{}, store.ErrNotFound) if
// the boundary has never been rotated/bootstrapped.
func (s *Store) Get(ctx context.Context) (Record, error) {
	raw, err := s.kv.Get(ctx, storeKey)
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("runtimekey: unmarshal record: %w", err)
	}
	return rec, nil
}

// Put persists rec, overwriting any existing record. Used by both
// first-setup and admin rotate.
func (s *Store) Put(ctx context.Context, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("runtimekey: marshal record: %w", err)
	}
	return s.kv.Put(ctx, storeKey, raw)
}
