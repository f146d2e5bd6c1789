// Package pairing implements one-time worker-pairing codes: an admin
// mints a short human-typeable code bound to a worker URL and runtime
// credential pair, and the unauthenticated connect endpoint consumes
// it exactly once via the store's atomic read-delete.
package pairing

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"strings"
	"time"

	"github.com/dhannusch/pincer/internal/apierr"
	"github.com/dhannusch/pincer/internal/store"
)

const (
	codeAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"
	codeLength   = 8
	keyPrefix    = "pairing:"
	ttl          = 15 * time.Minute
)

// Record is the credential triple handed to a newly paired worker.
type Record struct {
	WorkerURL  string `json:"workerUrl"`
	RuntimeKey string `json:"runtimeKey"`
	HMACSecret string `json:"hmacSecret"`
}

// Store mints and consumes pairing codes.
type Store struct {
	kv *store.Store
}

func New(kv *store.Store) *Store {
	return &Store{kv: kv}
}

// CreateResult is what Create returns: the code and its TTL.
type CreateResult struct {
	Code string
	TTL  time.Duration
}

// Create mints an 8-character code over the pairing alphabet, grouped
// XXXX-XXXX, and stores rec under it with a 15-minute TTL.
func (s *Store) Create(ctx context.Context, rec Record) (CreateResult, error) {
	code, err := generateCode()
	if err != nil {
		return CreateResult{}, apierr.Internalf("generate pairing code: %v", err)
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return CreateResult{}, apierr.Internalf("marshal pairing record: %v", err)
	}
	if err := s.kv.PutTTL(ctx, keyPrefix+code, raw, ttl); err != nil {
		return CreateResult{}, err
	}
	return CreateResult{Code: group(code), TTL: ttl}, nil
}

// Consume looks up code (case/whitespace normalized), atomically
// deleting it on success so it can never be consumed twice.
func (s *Store) Consume(ctx context.Context, code string) (Record, error) {
	normalized := normalize(code)
	raw, err := s.kv.ReadDeleteOnce(ctx, keyPrefix+normalized)
	if err == store.ErrNotFound {
		return Record{}, apierr.ErrInvalidOrExpiredCode
	}
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, apierr.ErrCorruptPairingRecord
	}
	return rec, nil
}

func normalize(code string) string {
	code = strings.TrimSpace(code)
	code = strings.ToUpper(code)
	code = strings.ReplaceAll(code, "-", "")
	return code
}

func group(code string) string {
	return code[:4] + "-" + code[4:]
}

func generateCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, codeLength)
	for i, b := range buf {
		out[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(out), nil
}
