// Package vault implements the authenticated-encryption secret store:
// AES-256-GCM entries keyed by binding name, with a resolver that falls
// back to environment bindings when a vault entry is absent or empty.
//
// The vault never returns plaintext through listing or general
// admin-surface paths — only Get and Resolve return plaintext, and
// their callers are the egress proxy, the signed-request verifier, the
// registry's required-secrets check, and the admin doctor check.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	"github.com/awnumar/memguard"

	"github.com/dhannusch/pincer/internal/store"
)

var bindingPattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,128}$`)

// ErrInvalidBinding is returned by every operation when the binding
// name fails the naming pattern.
var ErrInvalidBinding = errors.New("vault: invalid binding name")

// ErrEmptyPlaintext is returned by Put when plaintext is empty.
var ErrEmptyPlaintext = errors.New("vault: plaintext must be non-empty")

const keyPrefix = "vault:secret:"

// record is the on-disk shape of one vault entry.
type record struct {
	KeyID      string    `json:"keyId"`
	Nonce      []byte    `json:"nonce"`
	Ciphertext []byte    `json:"ciphertext"`
	UpdatedAt  time.Time `json:"updatedAt"`
	UpdatedBy  string    `json:"updatedBy"`
}

// SecretMeta is the plaintext-free view of one binding, returned by
// ListMetadata.
type SecretMeta struct {
	Binding   string     `json:"binding"`
	Present   bool       `json:"present"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// Vault is the boundary's secret store.
type Vault struct {
	store *store.Store
	kek   *memguard.LockedBuffer
}

// New builds a Vault over kv, deriving the AES-256 key once as
// SHA-256(kek) and holding it in locked memory for the process
// lifetime. Call Close to wipe it on shutdown.
func New(kv *store.Store, kek []byte) (*Vault, error) {
	if len(kek) == 0 {
		return nil, errors.New("vault: kek must be non-empty")
	}
	sum := sha256.Sum256(kek)
	locked := memguard.NewBufferFromBytes(sum[:])
	return &Vault{store: kv, kek: locked}, nil
}

// Close wipes the derived key from memory.
func (v *Vault) Close() {
	v.kek.Destroy()
}

func (v *Vault) aesGCM() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.kek.Bytes())
	if err != nil {
		return nil, fmt.Errorf("vault: new cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func validateBinding(binding string) error {
	if !bindingPattern.MatchString(binding) {
		return ErrInvalidBinding
	}
	return nil
}

// Put encrypts plaintext under a fresh random nonce and stores it.
func (v *Vault) Put(ctx context.Context, binding, plaintext, updatedBy string) error {
	if err := validateBinding(binding); err != nil {
		return err
	}
	if plaintext == "" {
		return ErrEmptyPlaintext
	}
	gcm, err := v.aesGCM()
	if err != nil {
		return err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("vault: generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	rec := record{
		KeyID:      "v1",
		Nonce:      nonce,
		Ciphertext: ciphertext,
		UpdatedAt:  time.Now().UTC(),
		UpdatedBy:  updatedBy,
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("vault: marshal record: %w", err)
	}
	return v.store.Put(ctx, keyPrefix+binding, raw)
}

// Get returns the decrypted plaintext for binding, or "" if the
// binding is absent or decryption fails. Decryption failure is
// deliberately not surfaced as an error — callers must treat empty as
// absent, per the vault's contract.
func (v *Vault) Get(ctx context.Context, binding string) (string, error) {
	if err := validateBinding(binding); err != nil {
		return "", err
	}
	raw, err := v.store.Get(ctx, keyPrefix+binding)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return "", nil
	}
	gcm, err := v.aesGCM()
	if err != nil {
		return "", err
	}
	plaintext, err := gcm.Open(nil, rec.Nonce, rec.Ciphertext, nil)
	if err != nil {
		return "", nil
	}
	return string(plaintext), nil
}

// Resolve returns the vault plaintext for binding if non-empty,
// otherwise the same-named environment variable, otherwise "".
func (v *Vault) Resolve(ctx context.Context, binding string) (string, error) {
	plaintext, err := v.Get(ctx, binding)
	if err != nil {
		return "", err
	}
	if plaintext != "" {
		return plaintext, nil
	}
	if envVal, ok := os.LookupEnv(binding); ok {
		return envVal, nil
	}
	return "", nil
}

// Delete removes binding's stored entry, if any.
func (v *Vault) Delete(ctx context.Context, binding string) error {
	if err := validateBinding(binding); err != nil {
		return err
	}
	return v.store.Delete(ctx, keyPrefix+binding)
}

// ListMetadata returns present/absent metadata for the union of hints
// and the bindings actually stored in the vault. It never returns
// plaintext, by construction of SecretMeta.
func (v *Vault) ListMetadata(ctx context.Context, hints []string) ([]SecretMeta, error) {
	seen := make(map[string]*time.Time)
	for _, h := range hints {
		seen[h] = nil
	}
	entries, err := v.store.ListPrefix(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		binding := e.Key[len(keyPrefix):]
		var rec record
		var ts *time.Time
		if err := json.Unmarshal(e.Value, &rec); err == nil {
			t := rec.UpdatedAt
			ts = &t
		}
		seen[binding] = ts
	}

	out := make([]SecretMeta, 0, len(seen))
	for binding, ts := range seen {
		_, envPresent := os.LookupEnv(binding)
		vaultPlaintext, _ := v.Get(ctx, binding)
		out = append(out, SecretMeta{
			Binding:   binding,
			Present:   vaultPlaintext != "" || envPresent,
			UpdatedAt: ts,
		})
	}
	return out, nil
}
