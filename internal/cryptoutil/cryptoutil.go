// Package cryptoutil holds the primitive crypto helpers shared by the
// signed-request verifier, the admin session store, and the HTTP
// router's runtime-key rotation: hashing, HMAC, and constant-time
// comparison. Every comparison of a
// hash, HMAC output, or password in the boundary goes through the
// ConstantTime* helpers here, never ==, per the verifier's contract.
package cryptoutil

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// SHA256Hex returns the lowercase hex SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HMACSHA256Hex returns the lowercase hex HMAC-SHA256 of message under key.
func HMACSHA256Hex(key, message []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// ConstantTimeEqualHex compares two hex strings in constant time with
// respect to their content. Unequal lengths short-circuit to false
// (length alone isn't considered secret for these hex-encoded digests).
func ConstantTimeEqualHex(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ConstantTimeEqual compares two byte slices in constant time.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// CanonicalSigningString builds the exact string HMAC-signed by runtime
// callers: "<METHOD>\n<path>\n<timestamp>\n<bodySha256hex>". method is
// uppercased by the caller before this is invoked; path excludes query
// and fragment.
func CanonicalSigningString(method, path string, timestampSeconds int64, bodySHA256Hex string) string {
	return fmt.Sprintf("%s\n%s\n%d\n%s", method, path, timestampSeconds, bodySHA256Hex)
}
