package httpapi

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/dhannusch/pincer/internal/cryptoutil"
)

// randomToken returns a lowercase hex string encoding n bytes of
// crypto/rand output, used to mint fresh runtime key ids and secrets
// on rotation.
func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func sha256Hex(s string) string {
	return cryptoutil.SHA256Hex([]byte(s))
}
