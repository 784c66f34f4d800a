// Package auth implements callback authentication.
//
// Each provisioned unit receives a per-terminal token derived from the
// orchestrator's callback secret. Callbacks present it as a bearer token;
// a unit can only report for its own terminal id.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Token derives the callback token for a terminal id.
func Token(secret, terminalID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(terminalID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether token is valid for the terminal id. An empty
// secret disables verification (local development).
func Verify(secret, terminalID, token string) bool {
	if secret == "" {
		return true
	}
	expected := Token(secret, terminalID)
	return hmac.Equal([]byte(expected), []byte(token))
}

// ExtractBearer pulls the token out of an Authorization header value.
func ExtractBearer(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
