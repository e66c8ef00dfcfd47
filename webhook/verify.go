package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

var (
	ErrMissingSignature = errors.New("webhook: missing signature")
	ErrInvalidSignature = errors.New("webhook: invalid signature")
	ErrUnknownAPIKey    = errors.New("webhook: unknown api key")
)

// VerifySignature checks the hex-encoded HMAC-SHA256 of the raw request
// body against the shared secret. It must run before any parsing.
func VerifySignature(secret, signature string, body []byte) error {
	if signature == "" {
		return ErrMissingSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

// VerifyAPIKey checks the API key header in constant time.
func VerifyAPIKey(expected, got string) error {
	if got == "" || !hmac.Equal([]byte(expected), []byte(got)) {
		return ErrUnknownAPIKey
	}
	return nil
}

// Sign computes the signature for a body. Used by tests and by callers
// that replay events internally.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
