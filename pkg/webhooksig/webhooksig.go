// Package webhooksig signs and verifies webhook bodies. Sellers can import
// it to check the X-Webhook-Signature header on deliveries they receive.
package webhooksig

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
)

const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderEvent     = "X-Webhook-Event"
	HeaderTimestamp = "X-Webhook-Timestamp"
)

// Sign returns the lowercase hex HMAC-SHA256 of payload keyed by secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is the HMAC of payload under secret.
// The comparison is constant-time; a signature of the wrong length is false.
func Verify(payload []byte, signature, secret string) bool {
	expected := Sign(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// VerifyRequest checks the signature header of a received delivery against
// its already-read body.
func VerifyRequest(h http.Header, body []byte, secret string) bool {
	sig := h.Get(HeaderSignature)
	if sig == "" {
		return false
	}
	return Verify(body, sig, secret)
}
