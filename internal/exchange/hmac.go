package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign computes the hex-encoded HMAC-SHA256 of payload under secret. Each
// exchange canonicalizes its own signed payload string before calling this;
// the primitive itself is exchange-agnostic (spec.md §4.2 "Authentication"),
// grounded on the inline crypto/hmac signing in
// ghostsworm-quantmesh/exchange/poloniex/websocket.go's authenticate.
func Sign(secret, payload string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}
