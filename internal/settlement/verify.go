package settlement

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// Signature computes the provider's webhook signature: base64 of
// HMAC-SHA256(key, notificationURL + body).
func Signature(key, notificationURL string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(notificationURL))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks an incoming webhook in constant time. Events that
// fail this check never reach the settlement processor.
func VerifySignature(key, notificationURL string, body []byte, got string) bool {
	want := Signature(key, notificationURL, body)
	return hmac.Equal([]byte(want), []byte(got))
}
