// Package signing computes the request signature shared with the attendance backend.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

const (
	// HeaderTimestamp carries the signed timestamp in decimal milliseconds.
	HeaderTimestamp = "X-App-Timestamp"
	// HeaderSignature carries the lowercase hex signature.
	HeaderSignature = "X-App-Signature"
)

// Sign returns hex(HMAC-SHA256(secret, body || timestamp || secret)).
// The secret is appended to the message as well as used as the key; the backend
// computes the same construction, so it must not be changed.
func Sign(body []byte, timestamp string, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	mac.Write([]byte(timestamp))
	mac.Write(secret)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches the one Sign would produce.
func Verify(body []byte, timestamp, signature string, secret []byte) bool {
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(Sign(body, timestamp, secret))
	return hmac.Equal(got, want)
}

// Timestamp renders t as milliseconds since the Unix epoch.
func Timestamp(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
