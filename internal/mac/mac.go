// Package mac implements the MAC component: HMAC-SHA256 compute and
// constant-time verify, used both to authenticate plugin artifacts
// against their stored signature and, indirectly, by the corpus's own
// AES-GCM path (where the tag plays the same role built into the
// cipher instead of a separate primitive).
package mac

import (
	"crypto/hmac"
	"crypto/sha256"
)

// Compute returns the 32-byte HMAC-SHA256 of data under key.
func Compute(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// Verify recomputes the HMAC-SHA256 of data under key and compares it
// to expected using hmac.Equal, which runs in constant time relative
// to the length of its arguments and never short-circuits on the first
// differing byte. A length mismatch returns false rather than erroring.
func Verify(key, data, expected []byte) bool {
	return hmac.Equal(Compute(key, data), expected)
}
