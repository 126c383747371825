// Package kdf implements the Key Derivation component.
//
// This is deliberately not a hardened KDF. spec.md §4.4 requires
// derive() to be bit-identical across language implementations so that
// a signature produced by one side of the system validates on the
// other; a salted or memory-hard derivation (argon2, bcrypt, scrypt)
// would break that cross-validation property and is explicitly
// disallowed. SHA-256 of the UTF-8 passphrase is the whole algorithm.
package kdf

import "crypto/sha256"

// KeySize is the fixed output size of Derive, suitable directly as an
// AES-256 key or an HMAC-SHA256 key.
const KeySize = sha256.Size

// Derive returns the 32-byte SHA-256 digest of the UTF-8 bytes of
// passphrase. It is deterministic: the same passphrase always yields
// the same key, in this implementation and in any other conforming one.
func Derive(passphrase string) [KeySize]byte {
	return sha256.Sum256([]byte(passphrase))
}
