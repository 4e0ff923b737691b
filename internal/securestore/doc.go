// Package securestore wraps a persistent key-value backend with at-rest
// encryption for JSON payloads.
//
// Values are JSON-encoded, sealed with XChaCha20-Poly1305 under a subkey
// derived (HKDF-SHA256) from a per-installation device key, and written under
// namespace+key. The namespaced key is bound as associated data, so a
// ciphertext copied to another key fails to open.
//
// # Failure Policy
//
// Writes fail loudly (*WriteError). Reads fail open: Get reports "not found"
// for absent, undecryptable or unparsable values. GetRaw exposes the
// distinction (ErrNotFound vs *ReadError) for diagnostics.
//
// # Key Management
//
// LoadOrCreateKey reads the device key from a private file, generating and
// persisting 32 random bytes on first use. Losing the file makes every
// previously written value unrecoverable.
package securestore
