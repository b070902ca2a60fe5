// Package secure protects resolved secret plaintext while it sits in
// memory: encrypted at rest in an awnumar/memguard enclave, decrypted only
// for the lifetime of a Use closure, and wiped the instant that closure
// returns. Grounded on systmms/dsops's own memguard-backed secure buffer,
// collapsed here into a single ResolvedSecret rather than the teacher's
// separate SecureBuffer type — locket has exactly one caller pattern (wrap
// once at resolution time, Use many times, Destroy at cycle end), so
// there's no second consumer left to justify the extra layer.
package secure

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/awnumar/memguard"
)

// ResolvedSecret is a resolved, in-memory-only secret value. Its plaintext
// never touches disk and is only ever exposed through Use; logging and
// error paths must only ever reference its Fingerprint.
type ResolvedSecret struct {
	mu          sync.RWMutex
	enclave     *memguard.Enclave
	fingerprint string
	destroyed   bool
}

// NewResolvedSecret takes ownership of plaintext, sealing it into a
// memguard enclave (encrypted with XSalsa20Poly1305, memory-locked against
// swap where the platform allows it). memguard wipes plaintext once it has
// been copied into the enclave, so the fingerprint is taken first.
func NewResolvedSecret(plaintext []byte) (*ResolvedSecret, error) {
	fingerprint := fingerprintOf(plaintext)
	return &ResolvedSecret{
		enclave:     memguard.NewEnclave(plaintext),
		fingerprint: fingerprint,
	}, nil
}

// Fingerprint returns a deterministic, non-reversible identifier derived
// from the plaintext. Safe to log; cannot be used to recover the secret.
func (s *ResolvedSecret) Fingerprint() string {
	return s.fingerprint
}

// Use decrypts the secret, passes it to fn, and wipes the decrypted copy
// before returning, regardless of whether fn returns an error. Calling Use
// on a destroyed secret runs fn against a nil slice instead of an error, so
// a late log/render race against a Destroy loses the value quietly rather
// than crashing.
func (s *ResolvedSecret) Use(fn func(plaintext []byte) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.destroyed {
		return fn(nil)
	}
	if s.enclave == nil {
		// memguard returns no enclave for an empty value.
		return fn([]byte{})
	}

	locked, err := s.enclave.Open()
	if err != nil {
		return err
	}
	defer locked.Destroy()
	return fn(locked.Bytes())
}

// Destroy releases the underlying enclave, after which Use no longer
// exposes any plaintext. Idempotent.
func (s *ResolvedSecret) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return
	}
	s.enclave = nil
	s.destroyed = true
}

// fingerprintOf derives a stable, non-reversible identifier from a secret
// value: the first 16 hex characters of its SHA-256 digest. Long enough to
// distinguish cached values in logs, short enough to stay a glance-length
// label rather than look like a usable credential.
func fingerprintOf(plaintext []byte) string {
	sum := sha256.Sum256(plaintext)
	return hex.EncodeToString(sum[:8])
}

// Purge releases all memguard-protected memory. Call once, from main, on
// clean shutdown.
func Purge() {
	memguard.Purge()
}
