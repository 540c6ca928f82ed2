package anon

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// KeySize is the length of the per-process digest key.
const KeySize = 32

// Anonymizer replaces device tokens with keyed digests. The key never leaves the
// process, so digests cannot be linked across restarts.
type Anonymizer struct {
	key []byte
}

// NewAnonymizer creates an Anonymizer with a fresh random key.
func NewAnonymizer() (*Anonymizer, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate anonymizer key: %w", err)
	}
	return NewAnonymizerWithKey(key)
}

// NewAnonymizerWithKey creates an Anonymizer with the given key (1 to 64 bytes).
func NewAnonymizerWithKey(key []byte) (*Anonymizer, error) {
	if len(key) == 0 || len(key) > blake2b.Size {
		return nil, fmt.Errorf("anonymizer key must be 1 to %d bytes, got %d", blake2b.Size, len(key))
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Anonymizer{key: k}, nil
}

// Digest returns the hex encoded keyed BLAKE2b-256 digest of token.
func (a *Anonymizer) Digest(token string) string {
	h, err := blake2b.New256(a.key)
	if err != nil {
		// Key length is checked at construction.
		panic(err)
	}
	h.Write([]byte(token))
	return hex.EncodeToString(h.Sum(nil))
}
