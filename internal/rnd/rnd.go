// Package rnd provides the single cryptographically secure randomness
// source used across the tunnel: the handshake challenge and the
// session key/IV.
package rnd

import (
	"crypto/rand"
	"fmt"
	"io"
)

// Fill overwrites dst with cryptographically secure random bytes.
// It panics if the platform RNG fails, since there is no sane fallback
// for a caller that cannot get secure randomness.
func Fill(dst []byte) {
	if len(dst) == 0 {
		return
	}
	if _, err := io.ReadFull(rand.Reader, dst); err != nil {
		panic(fmt.Errorf("rnd: failed to read secure randomness: %w", err))
	}
}

// Bytes returns a fresh slice of n cryptographically secure random bytes.
func Bytes(n int) []byte {
	b := make([]byte, n)
	Fill(b)
	return b
}
