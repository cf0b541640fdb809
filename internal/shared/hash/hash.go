// Package hash provides content hashing for code units.
//
// Two algorithms serve two different needs: SHA-256 for durable content
// digests (persisted alongside messages, collision resistance matters) and
// FNV-1a for the per-pass dedup ledger, where a cheap 64-bit fingerprint is
// enough because the worst consequence of a collision is hiding one
// visually identical duplicate block.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"hash/fnv"
	"strings"
)

// Algorithm selects the hashing algorithm.
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	FNV64  Algorithm = "fnv64"
)

// Hasher computes hex-encoded digests.
type Hasher struct {
	algorithm Algorithm
}

// New creates a hasher with the given algorithm.
func New(algorithm Algorithm) *Hasher {
	return &Hasher{algorithm: algorithm}
}

// Default returns a SHA-256 hasher.
func Default() *Hasher {
	return New(SHA256)
}

// Hash digests the input bytes.
func (h *Hasher) Hash(data []byte) string {
	switch h.algorithm {
	case FNV64:
		f := fnv.New64a()
		f.Write(data)
		return hex.EncodeToString(f.Sum(nil))
	default:
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:])
	}
}

// HashString digests a string.
func (h *Hasher) HashString(s string) string {
	return h.Hash([]byte(s))
}

// Fingerprint computes the 64-bit FNV-1a fingerprint of normalized source.
// This is the value the dedup ledger tracks within one processing pass.
func Fingerprint(source string) uint64 {
	f := fnv.New64a()
	f.Write([]byte(Normalize(source)))
	return f.Sum64()
}

// Normalize strips the variance that should not defeat deduplication:
// leading/trailing blank space per line, trailing whitespace, and CRLF
// line endings.
func Normalize(source string) string {
	source = strings.ReplaceAll(source, "\r\n", "\n")
	lines := strings.Split(source, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		out = append(out, strings.TrimSpace(line))
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
