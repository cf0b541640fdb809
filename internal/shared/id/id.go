// Package id provides centralized ID generation for the engine.
//
// Context identifiers are ULIDs: time-ordered, so an identifier minted for
// a new execution context can never collide with one minted earlier in the
// process lifetime. Stale wire messages referencing a superseded frame can
// therefore never be misattributed to a live one. Prefixes keep logs
// readable (frm_*, sess_*, fix_*).
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// FrameID identifies one execution context. It is the correlation key for
// every wire message the context emits.
type FrameID string

// SessionID identifies one render session (one processing pass over a
// hosting message).
type SessionID string

// AttemptID identifies one repair attempt.
type AttemptID string

const (
	FramePrefix   = "frm"
	SessionPrefix = "sess"
	AttemptPrefix = "fix"
)

// Generator mints ULIDs with optional prefixes.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand entropy.
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source,
// useful for deterministic tests.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate mints a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix mints a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewFrameID mints a context identifier.
func NewFrameID() FrameID {
	return FrameID(Default().GenerateWithPrefix(FramePrefix))
}

// NewSessionID mints a render-session identifier.
func NewSessionID() SessionID {
	return SessionID(Default().GenerateWithPrefix(SessionPrefix))
}

// NewAttemptID mints a repair-attempt identifier.
func NewAttemptID() AttemptID {
	return AttemptID(Default().GenerateWithPrefix(AttemptPrefix))
}

func (id FrameID) String() string   { return string(id) }
func (id SessionID) String() string { return string(id) }
func (id AttemptID) String() string { return string(id) }

// IsValid reports whether the given string is a valid bare ULID.
func IsValid(id string) bool {
	_, err := ulid.Parse(id)
	return err == nil
}

// Timestamp extracts the mint time from a bare ULID string.
func Timestamp(id string) (time.Time, error) {
	parsed, err := ulid.Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
