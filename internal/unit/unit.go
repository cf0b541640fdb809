// Package unit defines the Code Unit: the smallest executable fragment
// extracted from a chat message. Units are immutable once created; repair
// supersedes a unit with a new one, it never mutates the original.
package unit

import (
	"github.com/codefence/codefence/internal/classify"
	"github.com/codefence/codefence/internal/shared/hash"
)

// Span locates a unit's exact source inside the hosting message's raw
// text. It is recorded at extraction time and threaded through to the
// repair loop, so a fix is always spliced at the right occurrence even
// when a message contains near-identical blocks.
type Span struct {
	Start int
	End   int
}

// Valid reports whether the span can address source of the given length.
func (s Span) Valid(sourceLen int) bool {
	return s.Start >= 0 && s.End >= s.Start && s.End <= sourceLen
}

// Unit is one extracted, classified fragment of executable source.
type Unit struct {
	// Source is the entity-decoded executable text.
	Source string
	// Raw is the fragment body exactly as it occurs in the message,
	// before entity decoding and script extraction. Raw is what Span
	// addresses; repair validates and splices against it.
	Raw string
	// Libs lists declared dependency aliases, in request order.
	Libs []string
	// Fingerprint is the dedup key over normalized source.
	Fingerprint uint64
	// Flavor records how the classifier recognized the unit.
	Flavor classify.Flavor
	// Tag is the fence language tag the unit came from ("" if untagged).
	Tag string
	// Span locates Raw in the message source.
	Span Span
}

// New builds a unit, computing its fingerprint.
func New(source, raw string, libs []string, flavor classify.Flavor, tag string, span Span) Unit {
	return Unit{
		Source:      source,
		Raw:         raw,
		Libs:        libs,
		Fingerprint: hash.Fingerprint(source),
		Flavor:      flavor,
		Tag:         tag,
		Span:        span,
	}
}
