// Package ledger tracks already-executed content fingerprints within one
// processing pass over a message. The first occurrence of a fingerprint
// executes; repeats are suppressed so the same script appearing twice
// (say, once as raw markup and once as a formatted fence) renders once.
package ledger

// Ledger is a per-pass set of content fingerprints. It is scoped to a
// single processing pass and never shared across messages.
type Ledger struct {
	seen map[uint64]bool
	hits int
}

// New creates an empty ledger for one processing pass.
func New() *Ledger {
	return &Ledger{seen: make(map[uint64]bool)}
}

// Observe records a fingerprint and reports whether it is a duplicate of
// one already observed in this pass.
func (l *Ledger) Observe(fingerprint uint64) (duplicate bool) {
	if l.seen[fingerprint] {
		l.hits++
		return true
	}
	l.seen[fingerprint] = true
	return false
}

// Hits returns how many duplicates were suppressed this pass.
func (l *Ledger) Hits() int { return l.hits }

// Size returns how many distinct fingerprints were observed.
func (l *Ledger) Size() int { return len(l.seen) }
