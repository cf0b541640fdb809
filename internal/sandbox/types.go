package sandbox

import (
	"time"
)

// State is the externally observable lifecycle of an execution context.
type State int32

const (
	StateBuilding State = iota
	StateLoaded
	StateAwaitingOutput
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateBuilding:
		return "building"
	case StateLoaded:
		return "loaded"
	case StateAwaitingOutput:
		return "awaiting-output"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final. The no-output timeout is a
// soft warning, not a state: a context can still succeed or fail after it.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Config defines execution-context behavior.
type Config struct {
	// ExecTimeout bounds one script invocation; exceeding it interrupts
	// the VM and fails the context.
	ExecTimeout time.Duration
	// SettleDelay is how long after the first mount insertion the context
	// waits before reporting success, debounced across insertions.
	SettleDelay time.Duration
	// FallbackDelay is the longer delay after user code returns at which
	// success is reported even if the insertion observer never fired
	// (some valid code legitimately produces no DOM).
	FallbackDelay time.Duration
	// NoOutputTimeout is when the soft "no visible output" warning fires.
	NoOutputTimeout time.Duration
	// ResizeDebounce coalesces bursts of size changes into one report.
	ResizeDebounce time.Duration
	// EnableConsole captures console.* into log messages.
	EnableConsole bool
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		ExecTimeout:     5 * time.Second,
		SettleDelay:     150 * time.Millisecond,
		FallbackDelay:   1200 * time.Millisecond,
		NoOutputTimeout: 7 * time.Second,
		ResizeDebounce:  50 * time.Millisecond,
		EnableConsole:   true,
	}
}

// LogEntry is one captured console call.
type LogEntry struct {
	Level   string
	Message string
	Time    time.Time
}
