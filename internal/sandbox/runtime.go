package sandbox

import (
	"context"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// Runtime wraps a goja VM with security controls: dangerous globals are
// removed, timers are inert, and execution is interruptible.
type Runtime struct {
	vm     *goja.Runtime
	config Config
	mu     sync.Mutex

	console   []LogEntry
	consoleMu sync.Mutex
	onConsole func(LogEntry)
}

// NewRuntime creates a sandboxed runtime.
func NewRuntime(config Config) (*Runtime, error) {
	r := &Runtime{
		vm:     goja.New(),
		config: config,
	}
	if err := r.setupGlobals(); err != nil {
		return nil, err
	}
	return r, nil
}

// OnConsole registers a callback invoked for each captured console call.
func (r *Runtime) OnConsole(fn func(LogEntry)) {
	r.consoleMu.Lock()
	r.onConsole = fn
	r.consoleMu.Unlock()
}

// Bind exposes a host value inside the VM under the given global name.
func (r *Runtime) Bind(name string, value interface{}) error {
	return r.vm.Set(name, value)
}

// VM exposes the underlying goja runtime for host-capability closures
// that need to throw typed JavaScript errors.
func (r *Runtime) VM() *goja.Runtime { return r.vm }

// Execute runs a program with an interrupt-based timeout. Exceptions the
// program does not catch come back as errors, never as panics.
func (r *Runtime) Execute(ctx context.Context, program string, timeout time.Duration) (goja.Value, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-timer.C:
			r.vm.Interrupt("execution timeout exceeded")
		case <-ctx.Done():
			r.vm.Interrupt("context cancelled")
		case <-done:
		}
	}()

	return r.vm.RunString(program)
}

// Console returns a copy of captured console output.
func (r *Runtime) Console() []LogEntry {
	r.consoleMu.Lock()
	defer r.consoleMu.Unlock()
	return append([]LogEntry{}, r.console...)
}

// Reset discards all VM state, returning the runtime to a clean slate.
func (r *Runtime) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.vm = goja.New()
	r.consoleMu.Lock()
	r.console = nil
	r.onConsole = nil
	r.consoleMu.Unlock()
	return r.setupGlobals()
}

// Close releases resources.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vm = nil
	return nil
}

// setupGlobals configures the VM's global surface. User code sees
// document, window, console, and (bound later) the host object, and
// nothing with host reach.
func (r *Runtime) setupGlobals() error {
	// Go-side names map into JavaScript with a lowercased first letter
	// (AppendChild → appendChild), matching the DOM idiom user code expects.
	r.vm.SetFieldNameMapper(goja.UncapFieldNameMapper())

	// Remove CommonJS escape hatches.
	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := r.vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	if r.config.EnableConsole {
		console := r.vm.NewObject()
		for _, level := range []string{"log", "warn", "error", "info"} {
			if err := console.Set(level, r.makeConsoleFunc(level)); err != nil {
				return err
			}
		}
		if err := r.vm.Set("console", console); err != nil {
			return err
		}
	}

	// Timers are inert: completion is detected by DOM observation, and a
	// unit cannot keep itself alive past its execution window.
	noop := func(call goja.FunctionCall) goja.Value { return goja.Undefined() }
	if err := r.vm.Set("setTimeout", noop); err != nil {
		return err
	}
	if err := r.vm.Set("setInterval", noop); err != nil {
		return err
	}

	return r.vm.Set("window", r.vm.GlobalObject())
}

func (r *Runtime) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		var sb []byte
		for i, arg := range call.Arguments {
			if i > 0 {
				sb = append(sb, ' ')
			}
			sb = append(sb, arg.String()...)
		}

		entry := LogEntry{Level: level, Message: string(sb), Time: time.Now()}

		r.consoleMu.Lock()
		r.console = append(r.console, entry)
		cb := r.onConsole
		r.consoleMu.Unlock()

		if cb != nil {
			cb(entry)
		}
		return goja.Undefined()
	}
}
