package sandbox

import (
	"context"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/codefence/codefence/internal/wire"
)

// Emitter delivers wire messages from a context to the host-side router.
type Emitter func(wire.Message)

// defaultInjectID is the injection identifier used when user code does
// not provide one.
const defaultInjectID = "codefence"

// Context is one isolated sandbox instance bound to exactly one code
// unit. It is owned by the router session for its lifetime and abandoned,
// never force-terminated, when the hosting message is re-processed.
type Context struct {
	frameID string
	program string
	cfg     Config
	pool    *Pool
	emit    Emitter

	mu            sync.Mutex
	state         State
	warned        bool
	closed        bool
	duration      time.Duration
	pendingHeight int
	lastHeight    int

	settleTimer   *time.Timer
	fallbackTimer *time.Timer
	noOutputTimer *time.Timer
	resizeTimer   *time.Timer
}

// NewContext creates a context for an already-composed program. The
// caller has run Precheck and resolved dependencies; frameID is fresh.
func NewContext(frameID, program string, cfg Config, pool *Pool, emit Emitter) *Context {
	return &Context{
		frameID: frameID,
		program: program,
		cfg:     cfg,
		pool:    pool,
		emit:    emit,
		state:   StateBuilding,
	}
}

// FrameID returns the context's correlation key.
func (c *Context) FrameID() string { return c.frameID }

// State returns the current lifecycle state.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Warned reports whether the soft no-output warning fired.
func (c *Context) Warned() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.warned
}

// Duration returns how long the script invocation ran.
func (c *Context) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duration
}

// Run executes the context to completion. It blocks for the script
// invocation itself; the settle, fallback, and no-output detectors keep
// firing asynchronously afterwards. Callers run it in its own goroutine.
func (c *Context) Run(ctx context.Context) {
	c.setState(StateLoaded)

	dom := NewDOM()
	dom.OnInsert(c.observeInsert)
	dom.OnResize(c.observeResize)

	rt, release, err := c.acquireRuntime(ctx)
	if err != nil {
		c.fail("sandbox unavailable: "+err.Error(), true)
		return
	}
	defer release()

	rt.OnConsole(func(e LogEntry) {
		c.send(wire.NewLog(c.frameID, e.Level, e.Message))
	})

	bridge := map[string]interface{}{
		"mount": func() *Element { return dom.Mount() },
		"done":  func() { c.invocationReturned() },
		"fail":  func(msg string) { c.fail(msg, false) },
	}
	host := map[string]interface{}{
		"inject": c.makeInject(rt),
	}

	if err := bindAll(rt, map[string]interface{}{
		"__bridge": bridge,
		"document": dom,
		"host":     host,
	}); err != nil {
		c.fail("sandbox setup failed: "+err.Error(), true)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.state = StateAwaitingOutput
	c.noOutputTimer = time.AfterFunc(c.cfg.NoOutputTimeout, func() {
		c.warnNoOutput(dom)
	})
	c.mu.Unlock()

	start := time.Now()
	_, err = rt.Execute(ctx, c.program, c.cfg.ExecTimeout)

	c.mu.Lock()
	c.duration = time.Since(start)
	c.mu.Unlock()

	// The composed program converts script exceptions into __bridge.fail
	// itself; an error here means the VM was interrupted (timeout or
	// cancellation) or the program could not be parsed at all.
	if err != nil {
		c.fail(err.Error(), false)
	}
}

// Close abandons the context: all pending detectors are stopped and any
// message they would have produced is suppressed. Run may still be
// executing; its results are dropped by the closed flag.
func (c *Context) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.stopTimersLocked()
}

func (c *Context) acquireRuntime(ctx context.Context) (*Runtime, func(), error) {
	if c.pool != nil {
		rt, err := c.pool.Acquire(ctx)
		if err != nil {
			return nil, nil, err
		}
		return rt, func() { c.pool.Release(rt) }, nil
	}
	rt, err := NewRuntime(c.cfg)
	if err != nil {
		return nil, nil, err
	}
	return rt, func() { rt.Close() }, nil
}

// observeInsert is the completion detector: the first insertion (and each
// subsequent one) resets a settle timer; when the tree stops changing the
// context reports success.
func (c *Context) observeInsert() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Terminal() || c.closed {
		return
	}
	if c.settleTimer != nil {
		c.settleTimer.Stop()
	}
	c.settleTimer = time.AfterFunc(c.cfg.SettleDelay, c.succeed)
}

// observeResize is the size detector, debounced at the source.
func (c *Context) observeResize(height int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.pendingHeight = height
	if c.resizeTimer != nil {
		c.resizeTimer.Stop()
	}
	c.resizeTimer = time.AfterFunc(c.cfg.ResizeDebounce, c.flushResize)
}

func (c *Context) flushResize() {
	c.mu.Lock()
	if c.closed || c.pendingHeight == c.lastHeight {
		c.mu.Unlock()
		return
	}
	height := c.pendingHeight
	c.lastHeight = height
	c.mu.Unlock()

	c.send(wire.NewResize(c.frameID, height))
}

// invocationReturned schedules the fallback success report: some valid
// code legitimately produces no DOM (pure context injection) and must not
// hang in the loading state forever.
func (c *Context) invocationReturned() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Terminal() || c.closed {
		return
	}
	if c.fallbackTimer != nil {
		c.fallbackTimer.Stop()
	}
	c.fallbackTimer = time.AfterFunc(c.cfg.FallbackDelay, c.succeed)
}

func (c *Context) warnNoOutput(dom *DOM) {
	c.mu.Lock()
	if c.closed || c.state.Terminal() || dom.Inserted() {
		c.mu.Unlock()
		return
	}
	c.warned = true
	c.mu.Unlock()

	c.send(wire.NewTimeout(c.frameID))
}

func (c *Context) succeed() {
	c.mu.Lock()
	if c.state.Terminal() || c.closed {
		c.mu.Unlock()
		return
	}
	c.state = StateSucceeded
	c.stopTimersLocked()
	c.mu.Unlock()

	c.send(wire.NewSuccess(c.frameID))
}

func (c *Context) fail(message string, setup bool) {
	c.mu.Lock()
	if c.state.Terminal() || c.closed {
		c.mu.Unlock()
		return
	}
	c.state = StateFailed
	c.stopTimersLocked()
	c.mu.Unlock()

	c.send(wire.NewError(c.frameID, message, setup))
}

func (c *Context) setState(s State) {
	c.mu.Lock()
	if !c.state.Terminal() && !c.closed {
		c.state = s
	}
	c.mu.Unlock()
}

// stopTimersLocked must be called with the mutex held.
func (c *Context) stopTimersLocked() {
	for _, t := range []*time.Timer{c.settleTimer, c.fallbackTimer, c.noOutputTimer, c.resizeTimer} {
		if t != nil {
			t.Stop()
		}
	}
}

func (c *Context) send(m wire.Message) {
	if c.emit != nil {
		c.emit(m)
	}
}

// makeInject builds the single host capability exposed to user code.
// Everything else is intentionally absent.
func (c *Context) makeInject(rt *Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		vm := rt.VM()
		if len(call.Arguments) == 0 || goja.IsUndefined(call.Arguments[0]) || goja.IsNull(call.Arguments[0]) {
			panic(vm.NewTypeError("inject: options object required"))
		}

		obj := call.Arguments[0].ToObject(vm)
		contentVal := obj.Get("content")
		if contentVal == nil || goja.IsUndefined(contentVal) || goja.IsNull(contentVal) {
			panic(vm.NewTypeError("inject: content is required"))
		}
		content, ok := contentVal.Export().(string)
		if !ok {
			panic(vm.NewTypeError("inject: content must be a string"))
		}

		inj := wire.Injection{ID: defaultInjectID, Content: content}
		if v := obj.Get("id"); v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
			if s, ok := v.Export().(string); ok && s != "" {
				inj.ID = s
			}
		}
		if v := obj.Get("depth"); v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
			inj.Depth = int(v.ToInteger())
		}
		if v := obj.Get("ephemeral"); v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
			inj.Ephemeral = v.ToBoolean()
		}

		c.send(wire.NewInject(c.frameID, inj))
		return goja.Undefined()
	}
}

func bindAll(rt *Runtime, values map[string]interface{}) error {
	for name, v := range values {
		if err := rt.Bind(name, v); err != nil {
			return err
		}
	}
	return nil
}
