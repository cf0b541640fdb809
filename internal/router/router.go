package router

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/codefence/codefence/internal/chat"
	"github.com/codefence/codefence/internal/infrastructure/logging"
	"github.com/codefence/codefence/internal/infrastructure/monitoring"
	"github.com/codefence/codefence/internal/sandbox"
	"github.com/codefence/codefence/internal/shared/id"
	"github.com/codefence/codefence/internal/unit"
	"github.com/codefence/codefence/internal/wire"
)

// Config bounds the router's height policy and queue depth.
type Config struct {
	// HeightCeiling caps reported frame heights.
	HeightCeiling int
	// HeightPadding is added to every reported content height.
	HeightPadding int
	// QueueSize is the inbound wire message buffer.
	QueueSize int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{HeightCeiling: 600, HeightPadding: 16, QueueSize: 256}
}

// Router dispatches wire messages to per-session frame state. All state
// mutation happens on the Run goroutine.
type Router struct {
	cfg      Config
	logger   *logging.Logger
	metrics  *monitoring.Metrics
	injector chat.Injector

	in   chan wire.Message
	ops  chan func()
	done chan struct{}
	once sync.Once

	// Owned by the Run goroutine.
	sessions  map[string]*session
	byMessage map[string]*session
	byFrame   map[string]*session

	onRepair  func(RepairRequest)
	listeners []func(Update)
}

// New creates a router. metrics may be nil.
func New(cfg Config, logger *logging.Logger, metrics *monitoring.Metrics, injector chat.Injector) *Router {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Router{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		injector:  injector,
		in:        make(chan wire.Message, cfg.QueueSize),
		ops:       make(chan func()),
		done:      make(chan struct{}),
		sessions:  map[string]*session{},
		byMessage: map[string]*session{},
		byFrame:   map[string]*session{},
	}
}

// OnRepairable registers the repair engine's entry point. Must be set
// before Run.
func (r *Router) OnRepairable(fn func(RepairRequest)) { r.onRepair = fn }

// OnUpdate registers a UI listener. Must be set before Run; callbacks
// run on the dispatch goroutine and must not block.
func (r *Router) OnUpdate(fn func(Update)) {
	r.listeners = append(r.listeners, fn)
}

// Emit is the sandbox-facing entry point; it satisfies sandbox.Emitter.
func (r *Router) Emit(m wire.Message) {
	select {
	case r.in <- m:
	case <-r.done:
	}
}

// Run processes messages and control operations until ctx is cancelled.
func (r *Router) Run(ctx context.Context) {
	defer r.once.Do(func() { close(r.done) })
	for {
		select {
		case <-ctx.Done():
			r.teardownAll()
			return
		case m := <-r.in:
			r.dispatch(m)
		case op := <-r.ops:
			op()
		}
	}
}

// do runs op on the dispatch goroutine and waits for it.
func (r *Router) do(op func()) {
	fin := make(chan struct{})
	select {
	case r.ops <- func() { op(); close(fin) }:
		<-fin
	case <-r.done:
	}
}

// BeginSession opens a fresh session for a message, superseding and
// tearing down any previous session for the same message.
func (r *Router) BeginSession(messageID string, sourceHash uint64) string {
	sessionID := id.NewSessionID().String()
	r.do(func() {
		if prev, ok := r.byMessage[messageID]; ok {
			r.teardown(prev)
		}
		s := &session{
			id:         sessionID,
			messageID:  messageID,
			sourceHash: sourceHash,
			frames:     map[string]*frameState{},
		}
		r.sessions[sessionID] = s
		r.byMessage[messageID] = s
	})
	return sessionID
}

// RegisterFrame attaches an execution context to a session before it
// starts emitting.
func (r *Router) RegisterFrame(sessionID, frameID string, u unit.Unit, cx *sandbox.Context) {
	r.do(func() {
		s, ok := r.sessions[sessionID]
		if !ok {
			if cx != nil {
				cx.Close()
			}
			return
		}
		s.frames[frameID] = &frameState{unit: u, cx: cx, phase: PhaseRunning}
		s.order = append(s.order, frameID)
		r.byFrame[frameID] = s
		if r.metrics != nil {
			r.metrics.ContextsActive.Inc()
		}
	})
}

// CloseMessage tears down the session for a message, if any. Used when a
// message is edited or deleted.
func (r *Router) CloseMessage(messageID string) {
	r.do(func() {
		if s, ok := r.byMessage[messageID]; ok {
			r.teardown(s)
		}
	})
}

// Reset tears down every session. Used when the conversation changes.
func (r *Router) Reset() {
	r.do(func() { r.teardownAll() })
}

// Publish forwards an out-of-band update to UI listeners. Components
// outside the dispatch loop (the repair engine) use it for user-visible
// notices.
func (r *Router) Publish(u Update) {
	r.do(func() { r.notify(u) })
}

// RepairDone clears the session's busy flag after a repair attempt
// finishes, whatever its outcome.
func (r *Router) RepairDone(sessionID string) {
	r.do(func() {
		if s, ok := r.sessions[sessionID]; ok {
			s.busy = false
		}
	})
}

// ShouldSkip reports whether a message with unchanged source needs no
// reprocessing: its current session has the same hash and nothing failed.
func (r *Router) ShouldSkip(messageID string, sourceHash uint64) bool {
	skip := false
	r.do(func() {
		s, ok := r.byMessage[messageID]
		skip = ok && s.sourceHash == sourceHash && !s.anyFailed()
	})
	return skip
}

// Session returns a snapshot of the session rendering a message.
func (r *Router) Session(messageID string) (SessionView, bool) {
	var view SessionView
	found := false
	r.do(func() {
		if s, ok := r.byMessage[messageID]; ok {
			view = snapshot(s)
			found = true
		}
	})
	return view, found
}

// FailedFrames returns repair requests for every failed frame of a
// message's session, setup failures included. The manual heal trigger
// uses it; automatic repair never does.
func (r *Router) FailedFrames(messageID string) []RepairRequest {
	var reqs []RepairRequest
	r.do(func() {
		s, ok := r.byMessage[messageID]
		if !ok {
			return
		}
		for _, frameID := range s.order {
			f := s.frames[frameID]
			if f.phase != PhaseFailed {
				continue
			}
			reqs = append(reqs, RepairRequest{
				SessionID: s.id,
				MessageID: s.messageID,
				FrameID:   frameID,
				Unit:      f.unit,
				ErrorText: f.errTxt,
			})
		}
	})
	return reqs
}

// Sessions returns snapshots of all live sessions.
func (r *Router) Sessions() []SessionView {
	var views []SessionView
	r.do(func() {
		for _, s := range r.sessions {
			views = append(views, snapshot(s))
		}
	})
	return views
}

func snapshot(s *session) SessionView {
	v := SessionView{
		SessionID: s.id,
		MessageID: s.messageID,
		Busy:      s.busy,
		Succeeded: s.fullySucceeded(),
	}
	for _, frameID := range s.order {
		f := s.frames[frameID]
		v.Frames = append(v.Frames, FrameView{
			FrameID: frameID,
			Phase:   f.phase.String(),
			Height:  f.height,
			Error:   f.errTxt,
			Setup:   f.setup,
			Warned:  f.warned,
		})
	}
	return v
}

func (r *Router) dispatch(m wire.Message) {
	s, ok := r.byFrame[m.FrameID]
	if !ok {
		// Stale or foreign frame: context outlived its session.
		r.logger.Debug("dropping message for unknown frame",
			zap.String("frame_id", m.FrameID),
			zap.String("type", string(m.Type)))
		return
	}
	f := s.frames[m.FrameID]

	switch m.Type {
	case wire.TypeSuccess:
		if f.phase.terminal() {
			return
		}
		f.phase = PhaseSucceeded
		if r.metrics != nil {
			r.metrics.RecordExecution("success", frameDuration(f))
		}
		r.notify(Update{Kind: UpdatePhase, SessionID: s.id, MessageID: s.messageID, FrameID: m.FrameID, Phase: f.phase.String()})

	case wire.TypeError:
		if f.phase.terminal() {
			return
		}
		f.phase = PhaseFailed
		f.errTxt = m.Message
		f.setup = m.Setup
		if r.metrics != nil {
			r.metrics.RecordExecution("failure", frameDuration(f))
		}
		r.logger.Warn("execution context failed",
			zap.String("frame_id", m.FrameID),
			zap.Bool("setup", m.Setup),
			zap.String("error", m.Message))
		r.notify(Update{Kind: UpdatePhase, SessionID: s.id, MessageID: s.messageID, FrameID: m.FrameID, Phase: f.phase.String(), Error: m.Message})
		r.maybeRepair(s, m.FrameID, f)

	case wire.TypeResize:
		if f.phase.terminal() {
			return
		}
		h := m.Height + r.cfg.HeightPadding
		if h > r.cfg.HeightCeiling {
			h = r.cfg.HeightCeiling
			if r.metrics != nil {
				r.metrics.ResizeClamps.Inc()
			}
		}
		// Heights only grow within a frame's lifetime.
		if h <= f.height {
			return
		}
		f.height = h
		r.notify(Update{Kind: UpdateResize, SessionID: s.id, MessageID: s.messageID, FrameID: m.FrameID, Height: h})

	case wire.TypeInject:
		if err := m.Inject.Validate(); err != nil {
			r.logger.Warn("rejecting malformed injection",
				zap.String("frame_id", m.FrameID), zap.Error(err))
			return
		}
		inj := *m.Inject
		messageID := s.messageID
		// Injection crosses into the chat collaborator; keep the dispatch
		// goroutine free.
		go func() {
			if err := r.injector.InjectContext(context.Background(), inj.ID, inj.Depth, inj.Content, inj.Ephemeral); err != nil {
				r.logger.Error("context injection failed",
					zap.String("message_id", messageID), zap.Error(err))
			}
		}()

	case wire.TypeLog:
		r.notify(Update{Kind: UpdateLog, SessionID: s.id, MessageID: s.messageID, FrameID: m.FrameID, Level: m.Level, Text: m.Message})

	case wire.TypeTimeout:
		if f.phase.terminal() {
			return
		}
		f.warned = true
		r.notify(Update{Kind: UpdateWarning, SessionID: s.id, MessageID: s.messageID, FrameID: m.FrameID, Text: m.Message})
	}
}

// maybeRepair starts one repair attempt for an execution failure. Setup
// failures (missing bundles, broken composition) are not repairable from
// the model's side and stay manual.
func (r *Router) maybeRepair(s *session, frameID string, f *frameState) {
	if f.setup || r.onRepair == nil || s.busy {
		return
	}
	s.busy = true
	req := RepairRequest{
		SessionID: s.id,
		MessageID: s.messageID,
		FrameID:   frameID,
		Unit:      f.unit,
		ErrorText: f.errTxt,
	}
	go r.onRepair(req)
}

func (r *Router) teardown(s *session) {
	for frameID, f := range s.frames {
		if f.cx != nil {
			f.cx.Close()
		}
		delete(r.byFrame, frameID)
		if r.metrics != nil {
			r.metrics.ContextsActive.Dec()
		}
	}
	delete(r.sessions, s.id)
	delete(r.byMessage, s.messageID)
	r.notify(Update{Kind: UpdateSessionClosed, SessionID: s.id, MessageID: s.messageID})
}

func (r *Router) teardownAll() {
	for _, s := range r.sessions {
		r.teardown(s)
	}
}

func frameDuration(f *frameState) time.Duration {
	if f.cx == nil {
		return 0
	}
	return f.cx.Duration()
}

func (r *Router) notify(u Update) {
	for _, fn := range r.listeners {
		fn(u)
	}
}
