package repair

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/codefence/codefence/internal/chat"
	"github.com/codefence/codefence/internal/classify"
	"github.com/codefence/codefence/internal/infrastructure/logging"
	"github.com/codefence/codefence/internal/infrastructure/monitoring"
	"github.com/codefence/codefence/internal/router"
	"github.com/codefence/codefence/internal/shared/id"
	"github.com/codefence/codefence/internal/unit"
)

// Reprocessor re-runs a message after its source was patched.
type Reprocessor func(ctx context.Context, messageID string)

// Config controls the repair engine.
type Config struct {
	// Enabled turns the automatic loop on. Manual heal requests work
	// either way.
	Enabled bool
}

// Engine executes repair attempts handed over by the router.
type Engine struct {
	cfg       Config
	store     chat.Store
	completer Completer
	router    *router.Router
	reprocess Reprocessor
	metrics   *monitoring.Metrics
	logger    *logging.Logger

	mu sync.Mutex
	// attempted tracks unit fingerprints already repaired per message, so
	// a fix that reproduces the same failure is not retried forever.
	attempted map[string]map[uint64]bool
}

// NewEngine wires the repair loop.
func NewEngine(cfg Config, store chat.Store, completer Completer, rt *router.Router, reprocess Reprocessor, metrics *monitoring.Metrics, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{
		cfg:       cfg,
		store:     store,
		completer: completer,
		router:    rt,
		reprocess: reprocess,
		metrics:   metrics,
		logger:    logger,
		attempted: map[string]map[uint64]bool{},
	}
}

// Handle runs one repair attempt. The router calls it off the dispatch
// goroutine with the session already marked busy.
func (e *Engine) Handle(req router.RepairRequest) {
	defer e.router.RepairDone(req.SessionID)

	if !e.cfg.Enabled {
		e.record("disabled")
		return
	}
	e.Attempt(context.Background(), req)
}

// Attempt performs one automatic repair attempt. A unit already attempted
// for this message is refused with a user-visible notice; a later manual
// Heal can still retry it.
func (e *Engine) Attempt(ctx context.Context, req router.RepairRequest) {
	if !e.markAttempted(req.MessageID, req.Unit.Fingerprint) {
		e.logger.Info("unit already repaired once, leaving it failed",
			zap.String("message_id", req.MessageID),
			zap.String("frame_id", req.FrameID))
		e.record("exhausted")
		e.router.Publish(router.Update{
			Kind:      router.UpdateRepair,
			SessionID: req.SessionID,
			MessageID: req.MessageID,
			FrameID:   req.FrameID,
			Text:      "automatic fix attempts exhausted; heal to retry",
		})
		return
	}
	e.attempt(ctx, req)
}

// Heal grants one more attempt regardless of history. The manual heal
// trigger calls it; the automatic loop never does.
func (e *Engine) Heal(ctx context.Context, req router.RepairRequest) {
	e.mu.Lock()
	seen := e.attempted[req.MessageID]
	if seen == nil {
		seen = map[uint64]bool{}
		e.attempted[req.MessageID] = seen
	}
	seen[req.Unit.Fingerprint] = true
	e.mu.Unlock()

	e.attempt(ctx, req)
}

func (e *Engine) attempt(ctx context.Context, req router.RepairRequest) {
	attemptID := id.NewAttemptID()
	log := e.logger.With(
		zap.String("attempt_id", string(attemptID)),
		zap.String("message_id", req.MessageID),
		zap.String("frame_id", req.FrameID),
	)

	source, err := e.store.Source(ctx, req.MessageID)
	if err != nil {
		e.abort(log, req, "message source unavailable", err)
		return
	}

	// The span addresses the raw fragment body, which may wrap the
	// executable source in markup or entity encoding. Drift is detected
	// against the raw bytes recorded at extraction time.
	span := req.Unit.Span
	if !span.Valid(len(source)) || source[span.Start:span.End] != req.Unit.Raw {
		e.abort(log, req, "message changed since extraction", nil)
		return
	}

	reply, err := e.completer.Complete(ctx, buildPrompt(req.Unit.Source, req.ErrorText))
	if err != nil {
		e.abort(log, req, "completion service unavailable", err)
		return
	}

	fixed := ExtractCode(reply)
	if fixed == "" || strings.TrimSpace(fixed) == strings.TrimSpace(req.Unit.Source) {
		e.abort(log, req, "no usable fix produced", nil)
		return
	}

	replacement, ok := rewrap(req.Unit, fixed)
	if !ok {
		e.abort(log, req, "cannot splice fix into its markup", nil)
		return
	}

	patched := source[:span.Start] + replacement + source[span.End:]
	if err := e.store.Update(ctx, req.MessageID, patched); err != nil {
		e.abort(log, req, "could not write patched message", err)
		return
	}

	log.Info("fix applied, reprocessing message")
	e.record("applied")
	e.router.Publish(router.Update{
		Kind:      router.UpdateRepair,
		SessionID: req.SessionID,
		MessageID: req.MessageID,
		FrameID:   req.FrameID,
		Text:      "automatic fix applied",
	})

	if e.reprocess != nil {
		e.reprocess(ctx, req.MessageID)
	}
}

// Forget clears attempt history for a message, re-arming repair after a
// user edit. ForgetAll re-arms everything on conversation change.
func (e *Engine) Forget(messageID string) {
	e.mu.Lock()
	delete(e.attempted, messageID)
	e.mu.Unlock()
}

func (e *Engine) ForgetAll() {
	e.mu.Lock()
	e.attempted = map[string]map[uint64]bool{}
	e.mu.Unlock()
}

func (e *Engine) markAttempted(messageID string, fingerprint uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	seen := e.attempted[messageID]
	if seen == nil {
		seen = map[uint64]bool{}
		e.attempted[messageID] = seen
	}
	if seen[fingerprint] {
		return false
	}
	seen[fingerprint] = true
	return true
}

func (e *Engine) abort(log *zap.Logger, req router.RepairRequest, reason string, err error) {
	if err != nil {
		log.Warn("repair aborted", zap.String("reason", reason), zap.Error(err))
	} else {
		log.Warn("repair aborted", zap.String("reason", reason))
	}
	e.record("aborted")
	e.router.Publish(router.Update{
		Kind:      router.UpdateRepair,
		SessionID: req.SessionID,
		MessageID: req.MessageID,
		FrameID:   req.FrameID,
		Text:      "automatic fix failed: " + reason,
	})
}

func (e *Engine) record(result string) {
	if e.metrics != nil {
		e.metrics.RecordRepair(result)
	}
}

var inlineScriptRe = regexp.MustCompile(`(?is)(<script[^>]*>)(.*?)(</script>)`)

// rewrap builds the replacement for a unit's raw fragment body. Script
// units keep the body's edge whitespace so the surrounding fence stays
// intact; markup units keep the markup and swap only the script inside.
func rewrap(u unit.Unit, fixed string) (string, bool) {
	fixed = strings.TrimSpace(fixed)

	if u.Flavor != classify.MarkupWithScript {
		prefix := u.Raw[:len(u.Raw)-len(strings.TrimLeft(u.Raw, " \t\n"))]
		suffix := u.Raw[len(strings.TrimRight(u.Raw, " \t\n")):]
		return prefix + fixed + suffix, true
	}

	// The extracted script usually appears verbatim inside its markup.
	if idx := strings.Index(u.Raw, u.Source); idx >= 0 {
		return u.Raw[:idx] + fixed + u.Raw[idx+len(u.Source):], true
	}

	// Entity-encoded script bodies never match verbatim; swap the body of
	// the first inline script element instead.
	for _, loc := range inlineScriptRe.FindAllStringSubmatchIndex(u.Raw, -1) {
		open := strings.ToLower(u.Raw[loc[2]:loc[3]])
		if strings.Contains(open, "src=") {
			continue
		}
		return u.Raw[:loc[4]] + fixed + u.Raw[loc[5]:], true
	}
	return "", false
}

func buildPrompt(source, errorText string) string {
	return fmt.Sprintf(`The following JavaScript failed when executed in a sandboxed chat frame.

Error:
%s

Code:
%s

Reply with only the corrected code in a single fenced code block. Keep the original intent; change as little as possible.`, errorText, source)
}
