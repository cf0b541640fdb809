// Package processor drives the pipeline for one message: extract
// fragments, classify them, dedup, resolve dependencies, and launch one
// execution context per surviving unit.
package processor

import (
	"context"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/codefence/codefence/internal/chat"
	"github.com/codefence/codefence/internal/classify"
	"github.com/codefence/codefence/internal/deps"
	"github.com/codefence/codefence/internal/infrastructure/logging"
	"github.com/codefence/codefence/internal/infrastructure/monitoring"
	"github.com/codefence/codefence/internal/ledger"
	"github.com/codefence/codefence/internal/router"
	"github.com/codefence/codefence/internal/sandbox"
	"github.com/codefence/codefence/internal/shared/hash"
	"github.com/codefence/codefence/internal/shared/id"
	"github.com/codefence/codefence/internal/unit"
	"github.com/codefence/codefence/internal/wire"
)

// Rearm clears repair attempt history when a message is edited or the
// conversation changes.
type Rearm interface {
	Forget(messageID string)
	ForgetAll()
}

// Config tunes the pipeline.
type Config struct {
	Classifier classify.Config
	Sandbox    sandbox.Config
}

// Processor turns rendered messages into running execution contexts.
type Processor struct {
	cfg       Config
	logger    *logging.Logger
	metrics   *monitoring.Metrics
	resolver  *deps.Resolver
	router    *router.Router
	pool      *sandbox.Pool
	store     chat.Store
	rearm     Rearm
	sanitizer *bluemonday.Policy
}

// New wires a processor. metrics, pool, and rearm may be nil.
func New(cfg Config, logger *logging.Logger, metrics *monitoring.Metrics, resolver *deps.Resolver, rt *router.Router, pool *sandbox.Pool, store chat.Store) *Processor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Processor{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		resolver:  resolver,
		router:    rt,
		pool:      pool,
		store:     store,
		sanitizer: bluemonday.UGCPolicy(),
	}
}

// SetRearm attaches the repair engine's attempt history.
func (p *Processor) SetRearm(r Rearm) { p.rearm = r }

// Bind subscribes the processor to conversation lifecycle events.
func (p *Processor) Bind(bus *chat.Bus) {
	bus.Subscribe(p.handleEvent)
}

func (p *Processor) handleEvent(e chat.Event) {
	ctx := context.Background()
	switch e.Kind {
	case chat.EventRendered:
		p.ProcessMessage(ctx, e.MessageID, e.Source)
	case chat.EventEdited:
		if p.rearm != nil {
			p.rearm.Forget(e.MessageID)
		}
		p.ProcessMessage(ctx, e.MessageID, e.Source)
	case chat.EventChatChanged:
		p.router.Reset()
		if p.rearm != nil {
			p.rearm.ForgetAll()
		}
	case chat.EventChatLoaded:
		// Per-message rendered events follow; nothing global to do.
	}
}

// Reprocess re-runs a message from its stored source. The repair engine
// calls it after splicing a fix.
func (p *Processor) Reprocess(ctx context.Context, messageID string) {
	source, err := p.store.Source(ctx, messageID)
	if err != nil {
		p.logger.Warn("cannot reprocess message",
			zap.String("message_id", messageID), zap.Error(err))
		return
	}
	p.ProcessMessage(ctx, messageID, source)
}

// ProcessMessage runs the full pipeline for one message. Processing the
// same source again while nothing has failed is a no-op.
func (p *Processor) ProcessMessage(ctx context.Context, messageID, source string) {
	if source == "" {
		stored, err := p.store.Source(ctx, messageID)
		if err != nil {
			p.logger.Warn("no source for message",
				zap.String("message_id", messageID), zap.Error(err))
			return
		}
		source = stored
	}

	srcHash := hash.Fingerprint(source)
	if p.router.ShouldSkip(messageID, srcHash) {
		p.logger.Debug("source unchanged, skipping",
			zap.String("message_id", messageID))
		return
	}

	sessionID := p.router.BeginSession(messageID, srcHash)
	led := ledger.New()

	for _, frag := range ExtractFragments(source) {
		res := classify.Classify(frag.Tag, frag.Body, p.cfg.Classifier)
		if !res.Executable {
			p.recordClassification("inert")
			if classify.IsMarkup(frag.Tag) {
				p.publishMarkup(sessionID, messageID, frag.Body)
			}
			continue
		}
		p.recordClassification(string(res.Flavor))

		u := unit.New(res.Source, frag.Body, frag.Libs, res.Flavor, frag.Tag, frag.Span)
		if led.Observe(u.Fingerprint) {
			if p.metrics != nil {
				p.metrics.DedupHits.Inc()
			}
			p.logger.Debug("duplicate unit suppressed",
				zap.String("message_id", messageID),
				zap.Uint64("fingerprint", u.Fingerprint))
			continue
		}

		p.launch(ctx, sessionID, u)
	}
}

// launch creates one execution context for a unit. Failures before the
// sandbox runs surface as setup errors on a frame of their own, so the
// UI has something to pin the error to.
func (p *Processor) launch(ctx context.Context, sessionID string, u unit.Unit) {
	frameID := string(id.NewFrameID())

	if err := sandbox.Precheck(u.Source); err != nil {
		p.failSetup(sessionID, frameID, u, err)
		return
	}

	bundles, err := p.resolver.Resolve(ctx, u.Libs)
	if err != nil {
		p.failSetup(sessionID, frameID, u, err)
		return
	}

	program, err := sandbox.Compose(sandbox.BuildInput{
		FrameID: frameID,
		Source:  u.Source,
		Bundles: bundles,
	})
	if err != nil {
		p.failSetup(sessionID, frameID, u, err)
		return
	}

	cx := sandbox.NewContext(frameID, program, p.cfg.Sandbox, p.pool, p.router.Emit)
	p.router.RegisterFrame(sessionID, frameID, u, cx)
	go cx.Run(ctx)
}

func (p *Processor) failSetup(sessionID, frameID string, u unit.Unit, err error) {
	p.router.RegisterFrame(sessionID, frameID, u, nil)
	p.router.Emit(wire.NewError(frameID, err.Error(), true))
}

// publishMarkup pushes a sanitized rendition of a non-executable markup
// block, so the UI can show it inert instead of dropping it.
func (p *Processor) publishMarkup(sessionID, messageID, body string) {
	p.router.Publish(router.Update{
		Kind:      router.UpdateMarkup,
		SessionID: sessionID,
		MessageID: messageID,
		Text:      p.sanitizer.Sanitize(body),
	})
}

func (p *Processor) recordClassification(flavor string) {
	if p.metrics != nil {
		p.metrics.RecordClassification(flavor)
	}
}
