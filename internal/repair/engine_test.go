package repair

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefence/codefence/internal/chat"
	"github.com/codefence/codefence/internal/classify"
	"github.com/codefence/codefence/internal/infrastructure/logging"
	"github.com/codefence/codefence/internal/router"
	"github.com/codefence/codefence/internal/unit"
)

type fakeCompleter struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeCompleter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

// updateLog collects router updates published during a test.
type updateLog struct {
	mu      sync.Mutex
	updates []router.Update
}

func (l *updateLog) add(u router.Update) {
	l.mu.Lock()
	l.updates = append(l.updates, u)
	l.mu.Unlock()
}

func (l *updateLog) texts() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, u := range l.updates {
		out = append(out, u.Text)
	}
	return out
}

const brokenMessage = "Intro text.\n```javascript\nbroken();\n```\nOutro text."

// spanOf addresses raw inside source.
func spanOf(t *testing.T, source, raw string) unit.Span {
	t.Helper()
	start := strings.Index(source, raw)
	require.GreaterOrEqual(t, start, 0)
	return unit.Span{Start: start, End: start + len(raw)}
}

func testEngine(t *testing.T, source string, completer Completer, reprocess Reprocessor) (*Engine, *chat.MemoryStore, *updateLog) {
	t.Helper()

	store := chat.NewMemoryStore()
	store.Put("m1", source)

	updates := &updateLog{}
	rt := router.New(router.DefaultConfig(), logging.NewNop(), nil, chat.NewLogInjector(logging.NewNop()))
	rt.OnUpdate(updates.add)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go rt.Run(ctx)

	e := NewEngine(Config{Enabled: true}, store, completer, rt, reprocess, nil, logging.NewNop())
	return e, store, updates
}

func repairRequest(t *testing.T) router.RepairRequest {
	t.Helper()
	raw := "broken();\n"
	u := unit.New("broken();", raw, nil, classify.DirectScript, "javascript", spanOf(t, brokenMessage, raw))
	return router.RepairRequest{
		SessionID: "sess-1",
		MessageID: "m1",
		FrameID:   "frm_a",
		Unit:      u,
		ErrorText: "ReferenceError: broken is not defined",
	}
}

func TestAttemptAppliesFix(t *testing.T) {
	completer := &fakeCompleter{reply: "```javascript\nconsole.log('fixed');\n```"}

	var reprocessed []string
	e, store, _ := testEngine(t, brokenMessage, completer, func(_ context.Context, messageID string) {
		reprocessed = append(reprocessed, messageID)
	})

	e.Attempt(context.Background(), repairRequest(t))

	src, err := store.Source(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "Intro text.\n```javascript\nconsole.log('fixed');\n```\nOutro text.", src)
	assert.Equal(t, []string{"m1"}, reprocessed)

	// The prompt carries both the error and the failing code.
	require.Equal(t, 1, completer.calls())
	assert.Contains(t, completer.prompts[0], "ReferenceError")
	assert.Contains(t, completer.prompts[0], "broken();")
}

func TestAttemptRepairsScriptInsideMarkup(t *testing.T) {
	message := "Intro.\n```html\n<div id=\"x\"><script>broken();</script></div>\n```\nOutro."
	raw := "<div id=\"x\"><script>broken();</script></div>\n"

	u := unit.New("broken();", raw, nil, classify.MarkupWithScript, "html", spanOf(t, message, raw))
	req := router.RepairRequest{
		SessionID: "sess-1",
		MessageID: "m1",
		FrameID:   "frm_a",
		Unit:      u,
		ErrorText: "ReferenceError: broken is not defined",
	}

	completer := &fakeCompleter{reply: "```js\nfixed();\n```"}
	e, store, _ := testEngine(t, message, completer, nil)

	e.Attempt(context.Background(), req)

	require.Equal(t, 1, completer.calls(), "markup units must reach the completion service")
	src, err := store.Source(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "Intro.\n```html\n<div id=\"x\"><script>fixed();</script></div>\n```\nOutro.", src,
		"the fix must land inside the original markup wrapper")
}

func TestAttemptRepairsEntityEncodedScript(t *testing.T) {
	message := "A.\n```javascript\nif (a &amp;&amp; b) { broken(); }\n```\nB."
	raw := "if (a &amp;&amp; b) { broken(); }\n"

	// The classifier hands the sandbox the entity-decoded source.
	u := unit.New("if (a && b) { broken(); }", raw, nil, classify.DirectScript, "javascript", spanOf(t, message, raw))
	req := router.RepairRequest{
		SessionID: "sess-1",
		MessageID: "m1",
		FrameID:   "frm_a",
		Unit:      u,
		ErrorText: "ReferenceError: broken is not defined",
	}

	completer := &fakeCompleter{reply: "```js\nif (a && b) { fixed(); }\n```"}
	e, store, _ := testEngine(t, message, completer, nil)

	e.Attempt(context.Background(), req)

	require.Equal(t, 1, completer.calls(), "decoded source must not trip the drift guard")
	src, _ := store.Source(context.Background(), "m1")
	assert.Equal(t, "A.\n```javascript\nif (a && b) { fixed(); }\n```\nB.", src)
}

func TestAttemptAbortsWhenMessageChanged(t *testing.T) {
	completer := &fakeCompleter{reply: "```js\nwhatever();\n```"}
	e, store, _ := testEngine(t, brokenMessage, completer, nil)

	// The message moved on since extraction; the span points elsewhere.
	require.NoError(t, store.Update(context.Background(), "m1", "Totally rewritten message."))

	e.Attempt(context.Background(), repairRequest(t))

	src, _ := store.Source(context.Background(), "m1")
	assert.Equal(t, "Totally rewritten message.", src, "stale span must not be spliced")
	assert.Zero(t, completer.calls(), "no completion call for a stale unit")
}

func TestAttemptAbortsOnUselessFix(t *testing.T) {
	// The model returns the same code back.
	completer := &fakeCompleter{reply: "```js\nbroken();\n```"}

	reprocessed := false
	e, store, _ := testEngine(t, brokenMessage, completer, func(context.Context, string) { reprocessed = true })

	e.Attempt(context.Background(), repairRequest(t))

	src, _ := store.Source(context.Background(), "m1")
	assert.Equal(t, brokenMessage, src)
	assert.False(t, reprocessed)
}

func TestAttemptOncePerUnit(t *testing.T) {
	// The "fix" reproduces the same unit fingerprint scenario: attempt
	// twice with the identical request.
	completer := &fakeCompleter{reply: "```js\nbroken();\n```"}
	e, _, updates := testEngine(t, brokenMessage, completer, nil)

	req := repairRequest(t)
	e.Attempt(context.Background(), req)
	e.Attempt(context.Background(), req)

	assert.Equal(t, 1, completer.calls(), "second attempt for the same unit must be skipped")
	assert.Contains(t, updates.texts(), "automatic fix attempts exhausted; heal to retry",
		"the refusal must be user-visible")

	// A user edit re-arms the loop.
	e.Forget("m1")
	e.Attempt(context.Background(), req)
	assert.Equal(t, 2, completer.calls())
}

func TestHealRetriesExhaustedUnit(t *testing.T) {
	completer := &fakeCompleter{reply: "```js\nbroken();\n```"}
	e, _, _ := testEngine(t, brokenMessage, completer, nil)

	req := repairRequest(t)
	e.Attempt(context.Background(), req)
	e.Attempt(context.Background(), req)
	require.Equal(t, 1, completer.calls())

	// Manual heal is one more attempt each time, history notwithstanding.
	e.Heal(context.Background(), req)
	assert.Equal(t, 2, completer.calls())
	e.Heal(context.Background(), req)
	assert.Equal(t, 3, completer.calls())

	// Heal counts as an attempt for the automatic loop.
	e.Attempt(context.Background(), req)
	assert.Equal(t, 3, completer.calls())
}

func TestHandleRespectsDisabled(t *testing.T) {
	completer := &fakeCompleter{reply: "```js\nfix();\n```"}

	store := chat.NewMemoryStore()
	store.Put("m1", brokenMessage)
	rt := router.New(router.DefaultConfig(), logging.NewNop(), nil, chat.NewLogInjector(logging.NewNop()))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go rt.Run(ctx)

	e := NewEngine(Config{Enabled: false}, store, completer, rt, nil, nil, logging.NewNop())
	e.Handle(repairRequest(t))

	assert.Zero(t, completer.calls())
	src, _ := store.Source(context.Background(), "m1")
	assert.Equal(t, brokenMessage, src)
}

func TestRewrapKeepsFenceEdges(t *testing.T) {
	raw := "  old();\n"
	u := unit.New("old();", raw, nil, classify.DirectScript, "js", unit.Span{End: len(raw)})

	out, ok := rewrap(u, "new();")
	require.True(t, ok)
	assert.Equal(t, "  new();\n", out)
}

func TestRewrapFallsBackToScriptElement(t *testing.T) {
	raw := "<div><script>if (a &amp;&amp; b) broken();</script></div>"
	u := unit.New("if (a && b) broken();", raw, nil, classify.MarkupWithScript, "html", unit.Span{End: len(raw)})

	out, ok := rewrap(u, "fixed();")
	require.True(t, ok)
	assert.Equal(t, "<div><script>fixed();</script></div>", out)
}

func TestRewrapSkipsExternalScripts(t *testing.T) {
	raw := "<script src=\"cdn.js\"></script><script>x &amp;&amp; broken();</script>"
	u := unit.New("x && broken();", raw, nil, classify.MarkupWithScript, "html", unit.Span{End: len(raw)})

	out, ok := rewrap(u, "fixed();")
	require.True(t, ok)
	assert.Equal(t, "<script src=\"cdn.js\"></script><script>fixed();</script>", out)
}
