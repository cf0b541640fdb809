package router

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefence/codefence/internal/classify"
	"github.com/codefence/codefence/internal/infrastructure/logging"
	"github.com/codefence/codefence/internal/unit"
	"github.com/codefence/codefence/internal/wire"
)

type recordInjector struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordInjector) InjectContext(_ context.Context, id string, depth int, content string, ephemeral bool) error {
	r.mu.Lock()
	r.calls = append(r.calls, content)
	r.mu.Unlock()
	return nil
}

func (r *recordInjector) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func startRouter(t *testing.T, cfg Config) (*Router, *recordInjector) {
	t.Helper()
	inj := &recordInjector{}
	r := New(cfg, logging.NewNop(), nil, inj)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go r.Run(ctx)
	return r, inj
}

func testUnit(source string) unit.Unit {
	return unit.New(source, source, nil, classify.DirectScript, "javascript", unit.Span{Start: 0, End: len(source)})
}

func frameView(t *testing.T, r *Router, messageID, frameID string) FrameView {
	t.Helper()
	view, ok := r.Session(messageID)
	require.True(t, ok, "no session for %s", messageID)
	for _, f := range view.Frames {
		if f.FrameID == frameID {
			return f
		}
	}
	t.Fatalf("frame %s not in session", frameID)
	return FrameView{}
}

func eventuallyPhase(t *testing.T, r *Router, messageID, frameID, phase string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return frameView(t, r, messageID, frameID).Phase == phase
	}, time.Second, 5*time.Millisecond)
}

func TestSessionLifecycle(t *testing.T) {
	r, _ := startRouter(t, DefaultConfig())

	sid := r.BeginSession("m1", 42)
	assert.True(t, strings.HasPrefix(sid, "sess_"))
	r.RegisterFrame(sid, "frm_a", testUnit("root.x"), nil)

	view, ok := r.Session("m1")
	require.True(t, ok)
	assert.False(t, view.Succeeded)

	f := frameView(t, r, "m1", "frm_a")
	assert.Equal(t, "running", f.Phase)

	r.Emit(wire.NewSuccess("frm_a"))
	eventuallyPhase(t, r, "m1", "frm_a", "succeeded")

	view, ok = r.Session("m1")
	require.True(t, ok)
	assert.True(t, view.Succeeded, "all frames succeeded")
}

func TestResizeMonotoneAndClamped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HeightCeiling = 600
	cfg.HeightPadding = 16
	r, _ := startRouter(t, cfg)

	sid := r.BeginSession("m1", 1)
	r.RegisterFrame(sid, "frm_a", testUnit("x"), nil)

	r.Emit(wire.NewResize("frm_a", 100))
	require.Eventually(t, func() bool {
		return frameView(t, r, "m1", "frm_a").Height == 116
	}, time.Second, 5*time.Millisecond)

	// Smaller reports never shrink the frame.
	r.Emit(wire.NewResize("frm_a", 50))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 116, frameView(t, r, "m1", "frm_a").Height)

	// Oversized reports clamp to the ceiling.
	r.Emit(wire.NewResize("frm_a", 10000))
	require.Eventually(t, func() bool {
		return frameView(t, r, "m1", "frm_a").Height == 600
	}, time.Second, 5*time.Millisecond)
}

func TestTerminalFramesIgnoreLateMessages(t *testing.T) {
	r, _ := startRouter(t, DefaultConfig())

	sid := r.BeginSession("m1", 1)
	r.RegisterFrame(sid, "frm_a", testUnit("x"), nil)

	r.Emit(wire.NewSuccess("frm_a"))
	eventuallyPhase(t, r, "m1", "frm_a", "succeeded")

	// A late error from a lingering timer must not flip the outcome.
	r.Emit(wire.NewError("frm_a", "late", false))
	time.Sleep(50 * time.Millisecond)
	f := frameView(t, r, "m1", "frm_a")
	assert.Equal(t, "succeeded", f.Phase)
	assert.Empty(t, f.Error)
}

func TestStaleFrameDropped(t *testing.T) {
	r, _ := startRouter(t, DefaultConfig())

	sid := r.BeginSession("m1", 1)
	r.RegisterFrame(sid, "frm_a", testUnit("x"), nil)

	r.Emit(wire.NewSuccess("frm_ghost"))
	time.Sleep(50 * time.Millisecond)

	view, ok := r.Session("m1")
	require.True(t, ok)
	assert.Len(t, view.Frames, 1)
	assert.Equal(t, "running", view.Frames[0].Phase)
}

func TestBeginSessionSupersedes(t *testing.T) {
	r, _ := startRouter(t, DefaultConfig())

	first := r.BeginSession("m1", 1)
	r.RegisterFrame(first, "frm_a", testUnit("x"), nil)

	second := r.BeginSession("m1", 2)
	require.NotEqual(t, first, second)

	view, ok := r.Session("m1")
	require.True(t, ok)
	assert.Equal(t, second, view.SessionID)
	assert.Empty(t, view.Frames)

	// Frames of the superseded session are forgotten.
	r.Emit(wire.NewSuccess("frm_a"))
	time.Sleep(50 * time.Millisecond)
	view, _ = r.Session("m1")
	assert.Empty(t, view.Frames)
}

func TestShouldSkipUnchangedSource(t *testing.T) {
	r, _ := startRouter(t, DefaultConfig())

	sid := r.BeginSession("m1", 7)
	r.RegisterFrame(sid, "frm_a", testUnit("x"), nil)

	assert.True(t, r.ShouldSkip("m1", 7))
	assert.False(t, r.ShouldSkip("m1", 8), "changed source must reprocess")
	assert.False(t, r.ShouldSkip("m2", 7), "unknown message must process")

	// A failure invalidates the skip: reprocessing may fix it.
	r.Emit(wire.NewError("frm_a", "boom", false))
	require.Eventually(t, func() bool {
		return !r.ShouldSkip("m1", 7)
	}, time.Second, 5*time.Millisecond)
}

func TestRepairTriggeredOncePerSession(t *testing.T) {
	r, _ := startRouter(t, DefaultConfig())

	var mu sync.Mutex
	var reqs []RepairRequest
	r.OnRepairable(func(req RepairRequest) {
		mu.Lock()
		reqs = append(reqs, req)
		mu.Unlock()
	})

	sid := r.BeginSession("m1", 1)
	r.RegisterFrame(sid, "frm_a", testUnit("a"), nil)
	r.RegisterFrame(sid, "frm_b", testUnit("b"), nil)

	r.Emit(wire.NewError("frm_a", "first failure", false))
	r.Emit(wire.NewError("frm_b", "second failure", false))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reqs) == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	require.Len(t, reqs, 1, "busy session must not start concurrent repairs")
	assert.Equal(t, "frm_a", reqs[0].FrameID)
	assert.Equal(t, "first failure", reqs[0].ErrorText)
	assert.Equal(t, "m1", reqs[0].MessageID)
	mu.Unlock()
}

func TestSetupErrorsAreNotRepaired(t *testing.T) {
	r, _ := startRouter(t, DefaultConfig())

	called := make(chan struct{}, 1)
	r.OnRepairable(func(RepairRequest) { called <- struct{}{} })

	sid := r.BeginSession("m1", 1)
	r.RegisterFrame(sid, "frm_a", testUnit("a"), nil)

	r.Emit(wire.NewError("frm_a", "bundle missing", true))
	eventuallyPhase(t, r, "m1", "frm_a", "failed")

	select {
	case <-called:
		t.Fatal("setup failure triggered repair")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestInjectForwardedToChat(t *testing.T) {
	r, inj := startRouter(t, DefaultConfig())

	sid := r.BeginSession("m1", 1)
	r.RegisterFrame(sid, "frm_a", testUnit("a"), nil)

	r.Emit(wire.NewInject("frm_a", wire.Injection{ID: "notes", Content: "remember this"}))
	require.Eventually(t, func() bool { return inj.count() == 1 }, time.Second, 5*time.Millisecond)

	// Malformed payloads are rejected at the boundary.
	r.Emit(wire.NewInject("frm_a", wire.Injection{ID: "notes"}))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, inj.count())
}

func TestResetClearsEverything(t *testing.T) {
	r, _ := startRouter(t, DefaultConfig())

	sid := r.BeginSession("m1", 1)
	r.RegisterFrame(sid, "frm_a", testUnit("a"), nil)
	r.BeginSession("m2", 2)

	r.Reset()

	_, ok := r.Session("m1")
	assert.False(t, ok)
	_, ok = r.Session("m2")
	assert.False(t, ok)
	assert.Empty(t, r.Sessions())
}
