package router

import (
	"github.com/codefence/codefence/internal/sandbox"
	"github.com/codefence/codefence/internal/unit"
)

// Phase is the router's view of one frame, derived from wire traffic.
// It is coarser than the sandbox lifecycle: the UI only distinguishes
// running, succeeded, and failed.
type Phase int32

const (
	PhaseRunning Phase = iota
	PhaseSucceeded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseRunning:
		return "running"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (p Phase) terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// frameState is the mutable record for one execution context. Only the
// dispatch goroutine touches it.
type frameState struct {
	unit   unit.Unit
	cx     *sandbox.Context
	phase  Phase
	errTxt string
	setup  bool
	height int
	warned bool
}

// session groups the frames rendered from one message in one pass.
type session struct {
	id         string
	messageID  string
	sourceHash uint64
	frames     map[string]*frameState
	order      []string
	// busy is set while a repair attempt for this session is in flight;
	// further errors do not start concurrent repairs.
	busy bool
}

func (s *session) fullySucceeded() bool {
	if len(s.frames) == 0 {
		return false
	}
	for _, f := range s.frames {
		if f.phase != PhaseSucceeded {
			return false
		}
	}
	return true
}

func (s *session) anyFailed() bool {
	for _, f := range s.frames {
		if f.phase == PhaseFailed {
			return true
		}
	}
	return false
}

// FrameView is a read-only snapshot of one frame for API consumers.
type FrameView struct {
	FrameID string `json:"frameId"`
	Phase   string `json:"phase"`
	Height  int    `json:"height"`
	Error   string `json:"error,omitempty"`
	Setup   bool   `json:"setup,omitempty"`
	Warned  bool   `json:"warned,omitempty"`
}

// SessionView is a read-only snapshot of one render session.
type SessionView struct {
	SessionID string `json:"sessionId"`
	MessageID string `json:"messageId"`
	Busy      bool   `json:"busy"`
	// Succeeded is set once every frame reached the succeeded phase.
	Succeeded bool        `json:"succeeded"`
	Frames    []FrameView `json:"frames"`
}

// Update is one state-change notification pushed to UI listeners.
type Update struct {
	Kind      string `json:"kind"`
	SessionID string `json:"sessionId"`
	MessageID string `json:"messageId"`
	FrameID   string `json:"frameId,omitempty"`
	Phase     string `json:"phase,omitempty"`
	Height    int    `json:"height,omitempty"`
	Error     string `json:"error,omitempty"`
	Level     string `json:"level,omitempty"`
	Text      string `json:"text,omitempty"`
}

// Update kinds pushed to listeners.
const (
	UpdatePhase         = "phase"
	UpdateResize        = "resize"
	UpdateLog           = "log"
	UpdateWarning       = "warning"
	UpdateSessionClosed = "session-closed"
	UpdateRepair        = "repair"
	UpdateMarkup        = "markup"
)

// RepairRequest describes one repair-eligible failure. The router hands
// it to the repair engine and marks the session busy until RepairDone.
type RepairRequest struct {
	SessionID string
	MessageID string
	FrameID   string
	Unit      unit.Unit
	ErrorText string
}
