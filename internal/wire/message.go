package wire

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// Channel marks messages belonging to this protocol. Decode rejects
// everything else.
const Channel = "codefence"

// Type identifies the kind of message sent by an execution context.
type Type string

const (
	TypeError   Type = "error"
	TypeSuccess Type = "success"
	TypeResize  Type = "resize"
	TypeInject  Type = "inject"
	TypeLog     Type = "log"
	TypeTimeout Type = "timeout"
)

var (
	ErrForeignChannel = errors.New("wire: message from foreign channel")
	ErrUnknownType    = errors.New("wire: unknown message type")
	ErrMissingFrame   = errors.New("wire: missing frame id")
)

// Injection is the payload of an inject message. Content is mandatory;
// the remaining fields default host-side.
type Injection struct {
	ID        string `json:"id,omitempty"`
	Depth     int    `json:"depth"`
	Content   string `json:"content"`
	Ephemeral bool   `json:"ephemeral"`
}

// Message is a single unit of traffic from a context to the router.
// FrameID binds it to exactly one execution context.
type Message struct {
	Channel string     `json:"channel"`
	Type    Type       `json:"type"`
	FrameID string     `json:"frameId"`
	Message string     `json:"message,omitempty"`
	Height  int        `json:"height,omitempty"`
	Level   string     `json:"level,omitempty"`
	Setup   bool       `json:"setup,omitempty"`
	Inject  *Injection `json:"injection,omitempty"`
}

// NewError builds an error message. setup distinguishes dependency/build
// failures from user-code execution failures; only the latter are
// candidates for automatic repair.
func NewError(frameID, text string, setup bool) Message {
	return Message{Channel: Channel, Type: TypeError, FrameID: frameID, Message: text, Setup: setup}
}

// NewSuccess builds a success message.
func NewSuccess(frameID string) Message {
	return Message{Channel: Channel, Type: TypeSuccess, FrameID: frameID}
}

// NewResize builds a resize message carrying the current content height.
func NewResize(frameID string, height int) Message {
	return Message{Channel: Channel, Type: TypeResize, FrameID: frameID, Height: height}
}

// NewInject builds an inject message.
func NewInject(frameID string, inj Injection) Message {
	return Message{Channel: Channel, Type: TypeInject, FrameID: frameID, Inject: &inj}
}

// NewLog builds a log message from captured console output.
func NewLog(frameID, level, text string) Message {
	return Message{Channel: Channel, Type: TypeLog, FrameID: frameID, Level: level, Message: text}
}

// NewTimeout builds the soft no-visible-output warning.
func NewTimeout(frameID string) Message {
	return Message{Channel: Channel, Type: TypeTimeout, FrameID: frameID, Message: "no visible output"}
}

// Decode parses and validates an incoming message. Foreign channels and
// unknown types return an error so callers can drop the message.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := sonic.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("wire: decode: %w", err)
	}
	if m.Channel != Channel {
		return Message{}, ErrForeignChannel
	}
	if !knownType(m.Type) {
		return Message{}, ErrUnknownType
	}
	if m.FrameID == "" {
		return Message{}, ErrMissingFrame
	}
	return m, nil
}

func knownType(t Type) bool {
	switch t {
	case TypeError, TypeSuccess, TypeResize, TypeInject, TypeLog, TypeTimeout:
		return true
	}
	return false
}

// Validate checks the shape of an inject payload before it is forwarded
// to the chat collaborator.
func (i *Injection) Validate() error {
	if i == nil {
		return errors.New("wire: nil injection")
	}
	if i.Content == "" {
		return errors.New("wire: injection content is required")
	}
	if i.Depth < 0 {
		return errors.New("wire: injection depth must be non-negative")
	}
	return nil
}
