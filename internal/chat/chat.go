package chat

import (
	"context"
	"errors"
)

// ErrMessageNotFound is returned when a message id has no stored source.
var ErrMessageNotFound = errors.New("chat: message not found")

// Store gives read access to message markdown and write access for the
// repair flow, which is the only writer of message source.
type Store interface {
	// Source returns the current markdown of a message.
	Source(ctx context.Context, messageID string) (string, error)
	// Update replaces the markdown of a message.
	Update(ctx context.Context, messageID, source string) error
}

// Injector places sandbox-produced context into the conversation.
type Injector interface {
	// InjectContext adds content under an injection id. depth selects how
	// far up the conversation the content applies; ephemeral content is
	// dropped when the conversation reloads.
	InjectContext(ctx context.Context, id string, depth int, content string, ephemeral bool) error
}

// EventKind enumerates conversation lifecycle events the processor
// reacts to.
type EventKind string

const (
	// EventRendered fires when a message's markdown has been rendered and
	// is ready for code extraction.
	EventRendered EventKind = "rendered"
	// EventEdited fires when an existing message's source changed.
	EventEdited EventKind = "edited"
	// EventChatLoaded fires when a conversation finishes loading.
	EventChatLoaded EventKind = "chat-loaded"
	// EventChatChanged fires when the user switches conversations.
	EventChatChanged EventKind = "chat-changed"
)

// Event is one conversation lifecycle notification.
type Event struct {
	Kind      EventKind
	ChatID    string
	MessageID string
	// Source carries the message markdown for rendered/edited events so
	// subscribers need not re-fetch it.
	Source string
}
