package ws

import "github.com/chatsync/internal/model"

type EventType string

const (
	// Server to client.
	EventSnapshot EventType = "snapshot"
	EventTyping   EventType = "typing"
	EventQueued   EventType = "queued"
	EventError    EventType = "error"

	// Client to server. EventTyping is shared.
	EventFocus EventType = "focus"
	EventSend  EventType = "send"
)

// IncomingMessage is what the UI sends on a conversation feed.
type IncomingMessage struct {
	Type    EventType `json:"type"`
	Content string    `json:"content,omitempty"`
	Focused bool      `json:"focused,omitempty"`
}

// OutgoingMessage is what the agent pushes to the UI.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// SnapshotPayload carries the merged message window.
type SnapshotPayload struct {
	ConversationID string          `json:"conversation_id"`
	Messages       []model.Message `json:"messages"`
}

type TypingPayload struct {
	ConversationID string   `json:"conversation_id"`
	UserIDs        []string `json:"user_ids"`
}

type QueuedPayload struct {
	LocalID string `json:"local_id"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}
