package storage

import (
	"context"
	"time"

	"github.com/chatsync/internal/model"
)

// ConversationBackend is the document-store view of conversation records.
// Implementations: postgres.Store, memory.Client.
type ConversationBackend interface {
	// CreateConversation stores c as given. ErrAlreadyExists if the id is taken.
	CreateConversation(ctx context.Context, c *model.Conversation) error
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	// FindDirect returns the direct conversation between a and b, ErrNotFound if none.
	FindDirect(ctx context.Context, a, b string) (*model.Conversation, error)
	// ListConversations returns every conversation userID participates in,
	// most recently active first.
	ListConversations(ctx context.Context, userID string) ([]*model.Conversation, error)
	// AddParticipant is an atomic array-add; added is false when already present.
	AddParticipant(ctx context.Context, id, userID string) (added bool, err error)
	// RemoveParticipant is an atomic array-remove; removed is false when absent.
	// Removing the only participant fails with ErrInvalidState and changes nothing.
	RemoveParticipant(ctx context.Context, id, userID string) (removed bool, err error)
	SetAdmin(ctx context.Context, id, userID string) error
	RenameGroup(ctx context.Context, id, name string) error
	// ResetUnread zeroes unreadCount[userID]; changed is false if it was already zero.
	ResetUnread(ctx context.Context, id, userID string) (changed bool, err error)
}

// MessageBackend is the document-store view of message records.
type MessageBackend interface {
	// AppendMessage assigns the server timestamp (strictly increasing per
	// conversation), stores m, and updates lastMessage and the unread counters
	// of every participant except the sender in one atomic step.
	// ErrPermissionDenied if the sender is not a participant. If m.ClientID is
	// set and already stored for the conversation, the stored message is
	// returned with created=false and nothing is modified.
	AppendMessage(ctx context.Context, m *model.Message) (stored model.Message, created bool, err error)
	GetMessage(ctx context.Context, id string) (model.Message, error)
	// ListMessages returns up to limit messages newest-first, strictly older
	// than before when it is non-nil.
	ListMessages(ctx context.Context, conversationID string, limit int, before *model.Cursor) ([]model.Message, error)
	// MarkRead array-adds userID to readBy on every message lacking it.
	MarkRead(ctx context.Context, conversationID, userID string) (updated int, err error)
	AddReaction(ctx context.Context, messageID string, r model.Reaction) (added bool, err error)
	RemoveReaction(ctx context.Context, messageID, userID, emoji string) (removed bool, err error)
	// WatchMessages emits the newest window of the conversation, ascending,
	// once on start and again after every change. It blocks until ctx is
	// done (returns ctx.Err()) or the feed fails.
	WatchMessages(ctx context.Context, conversationID string, window int, emit func([]model.Message)) error
}

// PresenceBackend stores the last written online flag per user.
type PresenceBackend interface {
	SetOnline(ctx context.Context, userID string, online bool) error
	GetPresence(ctx context.Context, userID string) (model.Presence, error)
}

// TypingBackend holds ephemeral typing flags that expire server-side.
// Implementations: redis.Client, memory.Client.
type TypingBackend interface {
	SetTyping(ctx context.Context, conversationID, userID string, ttl time.Duration) error
	ClearTyping(ctx context.Context, conversationID, userID string) error
	TypingUsers(ctx context.Context, conversationID string) ([]string, error)
}

// Backend bundles the document-store primitives the core needs.
type Backend interface {
	ConversationBackend
	MessageBackend
	PresenceBackend
	Close() error
}

// OutboxStore persists queued messages on the local device. Put must be
// durable when it returns. Implementations: bolt.Store, memory.Outbox.
type OutboxStore interface {
	Put(q *model.QueuedMessage) error
	Get(localID string) (*model.QueuedMessage, error)
	Delete(localID string) error
	// List returns the entries of one conversation, or all entries when
	// conversationID is empty, in FIFO order.
	List(conversationID string) ([]*model.QueuedMessage, error)
	NextSeq() (uint64, error)
	Close() error
}
