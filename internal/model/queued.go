package model

import (
	"slices"
	"time"
)

// QueuedMessage is an outgoing message persisted locally until the backend
// acknowledges it. Only queued, sending and failed are valid statuses here.
type QueuedMessage struct {
	LocalID        string        `json:"local_id"`
	ConversationID string        `json:"conversation_id"`
	SenderID       string        `json:"sender_id"`
	Content        string        `json:"content"`
	Attachments    []Attachment  `json:"attachments,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	Attempts       int           `json:"attempts"`
	LastAttemptAt  time.Time     `json:"last_attempt_at,omitzero"`
	NextAttemptAt  time.Time     `json:"next_attempt_at,omitzero"`
	LastError      string        `json:"last_error,omitempty"`
	Status         MessageStatus `json:"status"`
	// Seq orders entries that share a CreatedAt.
	Seq uint64 `json:"seq"`
}

// Ready reports whether an automatic drain may pick the entry up at now.
func (q *QueuedMessage) Ready(now time.Time) bool {
	if q.Status != StatusQueued {
		return false
	}
	return q.NextAttemptAt.IsZero() || !now.Before(q.NextAttemptAt)
}

// Placeholder renders the entry as an optimistic local message.
func (q *QueuedMessage) Placeholder() Message {
	return Message{
		ID:             "local-" + q.LocalID,
		ConversationID: q.ConversationID,
		SenderID:       q.SenderID,
		ClientID:       q.LocalID,
		Kind:           KindUser,
		Content:        q.Content,
		Attachments:    slices.Clone(q.Attachments),
		Timestamp:      q.CreatedAt,
		ReadBy:         []string{q.SenderID},
		Status:         q.Status,
	}
}

func (q *QueuedMessage) Clone() *QueuedMessage {
	out := *q
	out.Attachments = slices.Clone(q.Attachments)
	return &out
}

// CompareQueued is FIFO order within a conversation.
func CompareQueued(a, b *QueuedMessage) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	switch {
	case a.Seq < b.Seq:
		return -1
	case a.Seq > b.Seq:
		return 1
	}
	return 0
}
