package model

import (
	"cmp"
	"fmt"
	"slices"
	"time"
)

type MessageStatus string

const (
	StatusQueued    MessageStatus = "queued"
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusFailed    MessageStatus = "failed"
)

type MessageKind string

const (
	KindUser   MessageKind = "user"
	KindSystem MessageKind = "system"
)

type Reaction struct {
	Emoji     string    `json:"emoji"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ReactionGroup is the aggregated view of one emoji on a message.
type ReactionGroup struct {
	Emoji string   `json:"emoji"`
	Count int      `json:"count"`
	Users []string `json:"users"`
}

// Message is an append-only record. Status is client-local and never stored
// remotely; messages read back from a store carry StatusSent.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	SenderID       string        `json:"sender_id"`
	ClientID       string        `json:"client_id,omitempty"`
	Kind           MessageKind   `json:"kind"`
	Content        string        `json:"content"`
	Attachments    []Attachment  `json:"attachments,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
	ReadBy         []string      `json:"read_by"`
	Reactions      []Reaction    `json:"reactions,omitempty"`
	Status         MessageStatus `json:"status,omitempty"`
}

// Validate checks that a message has something to show.
func (m *Message) Validate() error {
	if m.ConversationID == "" || m.SenderID == "" {
		return fmt.Errorf("%w: message needs conversation and sender", ErrInvalidState)
	}
	if m.Content == "" && len(m.Attachments) == 0 {
		return fmt.Errorf("%w: message is empty", ErrInvalidState)
	}
	return ValidateAttachments(m.Attachments)
}

func (m *Message) IsReadBy(userID string) bool {
	return slices.Contains(m.ReadBy, userID)
}

// HasReaction reports whether the exact (userID, emoji) pair is present.
func (m *Message) HasReaction(userID, emoji string) bool {
	return slices.ContainsFunc(m.Reactions, func(r Reaction) bool {
		return r.UserID == userID && r.Emoji == emoji
	})
}

func (m *Message) Clone() Message {
	out := *m
	out.Attachments = slices.Clone(m.Attachments)
	out.ReadBy = slices.Clone(m.ReadBy)
	out.Reactions = slices.Clone(m.Reactions)
	return out
}

// GroupReactions folds reactions into per-emoji groups ordered by first use.
func GroupReactions(reactions []Reaction) []ReactionGroup {
	sorted := slices.Clone(reactions)
	slices.SortStableFunc(sorted, func(a, b Reaction) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	groups := make([]ReactionGroup, 0, 4)
	index := make(map[string]int, 4)
	for _, r := range sorted {
		i, ok := index[r.Emoji]
		if !ok {
			i = len(groups)
			index[r.Emoji] = i
			groups = append(groups, ReactionGroup{Emoji: r.Emoji})
		}
		groups[i].Count++
		groups[i].Users = append(groups[i].Users, r.UserID)
	}
	return groups
}

// CompareMessages orders by (timestamp, id) ascending.
func CompareMessages(a, b Message) int {
	if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}
