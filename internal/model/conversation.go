package model

import (
	"fmt"
	"slices"
	"time"
)

// LastMessage is the denormalized preview kept on the conversation record.
type LastMessage struct {
	Content   string    `json:"content"`
	SenderID  string    `json:"sender_id"`
	Timestamp time.Time `json:"timestamp"`
}

type Conversation struct {
	ID           string         `json:"id"`
	Participants []string       `json:"participants"`
	IsGroupChat  bool           `json:"is_group_chat"`
	GroupName    string         `json:"group_name,omitempty"`
	GroupAdminID string         `json:"group_admin_id,omitempty"`
	UnreadCount  map[string]int `json:"unread_count"`
	LastMessage  *LastMessage   `json:"last_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// NewDirectConversation builds a two-party conversation. Direct conversations
// never carry a name or an admin.
func NewDirectConversation(id, userA, userB string, now time.Time) (*Conversation, error) {
	if userA == "" || userB == "" {
		return nil, fmt.Errorf("%w: direct conversation needs two user ids", ErrInvalidState)
	}
	if userA == userB {
		return nil, fmt.Errorf("%w: cannot start a conversation with yourself", ErrInvalidState)
	}
	c := &Conversation{
		ID:           id,
		Participants: []string{userA, userB},
		UnreadCount:  map[string]int{userA: 0, userB: 0},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return c, nil
}

// NewGroupConversation builds a group owned by adminID. The admin is always
// the first participant; duplicate member ids are collapsed.
func NewGroupConversation(id, adminID, name string, members []string, now time.Time) (*Conversation, error) {
	if adminID == "" {
		return nil, fmt.Errorf("%w: group needs an admin", ErrInvalidState)
	}
	if name == "" {
		return nil, fmt.Errorf("%w: group name is required", ErrInvalidState)
	}
	participants := []string{adminID}
	for _, m := range members {
		if m == "" || slices.Contains(participants, m) {
			continue
		}
		participants = append(participants, m)
	}
	if len(participants) < 2 {
		return nil, fmt.Errorf("%w: group needs at least one member besides the admin", ErrInvalidState)
	}
	unread := make(map[string]int, len(participants))
	for _, p := range participants {
		unread[p] = 0
	}
	return &Conversation{
		ID:           id,
		Participants: participants,
		IsGroupChat:  true,
		GroupName:    name,
		GroupAdminID: adminID,
		UnreadCount:  unread,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (c *Conversation) HasParticipant(userID string) bool {
	return slices.Contains(c.Participants, userID)
}

// IsAdmin is false for an admin who has left the group.
func (c *Conversation) IsAdmin(userID string) bool {
	return c.IsGroupChat && userID != "" && c.GroupAdminID == userID && c.HasParticipant(userID)
}

// Validate checks the stored-record invariants. A group whose admin has been
// removed keeps its admin id without the admin being a participant; that
// state is accepted here and rejected only at creation time.
func (c *Conversation) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: conversation id is empty", ErrInvalidState)
	}
	seen := make(map[string]struct{}, len(c.Participants))
	for _, p := range c.Participants {
		if p == "" {
			return fmt.Errorf("%w: empty participant id", ErrInvalidState)
		}
		if _, dup := seen[p]; dup {
			return fmt.Errorf("%w: duplicate participant %s", ErrInvalidState, p)
		}
		seen[p] = struct{}{}
	}
	for u, n := range c.UnreadCount {
		if n < 0 {
			return fmt.Errorf("%w: negative unread count for %s", ErrInvalidState, u)
		}
	}
	if !c.IsGroupChat {
		if len(c.Participants) != 2 {
			return fmt.Errorf("%w: direct conversation must have exactly 2 participants", ErrInvalidState)
		}
		if c.GroupAdminID != "" || c.GroupName != "" {
			return fmt.Errorf("%w: direct conversation cannot have group fields", ErrInvalidState)
		}
		return nil
	}
	if c.GroupName == "" || c.GroupAdminID == "" {
		return fmt.Errorf("%w: group needs a name and an admin", ErrInvalidState)
	}
	if len(c.Participants) == 0 {
		return fmt.Errorf("%w: group has no participants", ErrInvalidState)
	}
	return nil
}

// Clone returns a deep copy so callers can hand records across goroutines.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Participants = slices.Clone(c.Participants)
	if c.UnreadCount != nil {
		out.UnreadCount = make(map[string]int, len(c.UnreadCount))
		for k, v := range c.UnreadCount {
			out.UnreadCount[k] = v
		}
	}
	if c.LastMessage != nil {
		lm := *c.LastMessage
		out.LastMessage = &lm
	}
	return &out
}

// ConversationSummary is the list-screen view for one user.
type ConversationSummary struct {
	Conversation *Conversation `json:"conversation"`
	UnreadCount  int           `json:"unread_count"`
}
