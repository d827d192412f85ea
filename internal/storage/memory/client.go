package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/chatsync/internal/model"
	"github.com/google/uuid"
)

type item struct {
	exp time.Time
}

type watcher struct {
	notify chan struct{}
}

// Client is an in-process backend with the same semantics as the Postgres
// and Redis adapters. Used by tests and by chatd -memory.
type Client struct {
	mu            sync.RWMutex
	conversations map[string]*model.Conversation
	messages      map[string]*model.Message
	byConv        map[string][]string
	clock         map[string]time.Time
	typing        map[string]map[string]item
	presence      map[string]model.Presence
	watchers      map[string]map[*watcher]struct{}

	// Now is the wall clock; tests may replace it before first use.
	Now func() time.Time
}

func New() *Client {
	return &Client{
		conversations: make(map[string]*model.Conversation),
		messages:      make(map[string]*model.Message),
		byConv:        make(map[string][]string),
		clock:         make(map[string]time.Time),
		typing:        make(map[string]map[string]item),
		presence:      make(map[string]model.Presence),
		watchers:      make(map[string]map[*watcher]struct{}),
		Now:           time.Now,
	}
}

func (c *Client) Close() error { return nil }

func (c *Client) CreateConversation(ctx context.Context, conv *model.Conversation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.conversations[conv.ID]; ok {
		return fmt.Errorf("memory.CreateConversation: %w", model.ErrAlreadyExists)
	}
	c.conversations[conv.ID] = conv.Clone()
	return nil
}

func (c *Client) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conv, ok := c.conversations[id]
	if !ok {
		return nil, fmt.Errorf("memory.GetConversation: %w", model.ErrNotFound)
	}
	return conv.Clone(), nil
}

func (c *Client) FindDirect(ctx context.Context, a, b string) (*model.Conversation, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, conv := range c.conversations {
		if conv.IsGroupChat {
			continue
		}
		if conv.HasParticipant(a) && conv.HasParticipant(b) {
			return conv.Clone(), nil
		}
	}
	return nil, fmt.Errorf("memory.FindDirect: %w", model.ErrNotFound)
}

func (c *Client) ListConversations(ctx context.Context, userID string) ([]*model.Conversation, error) {
	c.mu.RLock()
	out := make([]*model.Conversation, 0, 16)
	for _, conv := range c.conversations {
		if conv.HasParticipant(userID) {
			out = append(out, conv.Clone())
		}
	}
	c.mu.RUnlock()
	slices.SortFunc(out, func(a, b *model.Conversation) int {
		if r := b.UpdatedAt.Compare(a.UpdatedAt); r != 0 {
			return r
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (c *Client) AddParticipant(ctx context.Context, id, userID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.conversations[id]
	if !ok {
		return false, fmt.Errorf("memory.AddParticipant: %w", model.ErrNotFound)
	}
	if conv.HasParticipant(userID) {
		return false, nil
	}
	conv.Participants = append(conv.Participants, userID)
	if conv.UnreadCount == nil {
		conv.UnreadCount = make(map[string]int)
	}
	conv.UnreadCount[userID] = 0
	conv.UpdatedAt = c.Now().UTC()
	return true, nil
}

func (c *Client) RemoveParticipant(ctx context.Context, id, userID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.conversations[id]
	if !ok {
		return false, fmt.Errorf("memory.RemoveParticipant: %w", model.ErrNotFound)
	}
	i := slices.Index(conv.Participants, userID)
	if i < 0 {
		return false, nil
	}
	if len(conv.Participants) == 1 {
		return false, fmt.Errorf("memory.RemoveParticipant: %w: last participant", model.ErrInvalidState)
	}
	conv.Participants = slices.Delete(conv.Participants, i, i+1)
	delete(conv.UnreadCount, userID)
	conv.UpdatedAt = c.Now().UTC()
	return true, nil
}

func (c *Client) SetAdmin(ctx context.Context, id, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.conversations[id]
	if !ok {
		return fmt.Errorf("memory.SetAdmin: %w", model.ErrNotFound)
	}
	conv.GroupAdminID = userID
	conv.UpdatedAt = c.Now().UTC()
	return nil
}

func (c *Client) RenameGroup(ctx context.Context, id, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.conversations[id]
	if !ok {
		return fmt.Errorf("memory.RenameGroup: %w", model.ErrNotFound)
	}
	conv.GroupName = name
	conv.UpdatedAt = c.Now().UTC()
	return nil
}

func (c *Client) ResetUnread(ctx context.Context, id, userID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.conversations[id]
	if !ok {
		return false, fmt.Errorf("memory.ResetUnread: %w", model.ErrNotFound)
	}
	if conv.UnreadCount[userID] == 0 {
		return false, nil
	}
	conv.UnreadCount[userID] = 0
	return true, nil
}

func (c *Client) AppendMessage(ctx context.Context, m *model.Message) (model.Message, bool, error) {
	c.mu.Lock()
	conv, ok := c.conversations[m.ConversationID]
	if !ok {
		c.mu.Unlock()
		return model.Message{}, false, fmt.Errorf("memory.AppendMessage: %w", model.ErrNotFound)
	}
	if m.Kind != model.KindSystem && !conv.HasParticipant(m.SenderID) {
		c.mu.Unlock()
		return model.Message{}, false, fmt.Errorf("memory.AppendMessage: %w", model.ErrPermissionDenied)
	}
	if m.ClientID != "" {
		for _, id := range c.byConv[m.ConversationID] {
			if existing := c.messages[id]; existing.ClientID == m.ClientID {
				out := existing.Clone()
				c.mu.Unlock()
				return out, false, nil
			}
		}
	}

	ts := c.Now().UTC()
	if last, ok := c.clock[m.ConversationID]; ok && !ts.After(last) {
		ts = last.Add(time.Microsecond)
	}
	c.clock[m.ConversationID] = ts

	stored := m.Clone()
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.Kind == "" {
		stored.Kind = model.KindUser
	}
	stored.Timestamp = ts
	stored.Status = model.StatusSent
	if stored.Kind == model.KindUser && !slices.Contains(stored.ReadBy, stored.SenderID) {
		stored.ReadBy = append(stored.ReadBy, stored.SenderID)
	}
	c.messages[stored.ID] = &stored
	c.byConv[m.ConversationID] = append(c.byConv[m.ConversationID], stored.ID)

	conv.LastMessage = &model.LastMessage{Content: stored.Content, SenderID: stored.SenderID, Timestamp: ts}
	conv.UpdatedAt = ts
	if conv.UnreadCount == nil {
		conv.UnreadCount = make(map[string]int)
	}
	for _, p := range conv.Participants {
		if p != stored.SenderID {
			conv.UnreadCount[p]++
		}
	}
	out := stored.Clone()
	c.notifyLocked(m.ConversationID)
	c.mu.Unlock()
	return out, true, nil
}

func (c *Client) GetMessage(ctx context.Context, id string) (model.Message, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.messages[id]
	if !ok {
		return model.Message{}, fmt.Errorf("memory.GetMessage: %w", model.ErrNotFound)
	}
	return m.Clone(), nil
}

func (c *Client) ListMessages(ctx context.Context, conversationID string, limit int, before *model.Cursor) ([]model.Message, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.newestLocked(conversationID, limit, before), nil
}

// newestLocked returns up to limit messages newest-first.
func (c *Client) newestLocked(conversationID string, limit int, before *model.Cursor) []model.Message {
	ids := c.byConv[conversationID]
	out := make([]model.Message, 0, min(limit, len(ids)))
	for i := len(ids) - 1; i >= 0 && len(out) < limit; i-- {
		m := c.messages[ids[i]]
		if before != nil && !before.Before(*m) {
			continue
		}
		out = append(out, m.Clone())
	}
	return out
}

func (c *Client) MarkRead(ctx context.Context, conversationID, userID string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.conversations[conversationID]; !ok {
		return 0, fmt.Errorf("memory.MarkRead: %w", model.ErrNotFound)
	}
	n := 0
	for _, id := range c.byConv[conversationID] {
		m := c.messages[id]
		if !m.IsReadBy(userID) {
			m.ReadBy = append(m.ReadBy, userID)
			n++
		}
	}
	if n > 0 {
		c.notifyLocked(conversationID)
	}
	return n, nil
}

func (c *Client) AddReaction(ctx context.Context, messageID string, r model.Reaction) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.messages[messageID]
	if !ok {
		return false, fmt.Errorf("memory.AddReaction: %w", model.ErrNotFound)
	}
	if m.HasReaction(r.UserID, r.Emoji) {
		return false, nil
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = c.Now().UTC()
	}
	m.Reactions = append(m.Reactions, r)
	c.notifyLocked(m.ConversationID)
	return true, nil
}

func (c *Client) RemoveReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.messages[messageID]
	if !ok {
		return false, fmt.Errorf("memory.RemoveReaction: %w", model.ErrNotFound)
	}
	i := slices.IndexFunc(m.Reactions, func(r model.Reaction) bool {
		return r.UserID == userID && r.Emoji == emoji
	})
	if i < 0 {
		return false, nil
	}
	m.Reactions = slices.Delete(m.Reactions, i, i+1)
	c.notifyLocked(m.ConversationID)
	return true, nil
}

func (c *Client) WatchMessages(ctx context.Context, conversationID string, window int, emit func([]model.Message)) error {
	w := &watcher{notify: make(chan struct{}, 1)}
	c.mu.Lock()
	if _, ok := c.conversations[conversationID]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("memory.WatchMessages: %w", model.ErrNotFound)
	}
	if c.watchers[conversationID] == nil {
		c.watchers[conversationID] = make(map[*watcher]struct{})
	}
	c.watchers[conversationID][w] = struct{}{}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.watchers[conversationID], w)
		if len(c.watchers[conversationID]) == 0 {
			delete(c.watchers, conversationID)
		}
		c.mu.Unlock()
	}()

	w.notify <- struct{}{}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.notify:
			c.mu.RLock()
			batch := c.newestLocked(conversationID, window, nil)
			c.mu.RUnlock()
			slices.Reverse(batch)
			emit(batch)
		}
	}
}

// notifyLocked wakes every watcher of the conversation; pending wakeups coalesce.
func (c *Client) notifyLocked(conversationID string) {
	for w := range c.watchers[conversationID] {
		select {
		case w.notify <- struct{}{}:
		default:
		}
	}
}

func (c *Client) SetTyping(ctx context.Context, conversationID, userID string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.typing[conversationID] == nil {
		c.typing[conversationID] = make(map[string]item)
	}
	c.typing[conversationID][userID] = item{exp: c.Now().Add(ttl)}
	return nil
}

func (c *Client) ClearTyping(ctx context.Context, conversationID, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.typing[conversationID], userID)
	return nil
}

func (c *Client) TypingUsers(ctx context.Context, conversationID string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.Now()
	users := make([]string, 0, len(c.typing[conversationID]))
	for u, v := range c.typing[conversationID] {
		if now.After(v.exp) {
			delete(c.typing[conversationID], u)
			continue
		}
		users = append(users, u)
	}
	slices.Sort(users)
	return users, nil
}

func (c *Client) SetOnline(ctx context.Context, userID string, online bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.presence[userID] = model.Presence{UserID: userID, Online: online, UpdatedAt: c.Now().UTC()}
	return nil
}

func (c *Client) GetPresence(ctx context.Context, userID string) (model.Presence, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.presence[userID]
	if !ok {
		return model.Presence{UserID: userID}, nil
	}
	return p, nil
}
