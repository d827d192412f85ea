// Package presence publishes typing indicators and online status.
package presence

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/metrics"
	"github.com/chatsync/internal/storage"
	"golang.org/x/time/rate"
)

type TypingConfig struct {
	// TTL is how long a flag lives without a refresh.
	TTL time.Duration
	// Refresh is the minimum gap between two flag writes while typing.
	Refresh time.Duration
	// Inactivity clears the flag after the last keystroke.
	Inactivity   time.Duration
	WriteTimeout time.Duration
}

func (c TypingConfig) withDefaults() TypingConfig {
	if c.TTL <= 0 {
		c.TTL = 5 * time.Second
	}
	if c.Refresh <= 0 {
		c.Refresh = 2 * time.Second
	}
	if c.Inactivity <= 0 {
		c.Inactivity = 3 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	return c
}

type typingState struct {
	limiter *rate.Limiter
	idle    *time.Timer
	active  bool
}

// Typing writes the current user's typing flags. Flags are stored with a
// TTL so a client that disappears stops showing as typing on its own.
type Typing struct {
	store  storage.TypingBackend
	userID string
	cfg    TypingConfig

	mu     sync.Mutex
	states map[string]*typingState
	closed bool
}

func NewTyping(store storage.TypingBackend, userID string, cfg TypingConfig) *Typing {
	return &Typing{store: store, userID: userID, cfg: cfg.withDefaults(), states: make(map[string]*typingState)}
}

// SetTyping writes or clears the flag for userID directly.
func (t *Typing) SetTyping(ctx context.Context, conversationID, userID string, isTyping bool) error {
	if isTyping {
		if err := t.store.SetTyping(ctx, conversationID, userID, t.cfg.TTL); err != nil {
			return fmt.Errorf("typing.SetTyping: %w", err)
		}
		metrics.IncTypingWrite("set")
		return nil
	}
	if err := t.store.ClearTyping(ctx, conversationID, userID); err != nil {
		return fmt.Errorf("typing.SetTyping clear: %w", err)
	}
	metrics.IncTypingWrite("clear")
	return nil
}

func (t *Typing) state(conversationID string) *typingState {
	s, ok := t.states[conversationID]
	if !ok {
		s = &typingState{limiter: rate.NewLimiter(rate.Every(t.cfg.Refresh), 1)}
		t.states[conversationID] = s
	}
	return s
}

// Keystroke records local typing. The flag is refreshed at most once per
// Refresh interval and cleared after Inactivity without keystrokes.
func (t *Typing) Keystroke(ctx context.Context, conversationID string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	s := t.state(conversationID)
	write := s.limiter.Allow()
	s.active = true
	if s.idle == nil {
		s.idle = time.AfterFunc(t.cfg.Inactivity, func() { t.expire(conversationID) })
	} else {
		s.idle.Reset(t.cfg.Inactivity)
	}
	t.mu.Unlock()

	if !write {
		return nil
	}
	return t.SetTyping(ctx, conversationID, t.userID, true)
}

func (t *Typing) expire(conversationID string) {
	t.mu.Lock()
	s, ok := t.states[conversationID]
	if !ok || !s.active {
		t.mu.Unlock()
		return
	}
	s.active = false
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.WriteTimeout)
	defer cancel()
	if err := t.SetTyping(ctx, conversationID, t.userID, false); err != nil {
		logger.Warnf("typing expire conv=%s: %v", conversationID, err)
	}
}

// Sent clears the flag right away; the next keystroke writes immediately.
func (t *Typing) Sent(ctx context.Context, conversationID string) error {
	t.mu.Lock()
	s, ok := t.states[conversationID]
	if ok {
		if s.idle != nil {
			s.idle.Stop()
		}
		delete(t.states, conversationID)
	}
	t.mu.Unlock()
	if !ok || !s.active {
		return nil
	}
	return t.SetTyping(ctx, conversationID, t.userID, false)
}

// TypingUsers lists live typers other than the current user.
func (t *Typing) TypingUsers(ctx context.Context, conversationID string) ([]string, error) {
	users, err := t.store.TypingUsers(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("typing.TypingUsers: %w", err)
	}
	return slices.DeleteFunc(users, func(u string) bool { return u == t.userID }), nil
}

// Close stops the inactivity timers. Flags left behind expire by TTL.
func (t *Typing) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for _, s := range t.states {
		if s.idle != nil {
			s.idle.Stop()
		}
	}
	t.states = make(map[string]*typingState)
}
