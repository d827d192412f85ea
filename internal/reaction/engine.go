// Package reaction keeps per-message emoji reaction sets.
package reaction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/storage"
)

type Engine struct {
	convs storage.ConversationBackend
	msgs  storage.MessageBackend
	now   func() time.Time
}

func NewEngine(convs storage.ConversationBackend, msgs storage.MessageBackend) *Engine {
	return &Engine{convs: convs, msgs: msgs, now: time.Now}
}

// authorize loads the message and checks userID belongs to its conversation.
func (e *Engine) authorize(ctx context.Context, messageID, userID string) (model.Message, error) {
	m, err := e.msgs.GetMessage(ctx, messageID)
	if err != nil {
		return model.Message{}, err
	}
	c, err := e.convs.GetConversation(ctx, m.ConversationID)
	if err != nil {
		return model.Message{}, err
	}
	if !c.HasParticipant(userID) {
		return model.Message{}, model.ErrPermissionDenied
	}
	return m, nil
}

// Add puts (userID, emoji) into the set. Adding twice leaves one entry.
func (e *Engine) Add(ctx context.Context, messageID, userID, emoji string) error {
	defer logger.DeferLogDuration("reaction.Add", time.Now())()
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return fmt.Errorf("reaction.Add: %w: emoji is required", model.ErrInvalidState)
	}
	if _, err := e.authorize(ctx, messageID, userID); err != nil {
		return fmt.Errorf("reaction.Add: %w", err)
	}
	added, err := e.msgs.AddReaction(ctx, messageID, model.Reaction{Emoji: emoji, UserID: userID, Timestamp: e.now().UTC()})
	if err != nil {
		return fmt.Errorf("reaction.Add: %w", err)
	}
	if !added {
		logger.Debugf("reaction exists msg=%s user=%s", messageID, userID)
	}
	return nil
}

// Remove deletes the exact (userID, emoji) pair and reports whether it was there.
func (e *Engine) Remove(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	defer logger.DeferLogDuration("reaction.Remove", time.Now())()
	if _, err := e.authorize(ctx, messageID, userID); err != nil {
		return false, fmt.Errorf("reaction.Remove: %w", err)
	}
	removed, err := e.msgs.RemoveReaction(ctx, messageID, userID, strings.TrimSpace(emoji))
	if err != nil {
		return false, fmt.Errorf("reaction.Remove: %w", err)
	}
	return removed, nil
}

// Summary groups the reactions of a message by emoji in first-use order.
func (e *Engine) Summary(ctx context.Context, messageID, viewerID string) ([]model.ReactionGroup, error) {
	m, err := e.authorize(ctx, messageID, viewerID)
	if err != nil {
		return nil, fmt.Errorf("reaction.Summary: %w", err)
	}
	return model.GroupReactions(m.Reactions), nil
}
