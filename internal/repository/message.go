package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/storage"
)

// MessageRepository appends and pages per-conversation messages and keeps
// the conversation's lastMessage and unread counters in step.
type MessageRepository struct {
	convs storage.ConversationBackend
	msgs  storage.MessageBackend
}

func NewMessageRepository(convs storage.ConversationBackend, msgs storage.MessageBackend) *MessageRepository {
	return &MessageRepository{convs: convs, msgs: msgs}
}

// GetMessages returns one newest-first page. cursor is the NextCursor of the
// previous page or empty for the newest page.
func (r *MessageRepository) GetMessages(ctx context.Context, conversationID, viewerID string, limit int, cursor string) (model.Page, error) {
	defer logger.DeferLogDuration("msgRepo.GetMessages", time.Now())()
	c, err := r.convs.GetConversation(ctx, conversationID)
	if err != nil {
		return model.Page{}, fmt.Errorf("msgRepo.GetMessages: %w", err)
	}
	if !c.HasParticipant(viewerID) {
		return model.Page{}, fmt.Errorf("msgRepo.GetMessages: %w", model.ErrNotFound)
	}
	before, err := model.ParseCursor(cursor)
	if err != nil {
		return model.Page{}, fmt.Errorf("msgRepo.GetMessages: %w", err)
	}
	limit = model.ClampLimit(limit)
	msgs, err := r.msgs.ListMessages(ctx, conversationID, limit, before)
	if err != nil {
		return model.Page{}, fmt.Errorf("msgRepo.GetMessages: %w", err)
	}
	page := model.Page{Messages: msgs}
	if len(msgs) == limit {
		page.NextCursor = model.CursorFor(msgs[len(msgs)-1]).Encode()
	}
	return page, nil
}

// SendMessage stores a user message. A non-empty clientID makes the call
// idempotent: repeating it returns the first stored message.
func (r *MessageRepository) SendMessage(ctx context.Context, conversationID, senderID, content string, attachments []model.Attachment, clientID string) (model.Message, error) {
	defer logger.DeferLogDuration("msgRepo.SendMessage", time.Now())()
	m := &model.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		ClientID:       clientID,
		Kind:           model.KindUser,
		Content:        content,
		Attachments:    attachments,
		ReadBy:         []string{senderID},
	}
	if err := m.Validate(); err != nil {
		return model.Message{}, fmt.Errorf("msgRepo.SendMessage: %w", err)
	}
	c, err := r.convs.GetConversation(ctx, conversationID)
	if err != nil {
		return model.Message{}, fmt.Errorf("msgRepo.SendMessage: %w", err)
	}
	if !c.HasParticipant(senderID) {
		return model.Message{}, fmt.Errorf("msgRepo.SendMessage: %w", model.ErrPermissionDenied)
	}
	stored, created, err := r.msgs.AppendMessage(ctx, m)
	if err != nil {
		return model.Message{}, fmt.Errorf("msgRepo.SendMessage: %w", err)
	}
	if !created {
		logger.Debugf("send deduplicated conv=%s client_id=%s msg=%s", conversationID, clientID, stored.ID)
	}
	return stored, nil
}

// PostSystem appends a membership announcement on behalf of actorID.
func (r *MessageRepository) PostSystem(ctx context.Context, conversationID, actorID, text string) (model.Message, error) {
	stored, _, err := r.msgs.AppendMessage(ctx, &model.Message{
		ConversationID: conversationID,
		SenderID:       actorID,
		Kind:           model.KindSystem,
		Content:        text,
		ReadBy:         []string{},
	})
	if err != nil {
		return model.Message{}, fmt.Errorf("msgRepo.PostSystem: %w", err)
	}
	return stored, nil
}

// MarkMessagesAsRead adds viewerID to readBy everywhere it is missing and
// zeroes the viewer's unread counter. Nothing is written if both are done.
func (r *MessageRepository) MarkMessagesAsRead(ctx context.Context, conversationID, viewerID string) error {
	defer logger.DeferLogDuration("msgRepo.MarkMessagesAsRead", time.Now())()
	c, err := r.convs.GetConversation(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("msgRepo.MarkMessagesAsRead: %w", err)
	}
	if !c.HasParticipant(viewerID) {
		return fmt.Errorf("msgRepo.MarkMessagesAsRead: %w", model.ErrNotFound)
	}
	if _, err := r.msgs.MarkRead(ctx, conversationID, viewerID); err != nil {
		return fmt.Errorf("msgRepo.MarkMessagesAsRead: %w", err)
	}
	// c may predate a message appended since; reset regardless.
	if _, err := r.convs.ResetUnread(ctx, conversationID, viewerID); err != nil {
		return fmt.Errorf("msgRepo.MarkMessagesAsRead: %w", err)
	}
	return nil
}

func (r *MessageRepository) Get(ctx context.Context, id string) (model.Message, error) {
	m, err := r.msgs.GetMessage(ctx, id)
	if err != nil {
		return model.Message{}, fmt.Errorf("msgRepo.Get: %w", err)
	}
	return m, nil
}

// Backend exposes the message primitives to the reaction and sync engines.
func (r *MessageRepository) Backend() storage.MessageBackend {
	return r.msgs
}
