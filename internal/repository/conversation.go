package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/storage"
	"github.com/google/uuid"
)

type ConversationRepository struct {
	store storage.ConversationBackend
	now   func() time.Time
}

func NewConversationRepository(store storage.ConversationBackend) *ConversationRepository {
	return &ConversationRepository{store: store, now: time.Now}
}

// CreateDirect returns the existing direct conversation between a and b or creates it.
func (r *ConversationRepository) CreateDirect(ctx context.Context, a, b string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("convRepo.CreateDirect", time.Now())()
	existing, err := r.store.FindDirect(ctx, a, b)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("convRepo.CreateDirect find: %w", err)
	}
	c, err := model.NewDirectConversation(uuid.New().String(), a, b, r.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("convRepo.CreateDirect: %w", err)
	}
	if err := r.store.CreateConversation(ctx, c); err != nil {
		return nil, fmt.Errorf("convRepo.CreateDirect: %w", err)
	}
	logger.Infof("conversation created conv=%s kind=direct", c.ID)
	return c, nil
}

func (r *ConversationRepository) CreateGroup(ctx context.Context, adminID, name string, members []string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("convRepo.CreateGroup", time.Now())()
	c, err := model.NewGroupConversation(uuid.New().String(), adminID, strings.TrimSpace(name), members, r.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("convRepo.CreateGroup: %w", err)
	}
	if err := r.store.CreateConversation(ctx, c); err != nil {
		return nil, fmt.Errorf("convRepo.CreateGroup: %w", err)
	}
	logger.Infof("conversation created conv=%s kind=group members=%d", c.ID, len(c.Participants))
	return c, nil
}

func (r *ConversationRepository) Get(ctx context.Context, id string) (*model.Conversation, error) {
	c, err := r.store.GetConversation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("convRepo.Get: %w", err)
	}
	return c, nil
}

// GetForViewer hides conversations the viewer is not part of behind ErrNotFound.
func (r *ConversationRepository) GetForViewer(ctx context.Context, id, viewerID string) (*model.Conversation, error) {
	c, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(viewerID) {
		return nil, fmt.Errorf("convRepo.GetForViewer: %w", model.ErrNotFound)
	}
	return c, nil
}

// ListForUser returns the list-screen view, most recently active first.
func (r *ConversationRepository) ListForUser(ctx context.Context, userID string) ([]model.ConversationSummary, error) {
	defer logger.DeferLogDuration("convRepo.ListForUser", time.Now())()
	convs, err := r.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("convRepo.ListForUser: %w", err)
	}
	out := make([]model.ConversationSummary, 0, len(convs))
	for _, c := range convs {
		out = append(out, model.ConversationSummary{Conversation: c, UnreadCount: c.UnreadCount[userID]})
	}
	return out, nil
}

func (r *ConversationRepository) RenameGroup(ctx context.Context, id, requesterID, name string) error {
	defer logger.DeferLogDuration("convRepo.RenameGroup", time.Now())()
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("convRepo.RenameGroup: %w: name is required", model.ErrInvalidState)
	}
	c, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if !c.IsGroupChat {
		return fmt.Errorf("convRepo.RenameGroup: %w: not a group", model.ErrInvalidState)
	}
	if !c.IsAdmin(requesterID) {
		return fmt.Errorf("convRepo.RenameGroup: %w", model.ErrPermissionDenied)
	}
	if err := r.store.RenameGroup(ctx, id, name); err != nil {
		return fmt.Errorf("convRepo.RenameGroup: %w", err)
	}
	return nil
}

// Store exposes the backend for components that mutate fields directly.
func (r *ConversationRepository) Store() storage.ConversationBackend {
	return r.store
}
