// Package membership manages group participants and the admin role.
package membership

import (
	"context"
	"fmt"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/storage"
)

// Announcer posts the system message that records a membership change.
type Announcer interface {
	PostSystem(ctx context.Context, conversationID, actorID, text string) (model.Message, error)
}

type Manager struct {
	convs  storage.ConversationBackend
	notice Announcer
}

func NewManager(convs storage.ConversationBackend, notice Announcer) *Manager {
	return &Manager{convs: convs, notice: notice}
}

func (m *Manager) group(ctx context.Context, conversationID string) (*model.Conversation, error) {
	c, err := m.convs.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !c.IsGroupChat {
		return nil, fmt.Errorf("%w: not a group", model.ErrInvalidState)
	}
	return c, nil
}

// AddMember lets the admin add newUserID. ErrAlreadyMember if present.
func (m *Manager) AddMember(ctx context.Context, conversationID, requesterID, newUserID string) error {
	defer logger.DeferLogDuration("membership.AddMember", time.Now())()
	if newUserID == "" {
		return fmt.Errorf("membership.AddMember: %w: user id is required", model.ErrInvalidState)
	}
	c, err := m.group(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("membership.AddMember: %w", err)
	}
	if !c.IsAdmin(requesterID) {
		return fmt.Errorf("membership.AddMember: %w", model.ErrPermissionDenied)
	}
	if c.HasParticipant(newUserID) {
		return fmt.Errorf("membership.AddMember: %w", model.ErrAlreadyMember)
	}
	added, err := m.convs.AddParticipant(ctx, conversationID, newUserID)
	if err != nil {
		return fmt.Errorf("membership.AddMember: %w", err)
	}
	if !added {
		return fmt.Errorf("membership.AddMember: %w", model.ErrAlreadyMember)
	}
	logger.Infof("member added conv=%s user=%s by=%s", conversationID, newUserID, requesterID)
	m.announce(ctx, conversationID, requesterID, fmt.Sprintf("%s added %s", requesterID, newUserID))
	return nil
}

// RemoveMember removes targetUserID. Anyone may leave; only the admin may
// remove others. The admin role is not reassigned when the admin leaves.
func (m *Manager) RemoveMember(ctx context.Context, conversationID, requesterID, targetUserID string) error {
	defer logger.DeferLogDuration("membership.RemoveMember", time.Now())()
	c, err := m.group(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("membership.RemoveMember: %w", err)
	}
	self := requesterID == targetUserID
	if !self && !c.IsAdmin(requesterID) {
		return fmt.Errorf("membership.RemoveMember: %w", model.ErrPermissionDenied)
	}
	if !c.HasParticipant(targetUserID) {
		return fmt.Errorf("membership.RemoveMember: %w: not a member", model.ErrNotFound)
	}
	if len(c.Participants) == 1 {
		return fmt.Errorf("membership.RemoveMember: %w: last participant", model.ErrInvalidState)
	}
	removed, err := m.convs.RemoveParticipant(ctx, conversationID, targetUserID)
	if err != nil {
		return fmt.Errorf("membership.RemoveMember: %w", err)
	}
	if !removed {
		return fmt.Errorf("membership.RemoveMember: %w: not a member", model.ErrNotFound)
	}
	text := fmt.Sprintf("%s removed %s", requesterID, targetUserID)
	if self {
		text = fmt.Sprintf("%s left", targetUserID)
	}
	logger.Infof("member removed conv=%s user=%s by=%s", conversationID, targetUserID, requesterID)
	m.announce(ctx, conversationID, requesterID, text)
	return nil
}

// TransferAdmin hands the admin role to another current participant.
func (m *Manager) TransferAdmin(ctx context.Context, conversationID, requesterID, newAdminID string) error {
	defer logger.DeferLogDuration("membership.TransferAdmin", time.Now())()
	c, err := m.group(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("membership.TransferAdmin: %w", err)
	}
	if !c.IsAdmin(requesterID) {
		return fmt.Errorf("membership.TransferAdmin: %w", model.ErrPermissionDenied)
	}
	if !c.HasParticipant(newAdminID) {
		return fmt.Errorf("membership.TransferAdmin: %w: not a member", model.ErrInvalidState)
	}
	if newAdminID == requesterID {
		return nil
	}
	if err := m.convs.SetAdmin(ctx, conversationID, newAdminID); err != nil {
		return fmt.Errorf("membership.TransferAdmin: %w", err)
	}
	logger.Infof("admin transferred conv=%s from=%s to=%s", conversationID, requesterID, newAdminID)
	m.announce(ctx, conversationID, requesterID, fmt.Sprintf("%s is now admin", newAdminID))
	return nil
}

// announce is best effort: the membership change already happened.
func (m *Manager) announce(ctx context.Context, conversationID, actorID, text string) {
	if m.notice == nil {
		return
	}
	if _, err := m.notice.PostSystem(ctx, conversationID, actorID, text); err != nil {
		logger.Warnf("membership announce conv=%s: %v", conversationID, err)
	}
}
