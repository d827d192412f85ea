package repository

import (
	"context"
	"testing"

	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepos() (*ConversationRepository, *MessageRepository) {
	mem := memory.New()
	return NewConversationRepository(mem), NewMessageRepository(mem, mem)
}

func TestCreateDirectIsUnique(t *testing.T) {
	ctx := context.Background()
	convs, _ := newRepos()

	first, err := convs.CreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	again, err := convs.CreateDirect(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	_, err = convs.CreateDirect(ctx, "alice", "alice")
	require.ErrorIs(t, err, model.ErrInvalidState)
}

func TestGetForViewerHidesForeignConversations(t *testing.T) {
	ctx := context.Background()
	convs, _ := newRepos()
	c, err := convs.CreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = convs.GetForViewer(ctx, c.ID, "eve")
	require.ErrorIs(t, err, model.ErrNotFound)
	_, err = convs.GetForViewer(ctx, c.ID, "bob")
	require.NoError(t, err)
}

func TestSendMessageUpdatesCounters(t *testing.T) {
	ctx := context.Background()
	convs, msgs := newRepos()
	g, err := convs.CreateGroup(ctx, "alice", "team", []string{"bob", "carol"})
	require.NoError(t, err)

	m, err := msgs.SendMessage(ctx, g.ID, "alice", "hi", nil, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, m.ReadBy)

	list, err := convs.ListForUser(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].UnreadCount)
	assert.Equal(t, "hi", list[0].Conversation.LastMessage.Content)

	got, err := convs.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.UnreadCount["alice"])
	assert.Equal(t, 1, got.UnreadCount["carol"])
}

func TestSendMessageErrors(t *testing.T) {
	ctx := context.Background()
	convs, msgs := newRepos()
	c, err := convs.CreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = msgs.SendMessage(ctx, c.ID, "eve", "hi", nil, "")
	require.ErrorIs(t, err, model.ErrPermissionDenied)
	_, err = msgs.SendMessage(ctx, "missing", "alice", "hi", nil, "")
	require.ErrorIs(t, err, model.ErrNotFound)
	_, err = msgs.SendMessage(ctx, c.ID, "alice", "", nil, "")
	require.ErrorIs(t, err, model.ErrInvalidState)
}

func TestSendMessageWithClientIDIsIdempotent(t *testing.T) {
	ctx := context.Background()
	convs, msgs := newRepos()
	c, err := convs.CreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)

	a, err := msgs.SendMessage(ctx, c.ID, "alice", "hi", nil, "local-1")
	require.NoError(t, err)
	b, err := msgs.SendMessage(ctx, c.ID, "alice", "hi", nil, "local-1")
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)

	got, err := convs.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UnreadCount["bob"])
}

func TestGetMessagesPagesNewestFirst(t *testing.T) {
	ctx := context.Background()
	convs, msgs := newRepos()
	c, err := convs.CreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	for _, text := range []string{"1", "2", "3", "4", "5"} {
		_, err := msgs.SendMessage(ctx, c.ID, "alice", text, nil, "")
		require.NoError(t, err)
	}

	page, err := msgs.GetMessages(ctx, c.ID, "bob", 2, "")
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "5", page.Messages[0].Content)
	require.NotEmpty(t, page.NextCursor)

	seen := []string{page.Messages[0].Content, page.Messages[1].Content}
	for page.NextCursor != "" {
		page, err = msgs.GetMessages(ctx, c.ID, "bob", 2, page.NextCursor)
		require.NoError(t, err)
		for _, m := range page.Messages {
			seen = append(seen, m.Content)
		}
	}
	assert.Equal(t, []string{"5", "4", "3", "2", "1"}, seen)

	_, err = msgs.GetMessages(ctx, c.ID, "eve", 10, "")
	require.ErrorIs(t, err, model.ErrNotFound)
	_, err = msgs.GetMessages(ctx, c.ID, "bob", 10, "garbage!")
	require.ErrorIs(t, err, model.ErrInvalidState)
}

func TestMarkMessagesAsRead(t *testing.T) {
	ctx := context.Background()
	convs, msgs := newRepos()
	c, err := convs.CreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = msgs.SendMessage(ctx, c.ID, "alice", "hi", nil, "")
	require.NoError(t, err)
	_, err = msgs.SendMessage(ctx, c.ID, "alice", "there", nil, "")
	require.NoError(t, err)

	require.NoError(t, msgs.MarkMessagesAsRead(ctx, c.ID, "bob"))
	got, err := convs.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.UnreadCount["bob"])

	page, err := msgs.GetMessages(ctx, c.ID, "bob", 10, "")
	require.NoError(t, err)
	for _, m := range page.Messages {
		assert.True(t, m.IsReadBy("bob"))
	}

	require.NoError(t, msgs.MarkMessagesAsRead(ctx, c.ID, "bob"))
}

// arrivingMsgs appends one message just before MarkRead runs.
type arrivingMsgs struct {
	*memory.Client
	arrive func()
}

func (a *arrivingMsgs) MarkRead(ctx context.Context, conversationID, userID string) (int, error) {
	if a.arrive != nil {
		a.arrive()
		a.arrive = nil
	}
	return a.Client.MarkRead(ctx, conversationID, userID)
}

func TestMarkReadResetsUnreadForMessageArrivingMidway(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	convs := NewConversationRepository(mem)
	c, err := convs.CreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)

	backend := &arrivingMsgs{Client: mem}
	backend.arrive = func() {
		_, _, err := mem.AppendMessage(ctx, &model.Message{ConversationID: c.ID, SenderID: "alice", Content: "late"})
		require.NoError(t, err)
	}
	msgs := NewMessageRepository(mem, backend)

	require.NoError(t, msgs.MarkMessagesAsRead(ctx, c.ID, "bob"))
	got, err := convs.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.UnreadCount["bob"])
	page, err := msgs.GetMessages(ctx, c.ID, "bob", 10, "")
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.True(t, page.Messages[0].IsReadBy("bob"))
}

func TestRenameGroupAdminOnly(t *testing.T) {
	ctx := context.Background()
	convs, _ := newRepos()
	g, err := convs.CreateGroup(ctx, "alice", "team", []string{"bob"})
	require.NoError(t, err)

	require.ErrorIs(t, convs.RenameGroup(ctx, g.ID, "bob", "mine"), model.ErrPermissionDenied)
	require.NoError(t, convs.RenameGroup(ctx, g.ID, "alice", "renamed"))
	got, err := convs.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.GroupName)

	d, err := convs.CreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	require.ErrorIs(t, convs.RenameGroup(ctx, d.ID, "alice", "x"), model.ErrInvalidState)
}
