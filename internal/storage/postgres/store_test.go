package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/chatsync/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	require.NoError(t, classify("op", nil))
	require.ErrorIs(t, classify("op", pgx.ErrNoRows), model.ErrNotFound)
	require.ErrorIs(t, classify("op", &pgconn.PgError{Code: "23505"}), model.ErrAlreadyExists)
	assert.True(t, model.IsRetryable(classify("op", &pgconn.PgError{Code: "40001"})))
	assert.True(t, model.IsRetryable(classify("op", context.DeadlineExceeded)))
	assert.False(t, model.IsRetryable(classify("op", errors.New("syntax"))))
}

func testStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("PG_TEST_URL")
	if url == "" {
		t.Skip("PG_TEST_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, Migrate(ctx, pool))
	return New(pool)
}

func seed(t *testing.T, s *Store) *model.Conversation {
	t.Helper()
	a, b := uuid.NewString(), uuid.NewString()
	conv, err := model.NewDirectConversation(uuid.NewString(), a, b, time.Now())
	require.NoError(t, err)
	require.NoError(t, s.CreateConversation(context.Background(), conv))
	return conv
}

func TestAppendMessageIntegration(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	conv := seed(t, s)
	alice, bob := conv.Participants[0], conv.Participants[1]

	m1, created, err := s.AppendMessage(ctx, &model.Message{ConversationID: conv.ID, SenderID: alice, Content: "hi", ClientID: "l1"})
	require.NoError(t, err)
	require.True(t, created)
	m2, created, err := s.AppendMessage(ctx, &model.Message{ConversationID: conv.ID, SenderID: alice, Content: "hi", ClientID: "l1"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, m1.ID, m2.ID)

	m3, _, err := s.AppendMessage(ctx, &model.Message{ConversationID: conv.ID, SenderID: bob, Content: "yo"})
	require.NoError(t, err)
	assert.True(t, m3.Timestamp.After(m1.Timestamp))

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UnreadCount[bob])
	assert.Equal(t, 1, got.UnreadCount[alice])
	assert.Equal(t, "yo", got.LastMessage.Content)

	_, _, err = s.AppendMessage(ctx, &model.Message{ConversationID: conv.ID, SenderID: "eve", Content: "x"})
	require.ErrorIs(t, err, model.ErrPermissionDenied)
}

func TestReactionsAndReadIntegration(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	conv := seed(t, s)
	alice, bob := conv.Participants[0], conv.Participants[1]

	m, _, err := s.AppendMessage(ctx, &model.Message{ConversationID: conv.ID, SenderID: alice, Content: "hi"})
	require.NoError(t, err)

	added, err := s.AddReaction(ctx, m.ID, model.Reaction{UserID: bob, Emoji: "👍"})
	require.NoError(t, err)
	assert.True(t, added)
	added, err = s.AddReaction(ctx, m.ID, model.Reaction{UserID: bob, Emoji: "👍"})
	require.NoError(t, err)
	assert.False(t, added)

	got, err := s.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, got.Reactions, 1)

	n, err := s.MarkRead(ctx, conv.ID, bob)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	changed, err := s.ResetUnread(ctx, conv.ID, bob)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestWatchMessagesIntegration(t *testing.T) {
	s := testStore(t)
	conv := seed(t, s)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	batches := make(chan []model.Message, 8)
	go func() {
		_ = s.WatchMessages(ctx, conv.ID, 10, func(b []model.Message) { batches <- b })
	}()
	require.Empty(t, <-batches)

	_, _, err := s.AppendMessage(context.Background(), &model.Message{ConversationID: conv.ID, SenderID: conv.Participants[0], Content: "hi"})
	require.NoError(t, err)
	select {
	case b := <-batches:
		require.Len(t, b, 1)
		assert.Equal(t, "hi", b[0].Content)
	case <-time.After(5 * time.Second):
		t.Fatal("no batch after append")
	}
}

func TestRemoveLastParticipantIntegration(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	conv := seed(t, s)
	alice, bob := conv.Participants[0], conv.Participants[1]

	removed, err := s.RemoveParticipant(ctx, conv.ID, "nobody")
	require.NoError(t, err)
	assert.False(t, removed)
	removed, err = s.RemoveParticipant(ctx, conv.ID, bob)
	require.NoError(t, err)
	assert.True(t, removed)
	_, err = s.RemoveParticipant(ctx, conv.ID, alice)
	require.ErrorIs(t, err, model.ErrInvalidState)
	_, err = s.RemoveParticipant(ctx, uuid.NewString(), alice)
	require.ErrorIs(t, err, model.ErrNotFound)

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{alice}, got.Participants)
}
