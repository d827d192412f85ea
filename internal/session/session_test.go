package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chatsync/internal/blob"
	"github.com/chatsync/internal/connectivity"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/outbox"
	"github.com/chatsync/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type viewLog struct {
	mu   sync.Mutex
	last View
}

func (v *viewLog) set(view View) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.last = view
}

func (v *viewLog) get() View {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.last
}

func newClient(t *testing.T, mem *memory.Client, user string, mon *connectivity.Monitor) *Client {
	t.Helper()
	c, err := New(Deps{
		Backend: mem,
		Typing:  mem,
		Outbox:  memory.NewOutbox(),
		Signal:  mon,
		Blobs:   blob.New(t.TempDir(), 1<<20, ""),
		UserID:  user,
		Config:  Config{Outbox: outbox.Config{DrainInterval: time.Hour}, OnlineDebounce: 10 * time.Millisecond},
	})
	require.NoError(t, err)
	return c
}

func run(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Deps{UserID: "alice"})
	require.Error(t, err)
	_, err = New(Deps{Backend: memory.New()})
	require.Error(t, err)
}

func TestOfflineSendSettlesAfterReconnect(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	mon := connectivity.NewMonitor(false)
	alice := newClient(t, mem, "alice", mon)
	run(t, alice)

	conv, err := alice.Conversations().CreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	views := &viewLog{}
	s, err := alice.OpenConversation(ctx, conv.ID, views.set)
	require.NoError(t, err)
	defer s.Close(ctx)

	localID, err := s.Send(ctx, "hi")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		msgs := views.get().Messages
		return len(msgs) == 1 && msgs[0].ID == "local-"+localID && msgs[0].Status == model.StatusQueued
	}, time.Second, 5*time.Millisecond)

	mon.Set(true)
	require.Eventually(t, func() bool {
		msgs := views.get().Messages
		return len(msgs) == 1 && msgs[0].ClientID == localID && !strings.HasPrefix(msgs[0].ID, "local-")
	}, 2*time.Second, 5*time.Millisecond)

	pending, err := alice.Outbox().Pending("")
	require.NoError(t, err)
	assert.Empty(t, pending)
	got, err := alice.Conversations().Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "hi", got.LastMessage.Content)
}

func TestOpenConversationRequiresMembership(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	alice := newClient(t, mem, "alice", connectivity.NewMonitor(true))
	eve := newClient(t, mem, "eve", connectivity.NewMonitor(true))
	conv, err := alice.Conversations().CreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = eve.OpenConversation(ctx, conv.ID, func(View) {})
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestSendAttachmentUploadsThenQueues(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	alice := newClient(t, mem, "alice", connectivity.NewMonitor(false))
	conv, err := alice.Conversations().CreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	s, err := alice.OpenConversation(ctx, conv.ID, func(View) {})
	require.NoError(t, err)
	defer s.Close(ctx)

	_, err = s.SendAttachment(ctx, Upload{Data: []byte("%PDF-1.4"), ContentType: "application/pdf", Name: "a.pdf"}, "")
	require.NoError(t, err)
	pending, err := alice.Outbox().Pending(conv.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Len(t, pending[0].Attachments, 1)
	att := pending[0].Attachments[0]
	assert.Equal(t, model.AttachmentDocument, att.Type)
	assert.Equal(t, "application/pdf", att.MimeType)
	assert.True(t, strings.HasPrefix(att.URL, "/files/"))

	_, err = s.SendAttachment(ctx, Upload{Data: []byte("x"), ContentType: "audio/ogg", Name: "v.ogg"}, "")
	require.ErrorIs(t, err, model.ErrInvalidState)
}

func TestCloseIsIdempotentAndStopsSending(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	alice := newClient(t, mem, "alice", connectivity.NewMonitor(true))
	conv, err := alice.Conversations().CreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	s, err := alice.OpenConversation(ctx, conv.ID, func(View) {})
	require.NoError(t, err)

	require.NoError(t, s.Keystroke(ctx))
	users, err := mem.TypingUsers(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, users)

	s.Close(ctx)
	s.Close(ctx)
	users, err = mem.TypingUsers(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, users)
	_, err = s.Send(ctx, "late")
	require.ErrorIs(t, err, model.ErrInvalidState)
}

func TestListRefresh(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	alice := newClient(t, mem, "alice", connectivity.NewMonitor(true))
	bob := newClient(t, mem, "bob", connectivity.NewMonitor(true))
	conv, err := alice.Conversations().CreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = alice.Messages().SendMessage(ctx, conv.ID, "alice", "hi", nil, "")
	require.NoError(t, err)

	list := bob.OpenList()
	assert.Empty(t, list.Snapshot())
	got, err := list.Refresh(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].UnreadCount)
	assert.Equal(t, got, list.Snapshot())
}

func TestRunWritesPresence(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	mon := connectivity.NewMonitor(true)
	alice := newClient(t, mem, "alice", mon)
	run(t, alice)

	require.Eventually(t, func() bool {
		p, err := mem.GetPresence(ctx, "alice")
		return err == nil && p.Online
	}, time.Second, 5*time.Millisecond)
	mon.Set(false)
	require.Eventually(t, func() bool {
		p, err := mem.GetPresence(ctx, "alice")
		return err == nil && !p.Online
	}, time.Second, 5*time.Millisecond)
}

func TestSendToChecksMembershipThenQueues(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	alice := newClient(t, mem, "alice", connectivity.NewMonitor(false))
	eve := newClient(t, mem, "eve", connectivity.NewMonitor(false))
	conv, err := alice.Conversations().CreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = eve.SendTo(ctx, conv.ID, "hi", nil)
	require.ErrorIs(t, err, model.ErrNotFound)

	localID, err := alice.SendTo(ctx, conv.ID, "hi", nil)
	require.NoError(t, err)
	pending, err := alice.Outbox().Pending(conv.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, localID, pending[0].LocalID)
}
