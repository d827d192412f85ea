package presence

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPresence struct {
	mock.Mock
}

func (m *mockPresence) SetOnline(ctx context.Context, userID string, online bool) error {
	args := m.Called(ctx, userID, online)
	return args.Error(0)
}

func (m *mockPresence) GetPresence(ctx context.Context, userID string) (model.Presence, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(model.Presence), args.Error(1)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestUnrefreshedTypingFlagExpires(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	clk := &fakeClock{now: time.Unix(1000, 0)}
	mem.Now = clk.Now
	typ := NewTyping(mem, "alice", TypingConfig{TTL: 5 * time.Second, Inactivity: time.Hour})
	defer typ.Close()

	require.NoError(t, typ.Keystroke(ctx, "c1"))
	users, err := mem.TypingUsers(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, users)

	clk.Advance(6 * time.Second)
	users, err = mem.TypingUsers(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestKeystrokeIsThrottled(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	clk := &fakeClock{now: time.Unix(1000, 0)}
	mem.Now = clk.Now
	typ := NewTyping(mem, "alice", TypingConfig{TTL: 5 * time.Second, Refresh: time.Hour, Inactivity: time.Hour})
	defer typ.Close()

	require.NoError(t, typ.Keystroke(ctx, "c1"))
	clk.Advance(4 * time.Second)
	require.NoError(t, typ.Keystroke(ctx, "c1"))
	clk.Advance(2 * time.Second)
	// The second keystroke did not refresh the flag, so it expired.
	users, err := mem.TypingUsers(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestInactivityClearsFlag(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	typ := NewTyping(mem, "alice", TypingConfig{TTL: time.Minute, Inactivity: 20 * time.Millisecond})
	defer typ.Close()

	require.NoError(t, typ.Keystroke(ctx, "c1"))
	require.Eventually(t, func() bool {
		users, err := mem.TypingUsers(ctx, "c1")
		return err == nil && len(users) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestSentClearsImmediately(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	typ := NewTyping(mem, "alice", TypingConfig{TTL: time.Minute, Inactivity: time.Hour})
	defer typ.Close()
	bob := NewTyping(mem, "bob", TypingConfig{TTL: time.Minute, Inactivity: time.Hour})
	defer bob.Close()

	require.NoError(t, typ.Keystroke(ctx, "c1"))
	require.NoError(t, bob.Keystroke(ctx, "c1"))
	others, err := typ.TypingUsers(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, others)

	require.NoError(t, typ.Sent(ctx, "c1"))
	users, err := mem.TypingUsers(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, users)
	require.NoError(t, typ.Sent(ctx, "c1"))
}

func TestOnlineStatusDebouncedLastValueWins(t *testing.T) {
	store := &mockPresence{}
	wrote := make(chan struct{}, 4)
	store.On("SetOnline", mock.Anything, "alice", false).Return(nil).Once().
		Run(func(mock.Arguments) { wrote <- struct{}{} })
	tr := NewTracker(store, 30*time.Millisecond)

	tr.UpdateOnlineStatus("alice", true)
	tr.UpdateOnlineStatus("alice", false)
	tr.UpdateOnlineStatus("alice", true)
	tr.UpdateOnlineStatus("alice", false)

	select {
	case <-wrote:
	case <-time.After(time.Second):
		t.Fatal("status never written")
	}
	time.Sleep(60 * time.Millisecond)
	store.AssertExpectations(t)
	store.AssertNumberOfCalls(t, "SetOnline", 1)
}

func TestOnlineStatusSkipsUnchangedWrite(t *testing.T) {
	ctx := context.Background()
	store := &mockPresence{}
	store.On("SetOnline", mock.Anything, "alice", true).Return(nil).Once()
	tr := NewTracker(store, time.Hour)

	tr.UpdateOnlineStatus("alice", true)
	require.NoError(t, tr.Flush(ctx))
	tr.UpdateOnlineStatus("alice", true)
	require.NoError(t, tr.Flush(ctx))
	store.AssertNumberOfCalls(t, "SetOnline", 1)

	store.On("GetPresence", mock.Anything, "alice").Return(model.Presence{UserID: "alice", Online: true}, nil)
	online, err := tr.IsOnline(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, online)
}

func TestOnlineStatusFailedWriteIsRetried(t *testing.T) {
	store := &mockPresence{}
	wrote := make(chan struct{}, 1)
	store.On("SetOnline", mock.Anything, "alice", true).Return(model.Transient(errors.New("redis down"))).Once()
	store.On("SetOnline", mock.Anything, "alice", true).Return(nil).Once().
		Run(func(mock.Arguments) { wrote <- struct{}{} })
	tr := NewTracker(store, 10*time.Millisecond)

	tr.UpdateOnlineStatus("alice", true)
	select {
	case <-wrote:
	case <-time.After(time.Second):
		t.Fatal("status never written after failure")
	}
	store.AssertExpectations(t)
}

func TestOnlineStatusWritesDoNotOverlap(t *testing.T) {
	store := &mockPresence{}
	release := make(chan struct{})
	var running, overlapped atomic.Int32
	var mu sync.Mutex
	var order []bool
	store.On("SetOnline", mock.Anything, "alice", mock.Anything).Return(nil).
		Run(func(args mock.Arguments) {
			if running.Add(1) > 1 {
				overlapped.Add(1)
			}
			mu.Lock()
			order = append(order, args.Bool(2))
			first := len(order) == 1
			mu.Unlock()
			if first {
				<-release
			}
			running.Add(-1)
		})
	tr := NewTracker(store, 5*time.Millisecond)

	tr.UpdateOnlineStatus("alice", true)
	require.Eventually(t, func() bool { return running.Load() == 1 }, time.Second, time.Millisecond)
	tr.UpdateOnlineStatus("alice", false)
	time.Sleep(30 * time.Millisecond)
	close(release)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []bool{true, false}, order)
	mu.Unlock()
	assert.Zero(t, overlapped.Load())
}
