package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDirectConversation(t *testing.T) {
	now := time.Now()
	c, err := NewDirectConversation("c1", "alice", "bob", now)
	require.NoError(t, err)
	require.NoError(t, c.Validate())
	assert.Equal(t, []string{"alice", "bob"}, c.Participants)
	assert.False(t, c.IsGroupChat)
	assert.Empty(t, c.GroupAdminID)
	assert.Equal(t, 0, c.UnreadCount["bob"])

	_, err = NewDirectConversation("c2", "alice", "alice", now)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestNewGroupConversationDedupesMembers(t *testing.T) {
	c, err := NewGroupConversation("g1", "alice", "team", []string{"bob", "alice", "bob", "carol"}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "carol"}, c.Participants)
	assert.True(t, c.IsAdmin("alice"))
	assert.False(t, c.IsAdmin("bob"))
	require.NoError(t, c.Validate())

	_, err = NewGroupConversation("g2", "alice", "", []string{"bob"}, time.Now())
	require.ErrorIs(t, err, ErrInvalidState)
	_, err = NewGroupConversation("g3", "alice", "solo", nil, time.Now())
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestValidateToleratesRemovedAdmin(t *testing.T) {
	c, err := NewGroupConversation("g1", "alice", "team", []string{"bob", "carol"}, time.Now())
	require.NoError(t, err)
	c.Participants = []string{"bob", "carol"}
	require.NoError(t, c.Validate())

	c.UnreadCount["bob"] = -1
	require.ErrorIs(t, c.Validate(), ErrInvalidState)
}

func TestConversationCloneIsDeep(t *testing.T) {
	c, err := NewDirectConversation("c1", "a", "b", time.Now())
	require.NoError(t, err)
	c.LastMessage = &LastMessage{Content: "hi", SenderID: "a"}
	cp := c.Clone()
	cp.Participants[0] = "z"
	cp.UnreadCount["a"] = 9
	cp.LastMessage.Content = "bye"
	assert.Equal(t, "a", c.Participants[0])
	assert.Equal(t, 0, c.UnreadCount["a"])
	assert.Equal(t, "hi", c.LastMessage.Content)
}

func TestAttachmentConstructors(t *testing.T) {
	img, err := NewImage("/files/a.png", "a.png", 640, 480)
	require.NoError(t, err)
	assert.Equal(t, AttachmentImage, img.Type)

	_, err = NewAudio("/files/v.ogg", "v.ogg", 0)
	require.ErrorIs(t, err, ErrInvalidState)

	doc, err := NewDocument("/files/r.pdf", "r.pdf", "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", doc.MimeType)

	_, err = NewDocument("/files/r.pdf", "r.pdf", "")
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = NewVideo("", "clip.mp4", time.Second)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestAttachmentDecodeRejectsUnknownType(t *testing.T) {
	var a Attachment
	err := json.Unmarshal([]byte(`{"type":"sticker","url":"/x","name":"x"}`), &a)
	require.ErrorIs(t, err, ErrInvalidState)

	err = json.Unmarshal([]byte(`{"type":"audio","url":"/x.ogg","name":"x.ogg","duration_ms":1200}`), &a)
	require.NoError(t, err)
	assert.Equal(t, int64(1200), a.DurationMs)
}

func TestMessageValidate(t *testing.T) {
	m := Message{ConversationID: "c", SenderID: "u"}
	require.ErrorIs(t, m.Validate(), ErrInvalidState)

	img, err := NewImage("/files/a.png", "a.png", 0, 0)
	require.NoError(t, err)
	m.Attachments = []Attachment{img}
	require.NoError(t, m.Validate())
}

func TestGroupReactionsKeepsFirstUseOrder(t *testing.T) {
	base := time.Now()
	groups := GroupReactions([]Reaction{
		{Emoji: "🔥", UserID: "b", Timestamp: base.Add(2 * time.Second)},
		{Emoji: "👍", UserID: "a", Timestamp: base},
		{Emoji: "👍", UserID: "c", Timestamp: base.Add(3 * time.Second)},
	})
	require.Len(t, groups, 2)
	assert.Equal(t, ReactionGroup{Emoji: "👍", Count: 2, Users: []string{"a", "c"}}, groups[0])
	assert.Equal(t, "🔥", groups[1].Emoji)
}

func TestCursorRoundTrip(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 123, time.UTC)
	c := Cursor{Timestamp: ts, ID: "m-9"}
	parsed, err := ParseCursor(c.Encode())
	require.NoError(t, err)
	assert.True(t, parsed.Timestamp.Equal(ts))
	assert.Equal(t, "m-9", parsed.ID)

	none, err := ParseCursor("")
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = ParseCursor("!!!")
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestCursorBeforeBreaksTiesByID(t *testing.T) {
	ts := time.Now()
	c := Cursor{Timestamp: ts, ID: "m2"}
	assert.True(t, c.Before(Message{ID: "m1", Timestamp: ts}))
	assert.False(t, c.Before(Message{ID: "m2", Timestamp: ts}))
	assert.False(t, c.Before(Message{ID: "m0", Timestamp: ts.Add(time.Nanosecond)}))
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultPageLimit, ClampLimit(0))
	assert.Equal(t, 1, ClampLimit(1))
	assert.Equal(t, MaxPageLimit, ClampLimit(1000))
}

func TestQueuedReadyAndPlaceholder(t *testing.T) {
	now := time.Now()
	q := &QueuedMessage{LocalID: "l1", ConversationID: "c", SenderID: "u", Content: "hi", CreatedAt: now, Status: StatusQueued}
	assert.True(t, q.Ready(now))
	q.NextAttemptAt = now.Add(time.Second)
	assert.False(t, q.Ready(now))
	assert.True(t, q.Ready(now.Add(time.Second)))
	q.Status = StatusFailed
	assert.False(t, q.Ready(now.Add(time.Hour)))

	p := q.Placeholder()
	assert.Equal(t, "local-l1", p.ID)
	assert.Equal(t, "l1", p.ClientID)
	assert.Equal(t, []string{"u"}, p.ReadBy)
}

func TestTransientClassification(t *testing.T) {
	base := errors.New("conn reset")
	err := fmt.Errorf("store.Insert: %w", Transient(base))
	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, base)
	assert.ErrorIs(t, err, ErrTransient)

	assert.False(t, IsRetryable(fmt.Errorf("x: %w", ErrPermissionDenied)))
	assert.True(t, errors.Is(ErrAlreadyMember, ErrAlreadyExists))
	assert.Nil(t, Transient(nil))
}
