package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/realtime"
)

// View is one emission of a conversation screen.
type View struct {
	ConversationID string          `json:"conversation_id"`
	Messages       []model.Message `json:"messages"`
}

// Upload describes an attachment to upload and send.
type Upload struct {
	Data        []byte
	ContentType string
	Name        string
	Width       int
	Height      int
	Duration    time.Duration
}

// Conversation is an open conversation screen. Close is idempotent.
type Conversation struct {
	client *Client
	id     string
	handle *realtime.Handle

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

func (s *Conversation) ID() string { return s.id }

// Done is closed when the live feed stops, after Close or once the user is
// no longer a participant.
func (s *Conversation) Done() <-chan struct{} { return s.handle.Done() }

// Err is ErrNotFound when the feed ended because the user left or was
// removed. The last window stays visible.
func (s *Conversation) Err() error { return s.handle.Err() }

var errClosed = fmt.Errorf("%w: session closed", model.ErrInvalidState)

func (s *Conversation) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Send queues a text message and returns its local id. It never waits for
// the network.
func (s *Conversation) Send(ctx context.Context, content string) (string, error) {
	if s.isClosed() {
		return "", errClosed
	}
	return s.send(ctx, content, nil)
}

func (s *Conversation) send(ctx context.Context, content string, attachments []model.Attachment) (string, error) {
	localID, err := s.client.queue.Enqueue(ctx, s.id, s.client.userID, content, attachments)
	if err != nil {
		return "", fmt.Errorf("session.Send: %w", err)
	}
	if err := s.client.typing.Sent(ctx, s.id); err != nil {
		logger.Debugf("session typing clear conv=%s: %v", s.id, err)
	}
	return localID, nil
}

// SendAttachment uploads u and queues a message carrying it.
func (s *Conversation) SendAttachment(ctx context.Context, u Upload, caption string) (string, error) {
	if s.isClosed() {
		return "", errClosed
	}
	if s.client.blobs == nil {
		return "", fmt.Errorf("session.SendAttachment: %w: no blob store", model.ErrInvalidState)
	}
	url, err := s.client.blobs.Upload(ctx, u.Data, u.ContentType)
	if err != nil {
		return "", fmt.Errorf("session.SendAttachment: %w", err)
	}
	att, err := attachmentFor(u, url)
	if err != nil {
		return "", fmt.Errorf("session.SendAttachment: %w", err)
	}
	return s.send(ctx, caption, []model.Attachment{att})
}

func attachmentFor(u Upload, url string) (model.Attachment, error) {
	name := strings.TrimSpace(u.Name)
	if name == "" {
		name = url[strings.LastIndex(url, "/")+1:]
	}
	ct := strings.ToLower(u.ContentType)
	switch {
	case strings.HasPrefix(ct, "image/"):
		return model.NewImage(url, name, u.Width, u.Height)
	case strings.HasPrefix(ct, "audio/"):
		return model.NewAudio(url, name, u.Duration)
	case strings.HasPrefix(ct, "video/"):
		return model.NewVideo(url, name, u.Duration)
	default:
		return model.NewDocument(url, name, strings.TrimSpace(strings.Split(ct, ";")[0]))
	}
}

func (s *Conversation) Keystroke(ctx context.Context) error {
	if s.isClosed() {
		return nil
	}
	return s.client.typing.Keystroke(ctx, s.id)
}

func (s *Conversation) TypingUsers(ctx context.Context) ([]string, error) {
	return s.client.typing.TypingUsers(ctx, s.id)
}

// Focus marks the screen visible or hidden. While focused, incoming
// messages are marked read.
func (s *Conversation) Focus(focused bool) {
	if s.isClosed() {
		return
	}
	s.client.engine.SetFocus(s.id, focused)
}

// LoadOlder pages back in history from cursor.
func (s *Conversation) LoadOlder(ctx context.Context, cursor string, limit int) (model.Page, error) {
	return s.client.msgs.GetMessages(ctx, s.id, s.client.userID, limit, cursor)
}

// Close cancels the subscription and clears the typing flag.
func (s *Conversation) Close(ctx context.Context) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.client.engine.Cancel(s.handle)
		s.client.engine.SetFocus(s.id, false)
		if err := s.client.typing.Sent(ctx, s.id); err != nil && !errors.Is(err, context.Canceled) {
			logger.Debugf("session close typing conv=%s: %v", s.id, err)
		}
	})
}

// List is the conversation list screen.
type List struct {
	client *Client

	mu   sync.Mutex
	last []model.ConversationSummary
}

// Refresh reloads the user's conversations, most recently active first.
func (l *List) Refresh(ctx context.Context) ([]model.ConversationSummary, error) {
	list, err := l.client.convs.ListForUser(ctx, l.client.userID)
	if err != nil {
		return nil, fmt.Errorf("session.List: %w", err)
	}
	l.mu.Lock()
	l.last = list
	l.mu.Unlock()
	return list, nil
}

// Snapshot returns the result of the last Refresh.
func (l *List) Snapshot() []model.ConversationSummary {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}
