// Package session wires the messaging components together for one signed-in
// user and exposes per-screen sessions on top of them.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chatsync/internal/connectivity"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/membership"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/outbox"
	"github.com/chatsync/internal/presence"
	"github.com/chatsync/internal/reaction"
	"github.com/chatsync/internal/realtime"
	"github.com/chatsync/internal/repository"
	"github.com/chatsync/internal/storage"
	"golang.org/x/sync/errgroup"
)

// Uploader puts attachment bytes somewhere reachable and returns the URL.
type Uploader interface {
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
}

type Config struct {
	Outbox         outbox.Config
	Realtime       realtime.Config
	Typing         presence.TypingConfig
	OnlineDebounce time.Duration
}

// Deps are the collaborators a Client is built from. The backend is created
// once by the caller and shared.
type Deps struct {
	Backend storage.Backend
	Typing  storage.TypingBackend
	Outbox  storage.OutboxStore
	Signal  connectivity.Signal
	Blobs   Uploader
	UserID  string
	Config  Config
}

type Client struct {
	userID string
	signal connectivity.Signal
	blobs  Uploader

	convs     *repository.ConversationRepository
	msgs      *repository.MessageRepository
	queue     *outbox.Queue
	engine    *realtime.Engine
	members   *membership.Manager
	reactions *reaction.Engine
	typing    *presence.Typing
	tracker   *presence.Tracker
}

func New(d Deps) (*Client, error) {
	switch {
	case d.UserID == "":
		return nil, errors.New("session.New: user id is required")
	case d.Backend == nil || d.Typing == nil || d.Outbox == nil || d.Signal == nil:
		return nil, errors.New("session.New: backend, typing, outbox and signal are required")
	}
	c := &Client{userID: d.UserID, signal: d.Signal, blobs: d.Blobs}
	c.convs = repository.NewConversationRepository(d.Backend)
	c.msgs = repository.NewMessageRepository(d.Backend, d.Backend)
	c.queue = outbox.New(d.Outbox, c.msgs, d.Signal, d.Config.Outbox)
	c.engine = realtime.NewEngine(d.Backend, c.msgs, d.UserID, d.Config.Realtime)
	c.queue.AddListener(c.engine)
	c.members = membership.NewManager(d.Backend, c.msgs)
	c.reactions = reaction.NewEngine(d.Backend, d.Backend)
	c.typing = presence.NewTyping(d.Typing, d.UserID, d.Config.Typing)
	c.tracker = presence.NewTracker(d.Backend, d.Config.OnlineDebounce)
	return c, nil
}

func (c *Client) UserID() string { return c.userID }
func (c *Client) Conversations() *repository.ConversationRepository { return c.convs }
func (c *Client) Messages() *repository.MessageRepository { return c.msgs }
func (c *Client) Outbox() *outbox.Queue { return c.queue }
func (c *Client) Engine() *realtime.Engine { return c.engine }
func (c *Client) Members() *membership.Manager { return c.members }
func (c *Client) Reactions() *reaction.Engine { return c.reactions }
func (c *Client) Typing() *presence.Typing { return c.typing }
func (c *Client) Presence() *presence.Tracker { return c.tracker }
func (c *Client) Signal() connectivity.Signal { return c.signal }

// Run restores queued placeholders, then drains the outbox and mirrors
// connectivity into the user's online status until ctx is done. Pending
// presence is flushed on the way out.
func (c *Client) Run(ctx context.Context) error {
	pending, err := c.queue.Pending("")
	if err != nil {
		return fmt.Errorf("session.Run: %w", err)
	}
	c.engine.Restore(pending)
	if len(pending) > 0 {
		logger.Infof("session restored %d queued messages", len(pending))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.queue.Run(gctx) })
	g.Go(func() error {
		transitions, cancel := c.signal.Subscribe()
		defer cancel()
		c.tracker.UpdateOnlineStatus(c.userID, c.signal.Online())
		for {
			select {
			case <-gctx.Done():
				return nil
			case online := <-transitions:
				c.tracker.UpdateOnlineStatus(c.userID, online)
			}
		}
	})
	err = g.Wait()

	c.tracker.UpdateOnlineStatus(c.userID, false)
	fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if ferr := c.tracker.Flush(fctx); ferr != nil {
		logger.Warnf("session presence flush: %v", ferr)
	}
	c.typing.Close()
	c.engine.Wait()
	return err
}

// OpenConversation subscribes to a conversation the user belongs to.
// onUpdate receives the merged view on every change.
func (c *Client) OpenConversation(ctx context.Context, conversationID string, onUpdate func(View)) (*Conversation, error) {
	if _, err := c.convs.GetForViewer(ctx, conversationID, c.userID); err != nil {
		return nil, fmt.Errorf("session.OpenConversation: %w", err)
	}
	s := &Conversation{client: c, id: conversationID}
	s.handle = c.engine.Subscribe(context.WithoutCancel(ctx), conversationID, func(msgs []model.Message) {
		onUpdate(View{ConversationID: conversationID, Messages: msgs})
	})
	return s, nil
}

// SendTo queues a message without opening a screen. A membership check that
// cannot reach the backend does not block queuing; the drain reports it.
func (c *Client) SendTo(ctx context.Context, conversationID, content string, attachments []model.Attachment) (string, error) {
	if _, err := c.convs.GetForViewer(ctx, conversationID, c.userID); err != nil && !model.IsRetryable(err) {
		return "", fmt.Errorf("session.SendTo: %w", err)
	}
	localID, err := c.queue.Enqueue(ctx, conversationID, c.userID, content, attachments)
	if err != nil {
		return "", fmt.Errorf("session.SendTo: %w", err)
	}
	if err := c.typing.Sent(ctx, conversationID); err != nil {
		logger.Debugf("session typing clear conv=%s: %v", conversationID, err)
	}
	return localID, nil
}

func (c *Client) OpenList() *List {
	return &List{client: c}
}
