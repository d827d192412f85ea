package ws

import (
	"context"
	"slices"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/session"
	"github.com/gorilla/websocket"
)

// TypingPoll is how often an open feed checks who is typing.
var TypingPoll = time.Second

// Bind opens conversationID for the session user and streams it over conn:
// snapshots on every change, typing sets when they change. The conversation
// is closed when the connection goes away. On error conn is closed.
func Bind(ctx context.Context, sc *session.Client, conversationID string, conn *websocket.Conn, opts Options, hub *Hub) (*Client, error) {
	label := sc.UserID() + "/" + conversationID
	c := NewClient(conn, label, opts, nil)

	conv, err := sc.OpenConversation(ctx, conversationID, func(v session.View) {
		c.Send(OutgoingMessage{Type: EventSnapshot, Payload: SnapshotPayload{ConversationID: v.ConversationID, Messages: v.Messages}})
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if hub != nil && !hub.Register(c) {
		conv.Close(ctx)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many connections"), time.Now().Add(time.Second))
		conn.Close()
		return nil, errTooManyConnections
	}

	c.handle = func(ctx context.Context, c *Client, msg IncomingMessage) {
		switch msg.Type {
		case EventTyping:
			if err := conv.Keystroke(ctx); err != nil {
				logger.Debugf("ws typing %s: %v", label, err)
			}
		case EventFocus:
			conv.Focus(msg.Focused)
		case EventSend:
			localID, err := conv.Send(ctx, msg.Content)
			if err != nil {
				c.Send(OutgoingMessage{Type: EventError, Payload: ErrorPayload{Error: err.Error()}})
				return
			}
			c.Send(OutgoingMessage{Type: EventQueued, Payload: QueuedPayload{LocalID: localID}})
		default:
			c.Send(OutgoingMessage{Type: EventError, Payload: ErrorPayload{Error: "unknown type " + string(msg.Type)}})
		}
	}
	c.OnClose(func(c *Client) {
		conv.Close(context.WithoutCancel(ctx))
		if hub != nil {
			hub.Unregister(c)
		}
	})

	c.Start(ctx)
	go pollTyping(conv, c)
	go watchEnd(conv, c)
	return c, nil
}

// watchEnd closes the connection once the feed ends on its own, e.g. after
// the user was removed from the conversation. The last snapshot stays with
// the client.
func watchEnd(conv *session.Conversation, c *Client) {
	select {
	case <-c.Done():
		return
	case <-conv.Done():
	}
	err := conv.Err()
	if err == nil {
		return
	}
	logger.Infof("ws feed ended %s: %v", c.label, err)
	c.Send(OutgoingMessage{Type: EventError, Payload: ErrorPayload{Error: err.Error()}})
	c.End(websocket.CloseNormalClosure, "conversation closed")
}

func pollTyping(conv *session.Conversation, c *Client) {
	ticker := time.NewTicker(TypingPoll)
	defer ticker.Stop()
	var last []string
	for {
		select {
		case <-c.Done():
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), TypingPoll)
		users, err := conv.TypingUsers(ctx)
		cancel()
		if err != nil {
			logger.Debugf("ws typing poll %s: %v", c.label, err)
			continue
		}
		slices.Sort(users)
		if slices.Equal(users, last) {
			continue
		}
		last = users
		if users == nil {
			users = []string{}
		}
		c.Send(OutgoingMessage{Type: EventTyping, Payload: TypingPayload{ConversationID: conv.ID(), UserIDs: users}})
	}
}
