package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/gorilla/websocket"
)

type Options struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
	SendBufSize    int
}

func (o Options) withDefaults() Options {
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 << 10
	}
	if o.SendBufSize <= 0 {
		o.SendBufSize = 64
	}
	return o
}

// MessageHandler processes one decoded client message.
type MessageHandler func(ctx context.Context, c *Client, msg IncomingMessage)

var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Client is one WebSocket connection.
// Lifecycle: NewClient -> Start -> [readPump, writePump] -> Close -> Wait.
type Client struct {
	conn    *websocket.Conn
	send    chan OutgoingMessage
	handle  MessageHandler
	onClose func(*Client)
	opts    Options
	label   string

	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup

	endMu     sync.Mutex
	endCode   int
	endReason string
}

// NewClient wraps conn. label names the connection in logs.
func NewClient(conn *websocket.Conn, label string, opts Options, handle MessageHandler) *Client {
	opts = opts.withDefaults()
	return &Client{
		conn:   conn,
		send:   make(chan OutgoingMessage, opts.SendBufSize),
		handle: handle,
		opts:   opts,
		label:  label,
		done:   make(chan struct{}),
	}
}

// OnClose registers fn to run once after the read pump exits.
func (c *Client) OnClose(fn func(*Client)) { c.onClose = fn }

func (c *Client) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(2)
	go c.writePump(ctx)
	go c.readPump(ctx)
}

func (c *Client) Wait() { c.wg.Wait() }

// Done is closed once Close has run.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close stops both pumps. Safe to call more than once.
func (c *Client) Close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
		c.conn.Close()
	})
}

// End stops the pumps after the messages already queued are written, then
// sends a close frame with code and reason.
func (c *Client) End(code int, reason string) {
	c.endMu.Lock()
	c.endCode, c.endReason = code, reason
	c.endMu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

// Send queues msg without blocking. A full buffer drops the message; the
// next snapshot carries the full state anyway.
func (c *Client) Send(msg OutgoingMessage) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		logger.Warnf("ws send buffer full %s, dropping %s", c.label, msg.Type)
		return false
	}
}

func (c *Client) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		c.Close()
		if c.onClose != nil {
			c.onClose(c)
		}
	}()

	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait)); err != nil {
		logger.Errorf("ws set read deadline %s: %v", c.label, err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws read error %s: %v", c.label, err)
			}
			return
		}
		var msg IncomingMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Errorf("ws unmarshal error %s: %v", c.label, err)
			c.Send(OutgoingMessage{Type: EventError, Payload: ErrorPayload{Error: "invalid message"}})
			continue
		}
		if c.handle != nil {
			c.handle(ctx, c, msg)
		}
	}
}

func (c *Client) writePump(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			c.flush()
			c.endMu.Lock()
			code, reason := c.endCode, c.endReason
			c.endMu.Unlock()
			if code == 0 {
				code = websocket.CloseNormalClosure
			}
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
			return
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// flush writes whatever is still buffered without waiting for more.
func (c *Client) flush() {
	for {
		select {
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

// write encodes msg as one text frame. Encoding failures are logged and
// skipped; only connection errors are returned.
func (c *Client) write(msg OutgoingMessage) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
		return err
	}
	buf := bufPool.Get().(*bytes.Buffer)
	defer bufPool.Put(buf)
	buf.Reset()
	if err := json.NewEncoder(buf).Encode(msg); err != nil {
		logger.Errorf("ws marshal error %s: %v", c.label, err)
		return nil
	}
	return c.conn.WriteMessage(websocket.TextMessage, bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}))
}
