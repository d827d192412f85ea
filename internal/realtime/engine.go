// Package realtime keeps a merged local view of each open conversation: live
// batches from the backend feed plus optimistic placeholders for queued
// sends.
package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/metrics"
	"github.com/chatsync/internal/model"
)

// Feed is the backend change feed. WatchMessages blocks and emits the
// newest window, ascending, after every change. GetConversation is read
// before every emission to confirm the viewer still participates.
type Feed interface {
	WatchMessages(ctx context.Context, conversationID string, window int, emit func([]model.Message)) error
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
}

type ReadMarker interface {
	MarkMessagesAsRead(ctx context.Context, conversationID, viewerID string) error
}

type Config struct {
	Window          int
	ResubscribeBase time.Duration
	ResubscribeMax  time.Duration
	MarkReadTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = model.DefaultPageLimit
	}
	if c.ResubscribeBase <= 0 {
		c.ResubscribeBase = 500 * time.Millisecond
	}
	if c.ResubscribeMax <= 0 {
		c.ResubscribeMax = 30 * time.Second
	}
	if c.MarkReadTimeout <= 0 {
		c.MarkReadTimeout = 10 * time.Second
	}
	return c
}

// Engine owns one view per conversation. It is also the outbox listener
// that turns queue transitions into placeholders.
type Engine struct {
	feed   Feed
	marker ReadMarker
	viewer string
	cfg    Config

	mu    sync.Mutex
	views map[string]*view
	// markWG tracks in-flight read receipts so Wait can drain them.
	markWG sync.WaitGroup
}

func NewEngine(feed Feed, marker ReadMarker, viewerID string, cfg Config) *Engine {
	return &Engine{
		feed:   feed,
		marker: marker,
		viewer: viewerID,
		cfg:    cfg.withDefaults(),
		views:  make(map[string]*view),
	}
}

func (e *Engine) view(conversationID string) *view {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.views[conversationID]
	if !ok {
		v = newView()
		e.views[conversationID] = v
	}
	return v
}

// Handle is one live subscription. onUpdate is never called after Cancel
// returns; it must not call Cancel itself.
type Handle struct {
	conversationID string
	onUpdate       func([]model.Message)
	cancel         context.CancelFunc
	done           chan struct{}

	mu          sync.Mutex
	live        bool
	lastVersion uint64
	err         error
}

// Done is closed when the feed goroutine has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err is why the feed ended on its own, ErrNotFound once the viewer has
// left the conversation. Nil while live or after Cancel.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *Handle) ConversationID() string { return h.conversationID }

func (h *Handle) deliver(version uint64, msgs []model.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.live || version <= h.lastVersion {
		return
	}
	h.lastVersion = version
	h.onUpdate(msgs)
}

// Subscribe opens a live feed for the conversation. The feed is re-opened
// with backoff after errors until the handle is cancelled or ctx ends.
func (e *Engine) Subscribe(ctx context.Context, conversationID string, onUpdate func([]model.Message)) *Handle {
	fctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		conversationID: conversationID,
		onUpdate:       onUpdate,
		cancel:         cancel,
		done:           make(chan struct{}),
		live:           true,
	}
	v := e.view(conversationID)
	v.mu.Lock()
	v.handles[h] = struct{}{}
	v.mu.Unlock()
	metrics.IncSubscriptions()
	logger.Debugf("realtime subscribe conv=%s", conversationID)

	go e.run(fctx, h, v)
	return h
}

// Cancel is idempotent. An in-flight onUpdate finishes before it returns.
func (e *Engine) Cancel(h *Handle) {
	if e.detach(h, nil) {
		logger.Debugf("realtime unsubscribe conv=%s", h.conversationID)
	}
}

// detach stops deliveries to h and drops it from its view. cause is kept as
// h.Err. False if h was already detached.
func (e *Engine) detach(h *Handle, cause error) bool {
	h.mu.Lock()
	if !h.live {
		h.mu.Unlock()
		return false
	}
	h.live = false
	h.err = cause
	h.mu.Unlock()
	h.cancel()

	v := e.view(h.conversationID)
	v.mu.Lock()
	delete(v.handles, h)
	v.mu.Unlock()
	metrics.DecSubscriptions()
	return true
}

func (e *Engine) checkMember(ctx context.Context, conversationID string) error {
	c, err := e.feed.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if !c.HasParticipant(e.viewer) {
		return fmt.Errorf("realtime: %w: %s left the conversation", model.ErrNotFound, e.viewer)
	}
	return nil
}

func (e *Engine) run(ctx context.Context, h *Handle, v *view) {
	defer close(h.done)

	v.mu.Lock()
	hasLocal := len(v.authoritative) > 0 || len(v.placeholders) > 0 || len(v.settled) > 0
	v.mu.Unlock()
	if hasLocal {
		e.publishTo(v, h)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.ResubscribeBase
	b.MaxInterval = e.cfg.ResubscribeMax
	b.MaxElapsedTime = 0
	b.Reset()

	for {
		wctx, stop := context.WithCancel(ctx)
		var gone error
		err := e.feed.WatchMessages(wctx, h.conversationID, e.cfg.Window, func(batch []model.Message) {
			if gone != nil {
				return
			}
			if err := e.checkMember(wctx, h.conversationID); err != nil {
				gone = err
				stop()
				return
			}
			b.Reset()
			e.apply(h.conversationID, v, batch)
		})
		stop()
		if ctx.Err() != nil {
			return
		}
		if gone != nil {
			if !model.IsRetryable(gone) {
				// The received window stays as it is; nothing newer is applied.
				logger.Infof("realtime feed ended conv=%s viewer=%s: %v", h.conversationID, e.viewer, gone)
				e.detach(h, gone)
				return
			}
			err = gone
		}
		wait := b.NextBackOff()
		logger.Warnf("realtime feed conv=%s: %v (reopen in %s)", h.conversationID, err, wait)
		metrics.IncFeedReconnect()
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// apply merges an authoritative batch, notifies subscribers and, when the
// conversation is focused, marks it read in the background.
func (e *Engine) apply(conversationID string, v *view, batch []model.Message) {
	v.mu.Lock()
	v.replaceLocked(batch)
	markRead := v.focused && v.unreadByLocked(e.viewer)
	v.mu.Unlock()
	metrics.IncMerge()

	e.publish(v)
	if markRead {
		e.markReadAsync(conversationID)
	}
}

func (e *Engine) publish(v *view) {
	v.mu.Lock()
	v.version++
	version := v.version
	snap := v.snapshotLocked()
	handles := v.liveHandlesLocked()
	v.mu.Unlock()
	for _, h := range handles {
		h.deliver(version, cloneAll(snap))
	}
}

func (e *Engine) publishTo(v *view, h *Handle) {
	v.mu.Lock()
	v.version++
	version := v.version
	snap := v.snapshotLocked()
	v.mu.Unlock()
	h.deliver(version, cloneAll(snap))
}

func (e *Engine) markReadAsync(conversationID string) {
	if e.marker == nil {
		return
	}
	e.markWG.Add(1)
	go func() {
		defer e.markWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.MarkReadTimeout)
		defer cancel()
		if err := e.marker.MarkMessagesAsRead(ctx, conversationID, e.viewer); err != nil {
			logger.Warnf("realtime mark read conv=%s: %v", conversationID, err)
		}
	}()
}

// SetFocus records whether the user is looking at the conversation. Gaining
// focus marks anything unread as read.
func (e *Engine) SetFocus(conversationID string, focused bool) {
	v := e.view(conversationID)
	v.mu.Lock()
	v.focused = focused
	markRead := focused && v.unreadByLocked(e.viewer)
	v.mu.Unlock()
	if markRead {
		e.markReadAsync(conversationID)
	}
}

// Snapshot returns the current merged view without subscribing.
func (e *Engine) Snapshot(conversationID string) []model.Message {
	v := e.view(conversationID)
	v.mu.Lock()
	defer v.mu.Unlock()
	return cloneAll(v.snapshotLocked())
}

// Restore seeds placeholders for entries already in the outbox, e.g. after
// a restart.
func (e *Engine) Restore(entries []model.QueuedMessage) {
	touched := make(map[*view]struct{})
	for _, q := range entries {
		v := e.view(q.ConversationID)
		v.mu.Lock()
		v.placeholders[q.LocalID] = *q.Clone()
		v.mu.Unlock()
		touched[v] = struct{}{}
	}
	for v := range touched {
		e.publish(v)
	}
}

// Wait blocks until background read receipts have finished.
func (e *Engine) Wait() {
	e.markWG.Wait()
}

func (e *Engine) OnQueued(q model.QueuedMessage) {
	v := e.view(q.ConversationID)
	v.mu.Lock()
	v.placeholders[q.LocalID] = q
	v.mu.Unlock()
	e.publish(v)
}

func (e *Engine) OnStatus(q model.QueuedMessage) {
	v := e.view(q.ConversationID)
	v.mu.Lock()
	v.placeholders[q.LocalID] = q
	v.mu.Unlock()
	e.publish(v)
}

// OnSent settles the placeholder: the authoritative message takes its place
// right away, before the feed delivers it.
func (e *Engine) OnSent(localID string, m model.Message) {
	v := e.view(m.ConversationID)
	v.mu.Lock()
	delete(v.placeholders, localID)
	if m.ID != "" {
		v.settled[m.ID] = m
		for _, a := range v.authoritative {
			if a.ID == m.ID {
				delete(v.settled, m.ID)
				break
			}
		}
	}
	v.mu.Unlock()
	e.publish(v)
}

func (e *Engine) OnDiscarded(conversationID, localID string) {
	v := e.view(conversationID)
	v.mu.Lock()
	delete(v.placeholders, localID)
	v.mu.Unlock()
	e.publish(v)
}

func cloneAll(msgs []model.Message) []model.Message {
	out := make([]model.Message, len(msgs))
	for i := range msgs {
		out[i] = msgs[i].Clone()
	}
	return out
}
