// Package outbox is the durable offline queue: messages are persisted locally
// on enqueue and promoted to the backend when connectivity allows, in FIFO
// order per conversation.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chatsync/internal/connectivity"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/metrics"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/storage"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Sender promotes a queued message. clientID lets the backend drop repeats.
type Sender interface {
	SendMessage(ctx context.Context, conversationID, senderID, content string, attachments []model.Attachment, clientID string) (model.Message, error)
}

// Listener is told about every queue transition so local views can show
// placeholders. Calls happen on the draining goroutine and must not block
// on the queue.
type Listener interface {
	OnQueued(q model.QueuedMessage)
	OnStatus(q model.QueuedMessage)
	OnSent(localID string, m model.Message)
	OnDiscarded(conversationID, localID string)
}

type Config struct {
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	MaxAttempts   int
	DrainInterval time.Duration
	// Parallel caps how many conversations drain at once.
	Parallel int
}

func (c Config) withDefaults() Config {
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 8
	}
	if c.DrainInterval <= 0 {
		c.DrainInterval = 30 * time.Second
	}
	if c.Parallel <= 0 {
		c.Parallel = 4
	}
	return c
}

type Queue struct {
	store  storage.OutboxStore
	sender Sender
	signal connectivity.Signal
	cfg    Config
	now    func() time.Time

	mu        sync.Mutex
	convLocks map[string]*sync.Mutex
	listeners []Listener
	kick      chan struct{}
}

func New(store storage.OutboxStore, sender Sender, signal connectivity.Signal, cfg Config) *Queue {
	return &Queue{
		store:     store,
		sender:    sender,
		signal:    signal,
		cfg:       cfg.withDefaults(),
		now:       time.Now,
		convLocks: make(map[string]*sync.Mutex),
		kick:      make(chan struct{}, 1),
	}
}

func (q *Queue) AddListener(l Listener) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.listeners = append(q.listeners, l)
}

func (q *Queue) snapshotListeners() []Listener {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Listener(nil), q.listeners...)
}

func (q *Queue) convLock(conversationID string) *sync.Mutex {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.convLocks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		q.convLocks[conversationID] = l
	}
	return l
}

// Backoff is base * 2^attempts, capped at max.
func Backoff(base, max time.Duration, attempts int) time.Duration {
	d := base
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	return min(d, max)
}

// Enqueue persists a new outgoing message and returns its local id. It never
// touches the network; the drain loop is nudged to pick the entry up.
func (q *Queue) Enqueue(ctx context.Context, conversationID, senderID, content string, attachments []model.Attachment) (string, error) {
	defer logger.DeferLogDuration("outbox.Enqueue", time.Now())()
	probe := model.Message{ConversationID: conversationID, SenderID: senderID, Content: content, Attachments: attachments}
	if err := probe.Validate(); err != nil {
		return "", fmt.Errorf("outbox.Enqueue: %w", err)
	}
	seq, err := q.store.NextSeq()
	if err != nil {
		return "", fmt.Errorf("outbox.Enqueue seq: %w", err)
	}
	entry := &model.QueuedMessage{
		LocalID:        uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Attachments:    attachments,
		CreatedAt:      q.now().UTC(),
		Status:         model.StatusQueued,
		Seq:            seq,
	}
	if err := q.store.Put(entry); err != nil {
		return "", fmt.Errorf("outbox.Enqueue: %w", err)
	}
	logger.Debugf("outbox enqueued conv=%s local_id=%s", conversationID, entry.LocalID)
	for _, l := range q.snapshotListeners() {
		l.OnQueued(*entry.Clone())
	}
	q.reportDepth()
	q.Kick()
	return entry.LocalID, nil
}

// Kick asks Run for a drain pass without waiting for it.
func (q *Queue) Kick() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

// Pending lists a conversation's entries in FIFO order; empty id lists all.
func (q *Queue) Pending(conversationID string) ([]model.QueuedMessage, error) {
	list, err := q.store.List(conversationID)
	if err != nil {
		return nil, fmt.Errorf("outbox.Pending: %w", err)
	}
	out := make([]model.QueuedMessage, 0, len(list))
	for _, e := range list {
		out = append(out, *e)
	}
	return out, nil
}

// Drain makes one pass over every conversation with queued entries.
// Conversations drain concurrently; entries within one drain in order.
// Offline, it returns immediately.
func (q *Queue) Drain(ctx context.Context) error {
	if !q.signal.Online() {
		return nil
	}
	start := time.Now()
	defer metrics.ObserveDrain(start)

	all, err := q.store.List("")
	if err != nil {
		return fmt.Errorf("outbox.Drain: %w", err)
	}
	seen := make(map[string]struct{}, len(all))
	convs := make([]string, 0, len(all))
	for _, e := range all {
		if _, ok := seen[e.ConversationID]; ok {
			continue
		}
		seen[e.ConversationID] = struct{}{}
		convs = append(convs, e.ConversationID)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(q.cfg.Parallel)
	for _, convID := range convs {
		g.Go(func() error {
			return q.drainConversation(gctx, convID)
		})
	}
	err = g.Wait()
	q.reportDepth()
	return err
}

// drainConversation sends ready entries in FIFO order and stops at the first
// entry that must wait, so later messages never overtake earlier ones.
func (q *Queue) drainConversation(ctx context.Context, conversationID string) error {
	lock := q.convLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	entries, err := q.store.List(conversationID)
	if err != nil {
		return fmt.Errorf("outbox.drain conv=%s: %w", conversationID, err)
	}
	for _, e := range entries {
		if e.Status == model.StatusFailed {
			continue
		}
		if !e.Ready(q.now()) || !q.signal.Online() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		stop, err := q.attempt(ctx, e)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
	return nil
}

// attempt sends one entry and records the outcome. stop reports that the
// conversation must not advance past this entry in this pass.
func (q *Queue) attempt(ctx context.Context, e *model.QueuedMessage) (stop bool, err error) {
	e.Status = model.StatusSending
	if err := q.store.Put(e); err != nil {
		return true, fmt.Errorf("outbox.attempt mark sending: %w", err)
	}
	q.emitStatus(e)

	msg, sendErr := q.sender.SendMessage(ctx, e.ConversationID, e.SenderID, e.Content, e.Attachments, e.LocalID)
	if sendErr == nil {
		if err := q.store.Delete(e.LocalID); err != nil {
			return true, fmt.Errorf("outbox.attempt delete: %w", err)
		}
		metrics.IncSendAttempt(metrics.OutcomeSent)
		logger.Debugf("outbox sent conv=%s local_id=%s msg=%s", e.ConversationID, e.LocalID, msg.ID)
		for _, l := range q.snapshotListeners() {
			l.OnSent(e.LocalID, msg)
		}
		return false, nil
	}

	if ctx.Err() != nil && errors.Is(sendErr, ctx.Err()) {
		// Shutdown mid-send is not a failed attempt.
		e.Status = model.StatusQueued
		if err := q.store.Put(e); err != nil {
			return true, fmt.Errorf("outbox.attempt requeue: %w", err)
		}
		q.emitStatus(e)
		return true, ctx.Err()
	}

	now := q.now().UTC()
	e.Attempts++
	e.LastAttemptAt = now
	e.LastError = sendErr.Error()

	if !model.IsRetryable(sendErr) {
		e.Status = model.StatusFailed
		metrics.IncSendAttempt(metrics.OutcomeFailed)
		logger.Warnf("outbox send rejected conv=%s local_id=%s: %v", e.ConversationID, e.LocalID, sendErr)
		if err := q.store.Put(e); err != nil {
			return true, fmt.Errorf("outbox.attempt mark failed: %w", err)
		}
		q.emitStatus(e)
		return false, nil
	}

	if e.Attempts >= q.cfg.MaxAttempts {
		e.Status = model.StatusFailed
		e.LastError = fmt.Errorf("%w: %v", model.ErrFatal, sendErr).Error()
		metrics.IncSendAttempt(metrics.OutcomeFailed)
		logger.Warnf("outbox gave up conv=%s local_id=%s attempts=%d: %v", e.ConversationID, e.LocalID, e.Attempts, sendErr)
	} else {
		e.Status = model.StatusQueued
		e.NextAttemptAt = now.Add(Backoff(q.cfg.BaseBackoff, q.cfg.MaxBackoff, e.Attempts))
		metrics.IncSendAttempt(metrics.OutcomeRetry)
		logger.Debugf("outbox retry scheduled conv=%s local_id=%s attempts=%d next=%s", e.ConversationID, e.LocalID, e.Attempts, e.NextAttemptAt.Format(time.RFC3339))
	}
	if err := q.store.Put(e); err != nil {
		return true, fmt.Errorf("outbox.attempt record failure: %w", err)
	}
	q.emitStatus(e)
	return true, nil
}

func (q *Queue) emitStatus(e *model.QueuedMessage) {
	for _, l := range q.snapshotListeners() {
		l.OnStatus(*e.Clone())
	}
}

// Retry is the user's manual retry: the entry starts over with zero attempts
// and its conversation drains right away when online.
func (q *Queue) Retry(ctx context.Context, localID string) error {
	e, err := q.store.Get(localID)
	if err != nil {
		return fmt.Errorf("outbox.Retry: %w", err)
	}
	lock := q.convLock(e.ConversationID)
	lock.Lock()
	e, err = q.store.Get(localID)
	if err != nil {
		lock.Unlock()
		return fmt.Errorf("outbox.Retry: %w", err)
	}
	e.Attempts = 0
	e.Status = model.StatusQueued
	e.NextAttemptAt = time.Time{}
	e.LastError = ""
	err = q.store.Put(e)
	lock.Unlock()
	if err != nil {
		return fmt.Errorf("outbox.Retry: %w", err)
	}
	q.emitStatus(e)
	if !q.signal.Online() {
		return nil
	}
	if err := q.drainConversation(ctx, e.ConversationID); err != nil {
		return fmt.Errorf("outbox.Retry: %w", err)
	}
	q.reportDepth()
	return nil
}

// Discard drops an entry in any status. An in-flight send finishes first.
func (q *Queue) Discard(ctx context.Context, localID string) error {
	e, err := q.store.Get(localID)
	if err != nil {
		return fmt.Errorf("outbox.Discard: %w", err)
	}
	lock := q.convLock(e.ConversationID)
	lock.Lock()
	if _, err := q.store.Get(localID); err != nil {
		lock.Unlock()
		return fmt.Errorf("outbox.Discard: %w", err)
	}
	err = q.store.Delete(localID)
	lock.Unlock()
	if err != nil {
		return fmt.Errorf("outbox.Discard: %w", err)
	}
	logger.Infof("outbox discarded conv=%s local_id=%s", e.ConversationID, localID)
	for _, l := range q.snapshotListeners() {
		l.OnDiscarded(e.ConversationID, localID)
	}
	q.reportDepth()
	return nil
}

func (q *Queue) reportDepth() {
	all, err := q.store.List("")
	if err != nil {
		return
	}
	metrics.SetOutboxDepth(len(all))
}
