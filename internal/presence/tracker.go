package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/metrics"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/storage"
)

// Tracker debounces online-status writes: only the last value inside the
// window is written, and only when it differs from the last written one.
// Writes for one user never overlap.
type Tracker struct {
	store        storage.PresenceBackend
	debounce     time.Duration
	writeTimeout time.Duration

	mu       sync.Mutex
	pending  map[string]bool
	written  map[string]bool
	timers   map[string]*time.Timer
	inflight map[string]bool
}

func NewTracker(store storage.PresenceBackend, debounce time.Duration) *Tracker {
	if debounce <= 0 {
		debounce = time.Second
	}
	return &Tracker{
		store:        store,
		debounce:     debounce,
		writeTimeout: 5 * time.Second,
		pending:      make(map[string]bool),
		written:      make(map[string]bool),
		timers:       make(map[string]*time.Timer),
		inflight:     make(map[string]bool),
	}
}

func (t *Tracker) UpdateOnlineStatus(userID string, online bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[userID] = online
	if _, ok := t.timers[userID]; ok {
		return
	}
	t.armLocked(userID)
}

func (t *Tracker) armLocked(userID string) {
	t.timers[userID] = time.AfterFunc(t.debounce, func() {
		ctx, cancel := context.WithTimeout(context.Background(), t.writeTimeout)
		defer cancel()
		if err := t.flushUser(ctx, userID); err != nil {
			logger.Warnf("presence write user=%s: %v", userID, err)
		}
	})
}

// flushUser writes the pending value. While another write for the user is
// running it does nothing; that write re-arms the timer when it finishes.
// A failed write puts its value back unless a newer one arrived.
func (t *Tracker) flushUser(ctx context.Context, userID string) error {
	t.mu.Lock()
	delete(t.timers, userID)
	if t.inflight[userID] {
		t.mu.Unlock()
		return nil
	}
	online, ok := t.pending[userID]
	delete(t.pending, userID)
	last, seen := t.written[userID]
	if !ok || (seen && last == online) {
		t.mu.Unlock()
		return nil
	}
	t.inflight[userID] = true
	t.mu.Unlock()

	err := t.store.SetOnline(ctx, userID, online)

	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inflight, userID)
	_, newer := t.pending[userID]
	if err != nil {
		if !newer {
			t.pending[userID] = online
		}
	} else {
		t.written[userID] = online
	}
	if _, armed := t.timers[userID]; !armed && (newer || model.IsRetryable(err)) {
		t.armLocked(userID)
	}
	if err != nil {
		return fmt.Errorf("presence.write: %w", err)
	}
	metrics.IncPresenceWrite()
	logger.Debugf("presence user=%s online=%t", userID, online)
	return nil
}

// Flush writes every pending value now. Users with a write already running
// are left to its timer.
func (t *Tracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	users := make([]string, 0, len(t.pending))
	for u := range t.pending {
		if timer, ok := t.timers[u]; ok {
			timer.Stop()
		}
		users = append(users, u)
	}
	t.mu.Unlock()
	var firstErr error
	for _, u := range users {
		if err := t.flushUser(ctx, u); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *Tracker) IsOnline(ctx context.Context, userID string) (bool, error) {
	p, err := t.store.GetPresence(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("presence.IsOnline: %w", err)
	}
	return p.Online, nil
}
