package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
)

// Recover returns entries left in sending by a crash to queued.
func (q *Queue) Recover() error {
	all, err := q.store.List("")
	if err != nil {
		return fmt.Errorf("outbox.Recover: %w", err)
	}
	for _, e := range all {
		if e.Status != model.StatusSending {
			continue
		}
		e.Status = model.StatusQueued
		if err := q.store.Put(e); err != nil {
			return fmt.Errorf("outbox.Recover: %w", err)
		}
	}
	q.reportDepth()
	return nil
}

// Run drains at start, on every offline to online transition, on Kick, when
// the earliest backed-off entry comes due and on a periodic backstop tick
// until ctx is done.
func (q *Queue) Run(ctx context.Context) error {
	if err := q.Recover(); err != nil {
		return err
	}
	transitions, cancel := q.signal.Subscribe()
	defer cancel()
	ticker := time.NewTicker(q.cfg.DrainInterval)
	defer ticker.Stop()
	retry := time.NewTimer(q.cfg.DrainInterval)
	defer retry.Stop()

	pass := func(reason string) {
		q.drainLogged(ctx, reason)
		if d, ok := q.nextRetry(); ok {
			retry.Reset(d)
		} else {
			retry.Stop()
		}
	}

	pass("start")
	for {
		select {
		case <-ctx.Done():
			return nil
		case online := <-transitions:
			if online {
				pass("online")
			}
		case <-q.kick:
			pass("kick")
		case <-retry.C:
			pass("retry")
		case <-ticker.C:
			pass("tick")
		}
	}
}

// nextRetry is how long until the earliest queued entry's backoff ends.
// False when nothing is waiting on a backoff or the queue is offline; the
// online transition drains then.
func (q *Queue) nextRetry() (time.Duration, bool) {
	if !q.signal.Online() {
		return 0, false
	}
	all, err := q.store.List("")
	if err != nil {
		logger.Warnf("outbox next retry: %v", err)
		return 0, false
	}
	now := q.now()
	var soonest time.Time
	for _, e := range all {
		if e.Status != model.StatusQueued || !e.NextAttemptAt.After(now) {
			continue
		}
		if soonest.IsZero() || e.NextAttemptAt.Before(soonest) {
			soonest = e.NextAttemptAt
		}
	}
	if soonest.IsZero() {
		return 0, false
	}
	return soonest.Sub(now), true
}

func (q *Queue) drainLogged(ctx context.Context, reason string) {
	if err := q.Drain(ctx); err != nil && ctx.Err() == nil {
		logger.Warnf("outbox drain (%s): %v", reason, err)
	}
}
