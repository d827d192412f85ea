package postgres

import (
	"context"
	"slices"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
)

// WatchMessages holds a dedicated connection LISTENing on the change channel
// and re-reads the window whenever the conversation is named in a payload.
func (s *Store) WatchMessages(ctx context.Context, conversationID string, window int, emit func([]model.Message)) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return classify("pgStore.WatchMessages acquire", err)
	}
	defer func() {
		// The connection goes back to the pool; it must not keep listening.
		if _, err := conn.Exec(context.Background(), "UNLISTEN *"); err != nil {
			logger.Debugf("pgStore.WatchMessages unlisten conv=%s: %v", conversationID, err)
		}
		conn.Release()
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return classify("pgStore.WatchMessages listen", err)
	}

	emitWindow := func() error {
		msgs, err := s.listMessages(ctx, s.pool, conversationID, window, nil)
		if err != nil {
			return err
		}
		slices.Reverse(msgs)
		emit(msgs)
		return nil
	}
	if err := emitWindow(); err != nil {
		return err
	}

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return classify("pgStore.WatchMessages wait", err)
		}
		if n.Payload != conversationID {
			continue
		}
		if err := emitWindow(); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}
