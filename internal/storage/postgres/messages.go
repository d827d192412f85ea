package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const selectMessage = `SELECT id, conversation_id, sender_id, client_id, kind, content, attachments, read_by, created_at
 FROM messages`

func scanMessage(row pgx.Row) (model.Message, error) {
	var m model.Message
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.ClientID, &m.Kind, &m.Content,
		&m.Attachments, &m.ReadBy, &m.Timestamp)
	m.Status = model.StatusSent
	return m, err
}

func collectMessages(rows pgx.Rows) ([]model.Message, error) {
	defer rows.Close()
	out := make([]model.Message, 0, 32)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// attachReactions loads the reaction sets of msgs in one query.
func attachReactions(ctx context.Context, q querier, msgs []model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]string, len(msgs))
	index := make(map[string]int, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
		index[m.ID] = i
	}
	rows, err := q.Query(ctx,
		`SELECT message_id, user_id, emoji, created_at
		 FROM message_reactions
		 WHERE message_id = ANY($1)
		 ORDER BY created_at`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			msgID string
			r     model.Reaction
		)
		if err := rows.Scan(&msgID, &r.UserID, &r.Emoji, &r.Timestamp); err != nil {
			return err
		}
		i := index[msgID]
		msgs[i].Reactions = append(msgs[i].Reactions, r)
	}
	return rows.Err()
}

func (s *Store) AppendMessage(ctx context.Context, m *model.Message) (model.Message, bool, error) {
	defer logger.DeferLogDuration("msg.Append", time.Now())()
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return model.Message{}, false, classify("pgStore.AppendMessage begin", err)
	}
	defer tx.Rollback(ctx)

	// Row lock serializes appends per conversation; the clock and dedup check rely on it.
	var participants []string
	err = tx.QueryRow(ctx, `SELECT participants FROM conversations WHERE id = $1 FOR UPDATE`, m.ConversationID).Scan(&participants)
	if err != nil {
		return model.Message{}, false, classify("pgStore.AppendMessage lock", err)
	}
	if m.Kind != model.KindSystem && !slices.Contains(participants, m.SenderID) {
		return model.Message{}, false, fmt.Errorf("pgStore.AppendMessage: %w", model.ErrPermissionDenied)
	}

	if m.ClientID != "" {
		existing, err := scanMessage(tx.QueryRow(ctx,
			selectMessage+` WHERE conversation_id = $1 AND client_id = $2`, m.ConversationID, m.ClientID))
		switch {
		case err == nil:
			msgs := []model.Message{existing}
			if err := attachReactions(ctx, tx, msgs); err != nil {
				return model.Message{}, false, classify("pgStore.AppendMessage reactions", err)
			}
			return msgs[0], false, nil
		case !errors.Is(err, pgx.ErrNoRows):
			return model.Message{}, false, classify("pgStore.AppendMessage dedup", err)
		}
	}

	var ts time.Time
	err = tx.QueryRow(ctx,
		`UPDATE conversations c
		 SET clock_at        = GREATEST(t.now, c.clock_at + interval '1 microsecond'),
		     last_message_at = GREATEST(t.now, c.clock_at + interval '1 microsecond'),
		     updated_at      = GREATEST(t.now, c.clock_at + interval '1 microsecond'),
		     last_content    = $2,
		     last_sender_id  = $3,
		     unread_count    = (
		         SELECT COALESCE(jsonb_object_agg(p,
		             COALESCE((c.unread_count->>p)::int, 0) + CASE WHEN p = $3 THEN 0 ELSE 1 END), '{}'::jsonb)
		         FROM unnest(c.participants) AS p)
		 FROM (SELECT clock_timestamp() AS now) t
		 WHERE c.id = $1
		 RETURNING c.clock_at`,
		m.ConversationID, m.Content, m.SenderID,
	).Scan(&ts)
	if err != nil {
		return model.Message{}, false, classify("pgStore.AppendMessage clock", err)
	}

	stored := m.Clone()
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.Kind == "" {
		stored.Kind = model.KindUser
	}
	if stored.Attachments == nil {
		stored.Attachments = []model.Attachment{}
	}
	if stored.Kind == model.KindUser && !slices.Contains(stored.ReadBy, stored.SenderID) {
		stored.ReadBy = append(stored.ReadBy, stored.SenderID)
	}
	if stored.ReadBy == nil {
		stored.ReadBy = []string{}
	}
	stored.Timestamp = ts
	stored.Status = model.StatusSent
	stored.Reactions = nil

	_, err = tx.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, client_id, kind, content, attachments, read_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		stored.ID, stored.ConversationID, stored.SenderID, stored.ClientID, stored.Kind, stored.Content,
		stored.Attachments, stored.ReadBy, stored.Timestamp,
	)
	if err != nil {
		return model.Message{}, false, classify("pgStore.AppendMessage insert", err)
	}
	if err := notify(ctx, tx, stored.ConversationID); err != nil {
		return model.Message{}, false, classify("pgStore.AppendMessage notify", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Message{}, false, classify("pgStore.AppendMessage commit", err)
	}
	return stored, true, nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (model.Message, error) {
	defer logger.DeferLogDuration("msg.Get", time.Now())()
	m, err := scanMessage(s.pool.QueryRow(ctx, selectMessage+` WHERE id = $1`, id))
	if err != nil {
		return model.Message{}, classify("pgStore.GetMessage", err)
	}
	msgs := []model.Message{m}
	if err := attachReactions(ctx, s.pool, msgs); err != nil {
		return model.Message{}, classify("pgStore.GetMessage reactions", err)
	}
	return msgs[0], nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string, limit int, before *model.Cursor) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.List", time.Now())()
	return s.listMessages(ctx, s.pool, conversationID, limit, before)
}

func (s *Store) listMessages(ctx context.Context, q querier, conversationID string, limit int, before *model.Cursor) ([]model.Message, error) {
	var (
		beforeAt *time.Time
		beforeID string
	)
	if before != nil {
		beforeAt, beforeID = &before.Timestamp, before.ID
	}
	rows, err := q.Query(ctx,
		selectMessage+`
		 WHERE conversation_id = $1
		   AND ($2::timestamptz IS NULL OR (created_at, id) < ($2::timestamptz, $3::text))
		 ORDER BY created_at DESC, id DESC
		 LIMIT $4`, conversationID, beforeAt, beforeID, limit)
	if err != nil {
		return nil, classify("pgStore.ListMessages query", err)
	}
	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, classify("pgStore.ListMessages scan", err)
	}
	if err := attachReactions(ctx, q, msgs); err != nil {
		return nil, classify("pgStore.ListMessages reactions", err)
	}
	return msgs, nil
}

func (s *Store) MarkRead(ctx context.Context, conversationID, userID string) (int, error) {
	defer logger.DeferLogDuration("msg.MarkRead", time.Now())()
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET read_by = array_append(read_by, $2)
		 WHERE conversation_id = $1 AND NOT ($2 = ANY(read_by))`, conversationID, userID)
	if err != nil {
		return 0, classify("pgStore.MarkRead", err)
	}
	n := int(tag.RowsAffected())
	if n > 0 {
		if err := notify(ctx, s.pool, conversationID); err != nil {
			return n, classify("pgStore.MarkRead notify", err)
		}
	}
	return n, nil
}

func (s *Store) conversationOf(ctx context.Context, messageID string) (string, error) {
	var convID string
	err := s.pool.QueryRow(ctx, `SELECT conversation_id FROM messages WHERE id = $1`, messageID).Scan(&convID)
	return convID, err
}

func (s *Store) AddReaction(ctx context.Context, messageID string, r model.Reaction) (bool, error) {
	defer logger.DeferLogDuration("reaction.Add", time.Now())()
	convID, err := s.conversationOf(ctx, messageID)
	if err != nil {
		return false, classify("pgStore.AddReaction", err)
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO message_reactions (message_id, user_id, emoji)
		 VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		messageID, r.UserID, r.Emoji,
	)
	if err != nil {
		return false, classify("pgStore.AddReaction", err)
	}
	added := tag.RowsAffected() == 1
	if added {
		if err := notify(ctx, s.pool, convID); err != nil {
			return added, classify("pgStore.AddReaction notify", err)
		}
	}
	return added, nil
}

func (s *Store) RemoveReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	defer logger.DeferLogDuration("reaction.Remove", time.Now())()
	convID, err := s.conversationOf(ctx, messageID)
	if err != nil {
		return false, classify("pgStore.RemoveReaction", err)
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM message_reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3`,
		messageID, userID, emoji,
	)
	if err != nil {
		return false, classify("pgStore.RemoveReaction", err)
	}
	removed := tag.RowsAffected() == 1
	if removed {
		if err := notify(ctx, s.pool, convID); err != nil {
			return removed, classify("pgStore.RemoveReaction notify", err)
		}
	}
	return removed, nil
}
