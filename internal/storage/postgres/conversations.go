package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/jackc/pgx/v5"
)

const selectConversation = `SELECT id, participants, is_group_chat, group_name, group_admin_id, unread_count,
        last_content, last_sender_id, last_message_at, created_at, updated_at
 FROM conversations`

func scanConversation(row pgx.Row) (*model.Conversation, error) {
	c := &model.Conversation{}
	var (
		lastContent, lastSender *string
		lastAt                  *time.Time
	)
	err := row.Scan(&c.ID, &c.Participants, &c.IsGroupChat, &c.GroupName, &c.GroupAdminID, &c.UnreadCount,
		&lastContent, &lastSender, &lastAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastAt != nil {
		c.LastMessage = &model.LastMessage{Timestamp: *lastAt}
		if lastContent != nil {
			c.LastMessage.Content = *lastContent
		}
		if lastSender != nil {
			c.LastMessage.SenderID = *lastSender
		}
	}
	if c.UnreadCount == nil {
		c.UnreadCount = make(map[string]int)
	}
	return c, nil
}

func (s *Store) CreateConversation(ctx context.Context, c *model.Conversation) error {
	defer logger.DeferLogDuration("conv.Create", time.Now())()
	unread := c.UnreadCount
	if unread == nil {
		unread = map[string]int{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (id, participants, is_group_chat, group_name, group_admin_id, unread_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.Participants, c.IsGroupChat, c.GroupName, c.GroupAdminID, unread, c.CreatedAt, c.UpdatedAt,
	)
	return classify("pgStore.CreateConversation", err)
}

func (s *Store) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conv.Get", time.Now())()
	c, err := scanConversation(s.pool.QueryRow(ctx, selectConversation+` WHERE id = $1`, id))
	if err != nil {
		return nil, classify("pgStore.GetConversation", err)
	}
	return c, nil
}

func (s *Store) FindDirect(ctx context.Context, a, b string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conv.FindDirect", time.Now())()
	c, err := scanConversation(s.pool.QueryRow(ctx,
		selectConversation+` WHERE is_group_chat = false AND participants @> ARRAY[$1, $2]::text[] LIMIT 1`, a, b))
	if err != nil {
		return nil, classify("pgStore.FindDirect", err)
	}
	return c, nil
}

func (s *Store) ListConversations(ctx context.Context, userID string) ([]*model.Conversation, error) {
	defer logger.DeferLogDuration("conv.List", time.Now())()
	rows, err := s.pool.Query(ctx,
		selectConversation+` WHERE $1 = ANY(participants) ORDER BY updated_at DESC, id`, userID)
	if err != nil {
		return nil, classify("pgStore.ListConversations query", err)
	}
	defer rows.Close()

	out := make([]*model.Conversation, 0, 16)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, classify("pgStore.ListConversations scan", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("pgStore.ListConversations rows", err)
	}
	return out, nil
}

// exists distinguishes "no row changed" from "no such conversation".
func (s *Store) exists(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM conversations WHERE id = $1)`, id).Scan(&ok)
	return ok, err
}

func (s *Store) AddParticipant(ctx context.Context, id, userID string) (bool, error) {
	defer logger.DeferLogDuration("conv.AddParticipant", time.Now())()
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations
		 SET participants = array_append(participants, $2),
		     unread_count = unread_count || jsonb_build_object($2::text, 0),
		     updated_at = now()
		 WHERE id = $1 AND NOT ($2 = ANY(participants))`, id, userID)
	if err != nil {
		return false, classify("pgStore.AddParticipant", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	ok, err := s.exists(ctx, id)
	if err != nil {
		return false, classify("pgStore.AddParticipant exists", err)
	}
	if !ok {
		return false, fmt.Errorf("pgStore.AddParticipant: %w", model.ErrNotFound)
	}
	return false, nil
}

func (s *Store) RemoveParticipant(ctx context.Context, id, userID string) (bool, error) {
	defer logger.DeferLogDuration("conv.RemoveParticipant", time.Now())()
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations
		 SET participants = array_remove(participants, $2),
		     unread_count = unread_count - $2::text,
		     updated_at = now()
		 WHERE id = $1 AND $2 = ANY(participants) AND cardinality(participants) > 1`, id, userID)
	if err != nil {
		return false, classify("pgStore.RemoveParticipant", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	var member bool
	err = s.pool.QueryRow(ctx,
		`SELECT $2 = ANY(participants) FROM conversations WHERE id = $1`, id, userID).Scan(&member)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("pgStore.RemoveParticipant: %w", model.ErrNotFound)
	}
	if err != nil {
		return false, classify("pgStore.RemoveParticipant check", err)
	}
	if member {
		return false, fmt.Errorf("pgStore.RemoveParticipant: %w: last participant", model.ErrInvalidState)
	}
	return false, nil
}

func (s *Store) SetAdmin(ctx context.Context, id, userID string) error {
	defer logger.DeferLogDuration("conv.SetAdmin", time.Now())()
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET group_admin_id = $2, updated_at = now() WHERE id = $1`, id, userID)
	if err != nil {
		return classify("pgStore.SetAdmin", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pgStore.SetAdmin: %w", model.ErrNotFound)
	}
	return nil
}

func (s *Store) RenameGroup(ctx context.Context, id, name string) error {
	defer logger.DeferLogDuration("conv.RenameGroup", time.Now())()
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET group_name = $2, updated_at = now() WHERE id = $1`, id, name)
	if err != nil {
		return classify("pgStore.RenameGroup", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pgStore.RenameGroup: %w", model.ErrNotFound)
	}
	return nil
}

func (s *Store) ResetUnread(ctx context.Context, id, userID string) (bool, error) {
	defer logger.DeferLogDuration("conv.ResetUnread", time.Now())()
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations
		 SET unread_count = jsonb_set(unread_count, ARRAY[$2::text], '0'::jsonb)
		 WHERE id = $1 AND COALESCE((unread_count->>$2::text)::int, 0) <> 0`, id, userID)
	if err != nil {
		return false, classify("pgStore.ResetUnread", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	ok, err := s.exists(ctx, id)
	if err != nil {
		return false, classify("pgStore.ResetUnread exists", err)
	}
	if !ok {
		return false, fmt.Errorf("pgStore.ResetUnread: %w", model.ErrNotFound)
	}
	return false, nil
}
