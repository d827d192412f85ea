package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/jackc/pgx/v5"
)

func (s *Store) SetOnline(ctx context.Context, userID string, online bool) error {
	defer logger.DeferLogDuration("presence.SetOnline", time.Now())()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_presence (user_id, online, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (user_id) DO UPDATE SET online = EXCLUDED.online, updated_at = EXCLUDED.updated_at`,
		userID, online)
	return classify("pgStore.SetOnline", err)
}

func (s *Store) GetPresence(ctx context.Context, userID string) (model.Presence, error) {
	defer logger.DeferLogDuration("presence.Get", time.Now())()
	p := model.Presence{UserID: userID}
	err := s.pool.QueryRow(ctx,
		`SELECT online, updated_at FROM user_presence WHERE user_id = $1`, userID,
	).Scan(&p.Online, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, nil
	}
	if err != nil {
		return p, classify("pgStore.GetPresence", err)
	}
	return p, nil
}
