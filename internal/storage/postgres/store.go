// Package postgres is the shared document store: conversations, messages,
// reactions and presence in Postgres, change feeds over LISTEN/NOTIFY.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/chatsync/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// notifyChannel carries the id of every conversation whose messages changed.
const notifyChannel = "chatsync_messages"

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close is a no-op: the pool belongs to the caller.
func (s *Store) Close() error { return nil }

// querier is satisfied by *pgxpool.Pool, *pgxpool.Conn and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// classify wraps a driver error as op: err and maps it onto the model taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, model.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%s: %w", op, model.ErrAlreadyExists)
		case "40001", "40P01", "57P01", "53300":
			return fmt.Errorf("%s: %w", op, model.Transient(err))
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	var connErr *pgconn.ConnectError
	var netErr net.Error
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) ||
		errors.As(err, &connErr) || errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, model.Transient(err))
	}
	return fmt.Errorf("%s: %w", op, err)
}

func notify(ctx context.Context, q querier, conversationID string) error {
	_, err := q.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, conversationID)
	return err
}
