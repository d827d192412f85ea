package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/chatsync/internal/logger"
	"github.com/jackc/pgx/v5/pgxpool"
)

func retryPolicy(ctx context.Context, maxWait time.Duration) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = maxWait
	return backoff.WithContext(b, ctx)
}

// ConnectDBWithRetry opens and pings a pool, retrying with exponential
// backoff for up to maxWait.
func ConnectDBWithRetry(ctx context.Context, poolCfg *pgxpool.Config, maxWait time.Duration) (*pgxpool.Pool, error) {
	var pool *pgxpool.Pool
	op := func() error {
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		p, err := pgxpool.NewWithConfig(cctx, poolCfg)
		if err != nil {
			return err
		}
		if err := p.Ping(cctx); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logger.Errorf("db connect failed, retry in %v: %v", wait, err)
	}
	if err := backoff.RetryNotify(op, retryPolicy(ctx, maxWait), notify); err != nil {
		return nil, fmt.Errorf("startup.ConnectDB (gave up after %v): %w", maxWait, err)
	}
	return pool, nil
}
