package postgres

import (
	"context"
	"fmt"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/migrations"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate applies the embedded schema files in order. Every file is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	names, err := migrations.Names()
	if err != nil {
		return fmt.Errorf("migrate list: %w", err)
	}
	for _, name := range names {
		data, err := migrations.Files.ReadFile(name)
		if err != nil {
			return fmt.Errorf("migrate read %s: %w", name, err)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("migrate run %s: %w", name, err)
		}
		logger.Debugf("migration applied: %s", name)
	}
	logger.Infof("migrations applied: %d", len(names))
	return nil
}
