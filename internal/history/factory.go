// internal/history/factory.go
package history

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bitesense/internal/config"
)

// NewStore builds the configured history backend.
func NewStore(ctx context.Context, cfg config.HistoryConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(logger), nil
	case "redis":
		return NewRedisStore(ctx, cfg.Redis, logger)
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create database pool: %w", err)
		}
		store, err := NewPostgresStore(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return store, nil
	case "sqlite":
		return OpenSQLite(cfg.SQLite.Path, logger)
	default:
		return nil, fmt.Errorf("unsupported history backend: %q", cfg.Backend)
	}
}
