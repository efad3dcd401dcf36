package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ruxailab/accessiblity-testing-backend/internal/config"
	"github.com/ruxailab/accessiblity-testing-backend/internal/store"
)

// InitializeStore connects to the report database or falls back to an
// in-memory repository when no URL is configured. The returned cleanup is
// nil for the in-memory store.
func InitializeStore(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (store.Repository, func(), error) {
	if cfg.URL == "" {
		logger.Warn("No database configured; reports are kept in memory and lost on exit.")
		return store.NewMemory(), nil, nil
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to parse PGX pool config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to create PGX connection pool: %w", err)
	}

	dbStore, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := dbStore.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	logger.Info("PostgreSQL report store initialized.", zap.String("host", poolConfig.ConnConfig.Host))
	cleanup := func() {
		logger.Info("Closing PostgreSQL connection pool.")
		pool.Close()
	}
	return dbStore, cleanup, nil
}
