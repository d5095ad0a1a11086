package postgres

import (
	"context"
	"fmt"

	"github.com/ilindan-dev/notifyforge/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool creates and verifies a pgxpool.Pool against the configured master DSN.
func NewPool(cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Postgres.MasterDSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to parse DSN: %w", err)
	}

	if cfg.Postgres.Pool.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.Postgres.Pool.MaxOpenConns)
	}
	if cfg.Postgres.Pool.MaxIdleConns > 0 {
		poolCfg.MinConns = int32(cfg.Postgres.Pool.MaxIdleConns)
	}
	if cfg.Postgres.Pool.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.Postgres.Pool.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to create pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: failed to ping: %w", err)
	}

	return pool, nil
}
