package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// PoolConfig describes how to dial and size the Postgres connection pool.
type PoolConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	PoolSize    int
	MaxIdleTime time.Duration
}

// NewPool dials a pgxpool.Pool using the same connection-string shape as
// the ingestion service's TimescaleDB writer.
func NewPool(ctx context.Context, cfg PoolConfig, logger zerolog.Logger) (*pgxpool.Pool, error) {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 10
	}
	if cfg.MaxIdleTime <= 0 {
		cfg.MaxIdleTime = 5 * time.Minute
	}

	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?pool_max_conns=%d&pool_max_conn_idle_time=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
		cfg.PoolSize, cfg.MaxIdleTime.String(),
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Int("pool_size", cfg.PoolSize).
		Msg("postgres pool initialized")

	return pool, nil
}

// Health wraps a pgxpool.Pool to satisfy internal/health's Pinger
// interface.
type Health struct {
	Pool *pgxpool.Pool
}

// IsHealthy pings the pool within the caller's deadline.
func (h Health) IsHealthy(ctx context.Context) bool {
	return h.Pool.Ping(ctx) == nil
}
