package config

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPostgresPool opens the pgx pool backing the authorisation record store.
// Side effects: establishes network connections and pings the database.
func (c *Config) NewPostgresPool(ctx context.Context) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(c.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}

	poolConfig.MaxConns = int32(c.DBMaxConns)
	poolConfig.MinConns = int32(c.DBMinConns)
	poolConfig.MaxConnLifetime = time.Duration(c.DBMaxConnLifetime) * time.Minute
	poolConfig.MaxConnIdleTime = time.Duration(c.DBMaxConnIdleTime) * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}
