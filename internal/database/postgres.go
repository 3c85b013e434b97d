package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultMaxConns        = 25
	defaultMinConns        = 2
	defaultApplicationName = "chatflow-access-api"

	pingAttempts = 3
	pingTimeout  = 5 * time.Second
	firstBackoff = time.Second
)

// PoolOptions tunes the connection pool. Zero values fall back to defaults.
type PoolOptions struct {
	MaxConns int32
	MinConns int32

	// ApplicationName shows up in pg_stat_activity, so one-off CLI runs
	// can be told apart from the server.
	ApplicationName string

	// SimpleProtocol disables the prepared statement cache, required behind
	// transaction-mode poolers such as PgBouncer.
	SimpleProtocol bool
}

func poolConfig(databaseURL string, opts PoolOptions) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	cfg.MaxConns = defaultMaxConns
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	cfg.MinConns = min(int32(defaultMinConns), cfg.MaxConns)
	if opts.MinConns > 0 {
		cfg.MinConns = min(opts.MinConns, cfg.MaxConns)
	}
	cfg.HealthCheckPeriod = time.Minute
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute

	name := opts.ApplicationName
	if name == "" {
		name = defaultApplicationName
	}
	if _, set := cfg.ConnConfig.RuntimeParams["application_name"]; !set {
		cfg.ConnConfig.RuntimeParams["application_name"] = name
	}

	if opts.SimpleProtocol {
		cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}
	return cfg, nil
}

// NewPool connects to Postgres, retrying the initial ping with
// exponential backoff.
func NewPool(ctx context.Context, databaseURL string, opts PoolOptions) (*pgxpool.Pool, error) {
	cfg, err := poolConfig(databaseURL, opts)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pingWithBackoff(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func pingWithBackoff(ctx context.Context, pool *pgxpool.Pool) error {
	delay := firstBackoff
	var err error

	for attempt := 1; attempt <= pingAttempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err = pool.Ping(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		if attempt == pingAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return fmt.Errorf("failed to ping database after %d attempts: %w", pingAttempts, err)
}
