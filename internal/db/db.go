// Package db provides a pgxpool-based connection pool with prepared statement
// registration and schema bootstrap, plus the SQLite opener used by the
// embedded drivers.
package db

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cnutodo/pushsched/internal/config"
)

//go:embed schema_postgres.sql
var postgresSchema string

// Pool wraps pgxpool.Pool with application-specific helpers.
type Pool struct {
	*pgxpool.Pool
}

// New applies the schema and creates a validated connection pool.
func New(ctx context.Context, cfg *config.Config) (*Pool, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for the postgres driver")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.DBPoolMinConns)
	poolCfg.MaxConns = int32(cfg.DBPoolMaxConns)
	poolCfg.MaxConnLifetime = cfg.DBPoolMaxLife
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	// Tables must exist before statements can be prepared against them.
	if err := migrate(ctx, poolCfg.ConnConfig); err != nil {
		return nil, err
	}

	// Register prepared statements on every new connection.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return registerPreparedStatements(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// HealthCheck runs a trivial query to verify the database is reachable.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var n int
	return p.QueryRow(ctx, "health_check").Scan(&n)
}

func migrate(ctx context.Context, connCfg *pgx.ConnConfig) error {
	conn, err := pgx.ConnectConfig(ctx, connCfg)
	if err != nil {
		return fmt.Errorf("connect for migration: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// registerPreparedStatements registers all statements the stores use.
// Prepared statements eliminate parse overhead on every request.
func registerPreparedStatements(ctx context.Context, conn *pgx.Conn) error {
	stmts := map[string]string{
		// Health
		"health_check": "SELECT 1",

		// Alarm store
		"alarm_save": `INSERT INTO push_alarms (subscriber, block_start, scheduled_time, day, message)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (subscriber, block_start, scheduled_time) DO UPDATE SET message = excluded.message`,
		"alarm_load":            "SELECT message FROM push_alarms WHERE subscriber = $1 AND block_start = $2 AND scheduled_time = $3",
		"alarm_delete":          "DELETE FROM push_alarms WHERE subscriber = $1 AND block_start = $2 AND scheduled_time = $3",
		"alarm_find_subscriber": "SELECT block_start, scheduled_time FROM push_alarms WHERE subscriber = $1 ORDER BY scheduled_time",
		"alarm_find_block":      "SELECT block_start, scheduled_time FROM push_alarms WHERE subscriber = $1 AND block_start = $2 ORDER BY scheduled_time",
		"alarm_purge": `WITH gone AS (DELETE FROM push_alarms WHERE day <= $1 RETURNING day)
			SELECT count(DISTINCT day) FROM gone`,

		// Key/value collections
		"kv_get": "SELECT value FROM kv WHERE key = $1",
		"kv_set": `INSERT INTO kv (key, value, updated_at) VALUES ($1, $2, NOW())
			ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = NOW()`,
		"kv_delete": "DELETE FROM kv WHERE key = $1",
	}

	for name, sql := range stmts {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}
