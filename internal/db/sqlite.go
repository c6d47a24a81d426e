package db

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// OpenSQLite opens (creating if needed) a SQLite database and applies the
// schema. The returned handle is shared by the alarm and key/value stores.
func OpenSQLite(ctx context.Context, path string, busyTimeout time.Duration) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite prefers a single writer.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if busyTimeout > 0 {
		_, _ = conn.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds()))
	}
	_, _ = conn.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = conn.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if _, err := conn.ExecContext(ctx, sqliteSchema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return conn, nil
}
