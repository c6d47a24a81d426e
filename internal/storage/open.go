// Package storage opens the alarm store and the subscription key/value store
// for the configured drivers, sharing database connections between them.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/cnutodo/pushsched/internal/alarmstore"
	"github.com/cnutodo/pushsched/internal/config"
	"github.com/cnutodo/pushsched/internal/db"
	"github.com/cnutodo/pushsched/internal/kvstore"
)

// Stores bundles the opened backends. Close releases every shared handle.
type Stores struct {
	Alarms alarmstore.Store
	KV     kvstore.Store

	pool    *db.Pool
	sqlite  *sql.DB
	closers []func() error
}

// Open initializes the stores selected by cfg.StorageDriver and
// cfg.RegistryDriver. fsys backs the file drivers; nil means the OS
// filesystem.
func Open(ctx context.Context, cfg *config.Config, fsys afero.Fs, logger *slog.Logger) (*Stores, error) {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	s := &Stores{}

	if cfg.NeedsPostgres() {
		pool, err := db.New(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		s.pool = pool
		s.closers = append(s.closers, func() error { pool.Close(); return nil })
		if err := pool.HealthCheck(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("postgres health check: %w", err)
		}
		logger.Info("postgres pool ready", "max_conns", cfg.DBPoolMaxConns)
	}
	if cfg.NeedsSQLite() {
		conn, err := db.OpenSQLite(ctx, cfg.SQLitePath, cfg.SQLiteBusy)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.sqlite = conn
		s.closers = append(s.closers, conn.Close)
		logger.Info("sqlite database ready", "path", cfg.SQLitePath)
	}

	alarms, err := s.openAlarms(cfg, fsys)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.Alarms = alarms

	kv, err := s.openKV(ctx, cfg, fsys)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.KV = kv
	s.closers = append(s.closers, kv.Close)

	logger.Info("storage opened", "alarms", cfg.StorageDriver, "registry", cfg.RegistryDriver)
	return s, nil
}

func (s *Stores) openAlarms(cfg *config.Config, fsys afero.Fs) (alarmstore.Store, error) {
	switch cfg.StorageDriver {
	case config.DriverFile:
		return alarmstore.NewFileStore(fsys, filepath.Join(cfg.DataDir, "alarms"))
	case config.DriverPostgres:
		return alarmstore.NewPostgresStore(s.pool.Pool), nil
	case config.DriverSQLite:
		return alarmstore.NewSQLiteStore(s.sqlite), nil
	default:
		return nil, fmt.Errorf("%w: %q", alarmstore.ErrUnknownDriver, cfg.StorageDriver)
	}
}

func (s *Stores) openKV(ctx context.Context, cfg *config.Config, fsys afero.Fs) (kvstore.Store, error) {
	switch cfg.RegistryDriver {
	case config.DriverFile:
		return kvstore.NewFileStore(fsys, filepath.Join(cfg.DataDir, "storage"))
	case config.DriverRedis:
		return kvstore.NewRedisStore(ctx, cfg.RedisURL, cfg.RedisPrefix)
	case config.DriverPostgres:
		return kvstore.NewPostgresStore(s.pool.Pool), nil
	case config.DriverSQLite:
		return kvstore.NewSQLiteStore(s.sqlite), nil
	default:
		return nil, fmt.Errorf("unknown registry driver: %q", cfg.RegistryDriver)
	}
}

// Close releases handles in reverse order of opening.
func (s *Stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
