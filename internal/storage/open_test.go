package storage

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cnutodo/pushsched/internal/alarmstore"
	"github.com/cnutodo/pushsched/internal/config"
	"github.com/cnutodo/pushsched/internal/kvstore"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestOpenFileDrivers(t *testing.T) {
	fsys := afero.NewMemMapFs()
	cfg := &config.Config{StorageDriver: config.DriverFile, RegistryDriver: config.DriverFile, DataDir: "/data"}

	s, err := Open(context.Background(), cfg, fsys, discard)
	require.NoError(t, err)
	defer s.Close()

	assert.IsType(t, &alarmstore.FileStore{}, s.Alarms)
	assert.IsType(t, &kvstore.FileStore{}, s.KV)

	ok, err := afero.DirExists(fsys, "/data/alarms")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpenSQLiteShared(t *testing.T) {
	cfg := &config.Config{
		StorageDriver:  config.DriverSQLite,
		RegistryDriver: config.DriverSQLite,
		SQLitePath:     filepath.Join(t.TempDir(), "push.db"),
	}

	s, err := Open(context.Background(), cfg, nil, discard)
	require.NoError(t, err)
	assert.IsType(t, &alarmstore.SQLiteStore{}, s.Alarms)
	assert.IsType(t, &kvstore.SQLiteStore{}, s.KV)
	require.NoError(t, s.Alarms.Ping(context.Background()))
	require.NoError(t, s.Close())
}

func TestOpenUnknownDriver(t *testing.T) {
	cfg := &config.Config{StorageDriver: "tape", RegistryDriver: config.DriverFile, DataDir: "/data"}
	_, err := Open(context.Background(), cfg, afero.NewMemMapFs(), discard)
	assert.ErrorIs(t, err, alarmstore.ErrUnknownDriver)
}
