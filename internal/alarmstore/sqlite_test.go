package alarmstore_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cnutodo/pushsched/internal/alarmstore"
	"github.com/cnutodo/pushsched/internal/db"
)

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	conn, err := db.OpenSQLite(ctx, filepath.Join(t.TempDir(), "push.db"), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	s := alarmstore.NewSQLiteStore(conn)
	require.NoError(t, s.Ping(ctx))

	const sub = "https://push.example/endpoint/1"
	day := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	first := alarmstore.Alarm{ScheduledTime: alarmstore.EpochMillis(day.Add(9 * time.Hour).UnixMilli()), Message: "first"}
	second := alarmstore.Alarm{ScheduledTime: alarmstore.EpochMillis(day.Add(10 * time.Hour).UnixMilli()), Message: "second"}
	later := alarmstore.Alarm{ScheduledTime: alarmstore.EpochMillis(day.Add(50 * time.Hour).UnixMilli()), Message: "later"}

	var handles []alarmstore.Handle
	for _, a := range []alarmstore.Alarm{first, second, later} {
		h, err := s.Save(ctx, sub, a)
		require.NoError(t, err)
		handles = append(handles, h)
	}

	t.Run("Load", func(t *testing.T) {
		got, ok, err := s.Load(ctx, handles[0])
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, first, got)
	})

	t.Run("FindBlock", func(t *testing.T) {
		got, err := s.FindBlock(ctx, sub, first.Block())
		require.NoError(t, err)
		assert.Equal(t, handles[:2], got)
	})

	t.Run("DeleteTwice", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, handles[1]))
		require.NoError(t, s.Delete(ctx, handles[1]))
		_, ok, err := s.Load(ctx, handles[1])
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Purge", func(t *testing.T) {
		n, err := s.PurgeOlderThan(ctx, day.Add(36*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		left, err := s.FindAllForSubscriber(ctx, sub)
		require.NoError(t, err)
		assert.Equal(t, handles[2:], left)
	})
}
