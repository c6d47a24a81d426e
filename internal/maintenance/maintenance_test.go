package maintenance

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cnutodo/pushsched/internal/alarmstore"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

const endpoint = "https://push.example.com/send/abc123"

func seed(t *testing.T, store alarmstore.Store, times ...time.Time) {
	t.Helper()
	for _, at := range times {
		_, err := store.Save(context.Background(), endpoint,
			alarmstore.Alarm{ScheduledTime: alarmstore.EpochMillis(at.UnixMilli()), Message: "m"})
		require.NoError(t, err)
	}
}

func TestPurge(t *testing.T) {
	store, err := alarmstore.NewFileStore(afero.NewMemMapFs(), "/alarms")
	require.NoError(t, err)

	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	seed(t, store, now.Add(-45*24*time.Hour), now.Add(-40*24*time.Hour), now.Add(-time.Hour))

	n, err := Purge(context.Background(), store, 30*24*time.Hour, now, discard)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	left, err := store.FindAllForSubscriber(context.Background(), endpoint)
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestParseSchedule(t *testing.T) {
	_, err := ParseSchedule("@daily")
	assert.NoError(t, err)
	_, err = ParseSchedule("30 3 * * *")
	assert.NoError(t, err)
	_, err = ParseSchedule("every day")
	assert.Error(t, err)
}

func TestStart_PurgesOnStartupAndStops(t *testing.T) {
	store, err := alarmstore.NewFileStore(afero.NewMemMapFs(), "/alarms")
	require.NoError(t, err)
	seed(t, store, time.Now().Add(-60*24*time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Start(ctx, store, DefaultConfig(), discard) }()

	require.Eventually(t, func() bool {
		left, err := store.FindAllForSubscriber(context.Background(), endpoint)
		return err == nil && len(left) == 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestStart_BadScheduleFails(t *testing.T) {
	store, err := alarmstore.NewFileStore(afero.NewMemMapFs(), "/alarms")
	require.NoError(t, err)
	err = Start(context.Background(), store, Config{Schedule: "nope"}, discard)
	assert.Error(t, err)
}
