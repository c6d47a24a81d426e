package api

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cnutodo/pushsched/internal/alarmstore"
	"github.com/cnutodo/pushsched/internal/api/handler"
	"github.com/cnutodo/pushsched/internal/config"
	"github.com/cnutodo/pushsched/internal/kvstore"
	"github.com/cnutodo/pushsched/internal/notifications"
	"github.com/cnutodo/pushsched/internal/registry"
	"github.com/cnutodo/pushsched/internal/timers"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestServer(t *testing.T, cfg *config.Config) (*httptest.Server, *notifications.Service) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	alarms, err := alarmstore.NewFileStore(fsys, "/data/alarms")
	require.NoError(t, err)
	kv, err := kvstore.NewFileStore(fsys, "/data/storage")
	require.NoError(t, err)
	reg := registry.New(kv, discard)

	clock := timers.NewFakeClock(time.Date(2026, 3, 10, 12, 1, 0, 0, time.UTC))
	svc := notifications.NewService(alarms, reg, timers.New(clock), nil,
		notifications.Config{}, discard)
	t.Cleanup(svc.Shutdown)

	h := handler.New(svc, alarms, reg, "BPub")
	srv := httptest.NewServer(NewRouter(h, cfg, discard))
	t.Cleanup(srv.Close)
	return srv, svc
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestRouter_ScheduleFlow(t *testing.T) {
	srv, svc := newTestServer(t, &config.Config{CORSAllowOrigins: []string{"*"}})

	sub := `{"endpoint":"https://push.example.com/send/abc","keys":{"p256dh":"BNc","auth":"tBH"}}`
	resp := post(t, srv.URL+"/subscribe", sub)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Process-Time"))

	// 2026-03-20T12:01:00Z is far enough out to be persisted.
	resp = post(t, srv.URL+"/scheduleNotification",
		`{"subscription":`+sub+`,"push_alarms":[{"scheduledTime":1774008060000,"message":"project due"}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"type":"scheduled"`)

	assert.Equal(t, 1, svc.Stats().Timers.Loaders)

	resp = post(t, srv.URL+"/unsubscribe", sub)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, svc.Stats().Subscriptions)
}

func TestRouter_HealthAndKey(t *testing.T) {
	srv, _ := newTestServer(t, &config.Config{})

	for _, path := range []string{"/health", "/health/store", "/health/scheduler", "/vapidPublicKey", "/"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestRouter_RateLimit(t *testing.T) {
	srv, _ := newTestServer(t, &config.Config{
		RateLimitEnabled:  true,
		RateLimitRequests: 2,
		RateLimitWindow:   time.Minute,
	})

	var last int
	for i := 0; i < 3; i++ {
		resp, err := http.Get(srv.URL + "/health")
		require.NoError(t, err)
		resp.Body.Close()
		last = resp.StatusCode
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}
