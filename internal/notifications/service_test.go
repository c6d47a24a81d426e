package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cnutodo/pushsched/internal/alarmstore"
	"github.com/cnutodo/pushsched/internal/kvstore"
	"github.com/cnutodo/pushsched/internal/push"
	"github.com/cnutodo/pushsched/internal/registry"
	"github.com/cnutodo/pushsched/internal/timers"
)

// 12:01 UTC sits in the 12:00 block; the next block starts at 15:00 and its
// loader fires at 14:55.
var start = time.Date(2026, 3, 10, 12, 1, 0, 0, time.UTC)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

const endpoint = "https://push.example.com/send/abc123"

var subscription = push.Subscription{
	Endpoint: endpoint,
	Keys:     push.Keys{P256dh: "BNc...", Auth: "tBH..."},
}

// --------------------------------------------------------------------------
// Fakes
// --------------------------------------------------------------------------

type fakeSender struct {
	mu   sync.Mutex
	sent []push.Payload
	fail map[string]error
}

func (f *fakeSender) Send(_ context.Context, sub push.Subscription, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[sub.Endpoint]; err != nil {
		return err
	}
	var p push.Payload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	f.sent = append(f.sent, p)
	return nil
}

func (f *fakeSender) failWith(endpoint string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, endpoint)
		return
	}
	f.fail[endpoint] = err
}

func (f *fakeSender) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, p := range f.sent {
		out = append(out, p.Message)
	}
	return out
}

type harness struct {
	svc    *Service
	clock  *timers.FakeClock
	sender *fakeSender
	alarms *alarmstore.FileStore
	reg    *registry.Registry
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	fsys := afero.NewMemMapFs()
	alarms, err := alarmstore.NewFileStore(fsys, "/data/alarms")
	require.NoError(t, err)
	kv, err := kvstore.NewFileStore(fsys, "/data/storage")
	require.NoError(t, err)

	reg := registry.New(kv, discard)
	require.NoError(t, reg.Load(context.Background()))

	clock := timers.NewFakeClock(start)
	sender := &fakeSender{fail: map[string]error{}}
	if cfg.Title == "" {
		cfg.Title = "CNUTodo"
	}
	svc := NewService(alarms, reg, timers.New(clock), sender, cfg, discard)
	t.Cleanup(svc.Shutdown)

	return &harness{svc: svc, clock: clock, sender: sender, alarms: alarms, reg: reg}
}

func alarmAt(d time.Duration, msg string) alarmstore.Alarm {
	return alarmstore.Alarm{ScheduledTime: alarmstore.EpochMillis(start.Add(d).UnixMilli()), Message: msg}
}

func (h *harness) records(t *testing.T) []alarmstore.Handle {
	t.Helper()
	handles, err := h.alarms.FindAllForSubscriber(context.Background(), endpoint)
	require.NoError(t, err)
	return handles
}

// --------------------------------------------------------------------------
// Scheduling
// --------------------------------------------------------------------------

func TestSchedule_ImminentAlarmGetsDirectTimer(t *testing.T) {
	h := newHarness(t, Config{})

	res, err := h.svc.Schedule(context.Background(), subscription,
		[]alarmstore.Alarm{alarmAt(40*time.Second, "quiz due")})
	require.NoError(t, err)

	require.True(t, res.OK)
	require.Len(t, res.Results, 1)
	assert.Equal(t, TypeImmediate, res.Results[0].Type)
	assert.True(t, res.Results[0].Scheduled)
	assert.Equal(t, "2026-03-10T12:01:40Z", res.Results[0].Time)

	assert.Empty(t, h.records(t), "imminent alarms are never persisted")
	assert.Equal(t, 1, h.svc.Stats().Timers.Direct)

	h.clock.Advance(39 * time.Second)
	assert.Empty(t, h.sender.messages())

	h.clock.Advance(time.Second)
	assert.Equal(t, []string{"quiz due"}, h.sender.messages())
	assert.Equal(t, "CNUTodo", h.sender.sent[0].Title)
	assert.EqualValues(t, 1, h.svc.Stats().Sent)
}

func TestSchedule_FarAlarmIsPersistedUntilLoader(t *testing.T) {
	h := newHarness(t, Config{})
	const tenDays = 240 * time.Hour

	res, err := h.svc.Schedule(context.Background(), subscription,
		[]alarmstore.Alarm{alarmAt(tenDays, "project due")})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, TypeScheduled, res.Results[0].Type)

	require.Len(t, h.records(t), 1)
	assert.Equal(t, timers.Stats{Groups: 1, Loaders: 1}, h.svc.Stats().Timers)

	// The loader fires at 11:55, six minutes before the alarm.
	h.clock.Advance(tenDays - 7*time.Minute)
	assert.Len(t, h.records(t), 1)
	assert.Zero(t, h.svc.Stats().Timers.Direct)

	h.clock.Advance(time.Minute)
	assert.Empty(t, h.records(t), "records are deleted once their timer is armed")
	assert.Equal(t, timers.Stats{Groups: 1, Direct: 1}, h.svc.Stats().Timers)
	assert.Empty(t, h.sender.messages())

	h.clock.Advance(6 * time.Minute)
	assert.Equal(t, []string{"project due"}, h.sender.messages())
}

func TestSchedule_OneLoaderPerBlock(t *testing.T) {
	h := newHarness(t, Config{})

	_, err := h.svc.Schedule(context.Background(), subscription, []alarmstore.Alarm{
		alarmAt(3*time.Hour+59*time.Minute, "16:00"),
		alarmAt(4*time.Hour+29*time.Minute, "16:30"),
		alarmAt(4*time.Hour+59*time.Minute, "17:00"),
	})
	require.NoError(t, err)

	assert.Len(t, h.records(t), 3)
	assert.Equal(t, timers.Stats{Groups: 1, Loaders: 1}, h.svc.Stats().Timers)

	h.clock.Advance(2*time.Hour + 54*time.Minute)
	assert.Empty(t, h.records(t))
	assert.Equal(t, 3, h.svc.Stats().Timers.Direct)

	h.clock.Advance(3 * time.Hour)
	assert.Equal(t, []string{"16:00", "16:30", "17:00"}, h.sender.messages())
}

func TestSchedule_ReplacesPreviousSchedule(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	_, err := h.svc.Schedule(ctx, subscription, []alarmstore.Alarm{
		alarmAt(40*time.Second, "old immediate"),
		alarmAt(4*time.Hour, "old deferred"),
	})
	require.NoError(t, err)

	_, err = h.svc.Schedule(ctx, subscription, []alarmstore.Alarm{
		alarmAt(5*time.Hour, "new"),
	})
	require.NoError(t, err)

	recs := h.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, start.Add(5*time.Hour).UnixMilli(), recs[0].ScheduledTime)
	assert.Equal(t, timers.Stats{Groups: 1, Loaders: 1}, h.svc.Stats().Timers)

	h.clock.Advance(6 * time.Hour)
	assert.Equal(t, []string{"new"}, h.sender.messages())
}

func TestSchedule_EmptyListClearsSchedule(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	_, err := h.svc.Schedule(ctx, subscription, []alarmstore.Alarm{alarmAt(4*time.Hour, "x")})
	require.NoError(t, err)

	res, err := h.svc.Schedule(ctx, subscription, nil)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Empty(t, res.Results)
	assert.Empty(t, h.records(t))
	assert.Equal(t, timers.Stats{}, h.svc.Stats().Timers)
}

func TestSchedule_DedupsByMinute(t *testing.T) {
	h := newHarness(t, Config{})

	res, err := h.svc.Schedule(context.Background(), subscription, []alarmstore.Alarm{
		alarmAt(3*time.Hour+59*time.Minute+10*time.Second, "first"),
		alarmAt(3*time.Hour+59*time.Minute+50*time.Second, "same minute"),
		alarmAt(4*time.Hour+5*time.Second, "next minute"),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Skipped)
	require.Len(t, res.Results, 2)

	recs := h.records(t)
	require.Len(t, recs, 2)

	a, ok, err := h.alarms.Load(context.Background(), recs[0])
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", a.Message)
}

func TestSchedule_PastAlarmFiresAfterFloorDelay(t *testing.T) {
	h := newHarness(t, Config{})

	res, err := h.svc.Schedule(context.Background(), subscription,
		[]alarmstore.Alarm{alarmAt(-time.Hour, "late")})
	require.NoError(t, err)
	assert.Equal(t, TypeImmediate, res.Results[0].Type)

	h.clock.Advance(timers.MinDelay)
	assert.Equal(t, []string{"late"}, h.sender.messages())
}

func TestSchedule_InvalidAlarmReportedPerAlarm(t *testing.T) {
	h := newHarness(t, Config{})

	res, err := h.svc.Schedule(context.Background(), subscription, []alarmstore.Alarm{
		{ScheduledTime: 0, Message: "broken"},
		alarmAt(time.Minute, "fine"),
	})
	require.NoError(t, err)

	assert.False(t, res.OK)
	require.Len(t, res.Results, 2)
	assert.False(t, res.Results[0].Scheduled)
	assert.NotEmpty(t, res.Results[0].Error)
	assert.True(t, res.Results[1].Scheduled)
}

func TestSchedule_RejectsMissingEndpoint(t *testing.T) {
	h := newHarness(t, Config{})
	_, err := h.svc.Schedule(context.Background(), push.Subscription{}, nil)
	assert.ErrorIs(t, err, push.ErrInvalidSubscription)
	assert.Zero(t, h.reg.Len())
}

func TestSchedule_SubMillisecondDedupWindow(t *testing.T) {
	h := newHarness(t, Config{DedupWindow: 500 * time.Microsecond})
	assert.Equal(t, time.Millisecond, h.svc.Config().DedupWindow)

	res, err := h.svc.Schedule(context.Background(), subscription, []alarmstore.Alarm{
		alarmAt(time.Minute, "a"),
		alarmAt(time.Minute+time.Millisecond, "b"),
	})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Len(t, res.Results, 2)
	assert.Zero(t, res.Skipped)
}

func TestSchedule_RejectsAlarmsBeyondLookahead(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	res, err := h.svc.Schedule(ctx, subscription, []alarmstore.Alarm{
		alarmAt(15*24*time.Hour, "too far"),
		{ScheduledTime: 300000000000000, Message: "year 11476"},
		alarmAt(4*time.Hour, "fine"),
	})
	require.NoError(t, err)

	assert.False(t, res.OK)
	require.Len(t, res.Results, 3)
	assert.False(t, res.Results[0].Scheduled)
	assert.Contains(t, res.Results[0].Error, "ahead")
	assert.False(t, res.Results[1].Scheduled)
	assert.True(t, res.Results[2].Scheduled)
	assert.Len(t, h.records(t), 1)

	_, err = h.svc.Schedule(ctx, subscription, nil)
	require.NoError(t, err)
	assert.Empty(t, h.records(t))

	_, ok, err := h.alarms.Load(ctx, alarmstore.HandleFor(endpoint, alarmstore.Alarm{ScheduledTime: 300000000000000}))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSchedule_CustomLookahead(t *testing.T) {
	h := newHarness(t, Config{MaxLookahead: 30 * 24 * time.Hour})

	res, err := h.svc.Schedule(context.Background(), subscription,
		[]alarmstore.Alarm{alarmAt(20*24*time.Hour, "three weeks out")})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, TypeScheduled, res.Results[0].Type)
}

func TestSchedule_UpsertsSubscription(t *testing.T) {
	h := newHarness(t, Config{})
	_, err := h.svc.Schedule(context.Background(), subscription, nil)
	require.NoError(t, err)

	got, ok := h.reg.Get(endpoint)
	require.True(t, ok)
	assert.Equal(t, subscription.Keys, got.Keys)
}

// --------------------------------------------------------------------------
// Single flight
// --------------------------------------------------------------------------

func TestSchedule_ConcurrentRequestTimesOut(t *testing.T) {
	h := newHarness(t, Config{FlightWait: 20 * time.Millisecond})
	ctx := context.Background()

	unlock, err := h.svc.flights.Lock(ctx, endpoint)
	require.NoError(t, err)

	_, err = h.svc.Schedule(ctx, subscription, []alarmstore.Alarm{alarmAt(time.Minute, "x")})
	assert.ErrorIs(t, err, ErrConcurrentRequest)
	assert.Zero(t, h.reg.Len(), "a rejected request mutates nothing")

	// Other subscribers are unaffected.
	other := push.Subscription{Endpoint: "https://push.example.com/send/other"}
	_, err = h.svc.Schedule(ctx, other, nil)
	require.NoError(t, err)

	unlock()
	_, err = h.svc.Schedule(ctx, subscription, nil)
	require.NoError(t, err)
}

func TestSchedule_WaitsForInFlightRequest(t *testing.T) {
	h := newHarness(t, Config{FlightWait: 2 * time.Second})
	ctx := context.Background()

	unlock, err := h.svc.flights.Lock(ctx, endpoint)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := h.svc.Schedule(ctx, subscription, []alarmstore.Alarm{alarmAt(4*time.Hour, "after wait")})
		done <- err
	}()

	time.Sleep(30 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("schedule ran while the subscriber was locked")
	default:
	}

	unlock()
	require.NoError(t, <-done)
	assert.Len(t, h.records(t), 1)
	assert.Zero(t, h.svc.Stats().InFlight)
}

func TestFlightGroup(t *testing.T) {
	g := newFlightGroup()
	ctx := context.Background()

	unlock, err := g.Lock(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, g.Len())

	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = g.Lock(short, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlockB, err := g.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()

	unlock()
	unlock()
	assert.Zero(t, g.Len())
}

// --------------------------------------------------------------------------
// Loader, delivery, reaping
// --------------------------------------------------------------------------

func TestLoader_DropsAlarmsOfRemovedSubscriber(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	_, err := h.svc.Schedule(ctx, subscription, []alarmstore.Alarm{alarmAt(4*time.Hour, "orphan")})
	require.NoError(t, err)

	_, err = h.reg.Remove(ctx, endpoint)
	require.NoError(t, err)

	h.clock.Advance(3 * time.Hour)
	assert.Empty(t, h.records(t))
	assert.Zero(t, h.svc.Stats().Timers.Direct)

	h.clock.Advance(2 * time.Hour)
	assert.Empty(t, h.sender.messages())
}

func TestDelivery_GoneSubscriptionIsReaped(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	h.sender.failWith(endpoint, fmt.Errorf("%w (status 410)", push.ErrGone))

	_, err := h.svc.Schedule(ctx, subscription, []alarmstore.Alarm{
		alarmAt(40*time.Second, "now"),
		alarmAt(4*time.Hour, "later"),
	})
	require.NoError(t, err)
	require.Len(t, h.records(t), 1)

	h.clock.Advance(time.Minute)

	assert.Zero(t, h.reg.Len())
	assert.Empty(t, h.records(t))
	assert.Equal(t, timers.Stats{}, h.svc.Stats().Timers)
	assert.EqualValues(t, 1, h.svc.Stats().Reaped)

	// Re-subscribing through a schedule request starts fresh.
	h.sender.failWith(endpoint, nil)
	_, err = h.svc.Schedule(ctx, subscription, []alarmstore.Alarm{alarmAt(4*time.Hour, "again")})
	require.NoError(t, err)
	assert.Equal(t, 1, h.reg.Len())
	assert.Len(t, h.records(t), 1)

	h.clock.Advance(4 * time.Hour)
	assert.Equal(t, []string{"again"}, h.sender.messages())
}

func TestDelivery_TransientFailureKeepsState(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	h.sender.failWith(endpoint, &push.StatusError{StatusCode: 500})

	_, err := h.svc.Schedule(ctx, subscription, []alarmstore.Alarm{
		alarmAt(40*time.Second, "now"),
		alarmAt(4*time.Hour, "later"),
	})
	require.NoError(t, err)

	h.clock.Advance(time.Minute)
	assert.Equal(t, 1, h.reg.Len())
	assert.Len(t, h.records(t), 1)
	assert.EqualValues(t, 1, h.svc.Stats().Failed)
}

func TestUnsubscribe_TearsDownEverything(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	_, err := h.svc.Schedule(ctx, subscription, []alarmstore.Alarm{
		alarmAt(time.Minute, "soon"),
		alarmAt(4*time.Hour, "a"),
		alarmAt(4*time.Hour+30*time.Minute, "b"),
	})
	require.NoError(t, err)

	res, err := h.svc.Unsubscribe(ctx, subscription)
	require.NoError(t, err)
	assert.Equal(t, &UnsubscribeResult{Removed: true, AlarmsDeleted: 2, TimersCanceled: 2}, res)

	assert.Zero(t, h.reg.Len())
	assert.Empty(t, h.records(t))

	h.clock.Advance(6 * time.Hour)
	assert.Empty(t, h.sender.messages())

	res, err = h.svc.Unsubscribe(ctx, subscription)
	require.NoError(t, err)
	assert.False(t, res.Removed)
}

func TestSubscribe(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	created, err := h.svc.Subscribe(ctx, subscription)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = h.svc.Subscribe(ctx, subscription)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 1, h.svc.Stats().Subscriptions)
}

// --------------------------------------------------------------------------
// Restore
// --------------------------------------------------------------------------

func TestRestore(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	_, err := h.reg.Upsert(ctx, subscription)
	require.NoError(t, err)
	for _, a := range []alarmstore.Alarm{
		alarmAt(-time.Hour, "missed"),
		alarmAt(10*time.Minute, "soon"),
		alarmAt(48*time.Hour, "far"),
		alarmAt(48*time.Hour+time.Hour, "far, same block"),
	} {
		_, err := h.alarms.Save(ctx, endpoint, a)
		require.NoError(t, err)
	}

	rep, err := h.svc.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, &RestoreReport{Subscribers: 1, Expired: 1, Direct: 1, Loaders: 1}, rep)

	recs := h.records(t)
	require.Len(t, recs, 2, "only loader-backed records remain")

	h.clock.Advance(50 * time.Hour)
	assert.Equal(t, []string{"soon", "far", "far, same block"}, h.sender.messages())
	assert.Empty(t, h.records(t))
}

func TestNewService_NilWebPushSenderDropsMessages(t *testing.T) {
	fsys := afero.NewMemMapFs()
	alarms, err := alarmstore.NewFileStore(fsys, "/data/alarms")
	require.NoError(t, err)
	kv, err := kvstore.NewFileStore(fsys, "/data/storage")
	require.NoError(t, err)
	reg := registry.New(kv, discard)

	clock := timers.NewFakeClock(start)
	var webPush *push.WebPushSender
	svc := NewService(alarms, reg, timers.New(clock), webPush, Config{}, discard)
	t.Cleanup(svc.Shutdown)

	_, err = svc.Schedule(context.Background(), subscription, []alarmstore.Alarm{alarmAt(time.Minute, "x")})
	require.NoError(t, err)
	clock.Advance(time.Minute)

	assert.Zero(t, svc.Stats().Sent)
	assert.EqualValues(t, 1, svc.Stats().Failed)
}

func TestShutdownCancelsTimers(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	_, err := h.svc.Schedule(ctx, subscription, []alarmstore.Alarm{alarmAt(time.Minute, "x"), alarmAt(4*time.Hour, "y")})
	require.NoError(t, err)

	h.svc.Shutdown()
	assert.Equal(t, timers.Stats{}, h.svc.Stats().Timers)
	assert.Len(t, h.records(t), 1, "persisted alarms survive shutdown")

	_, err = h.svc.Schedule(ctx, subscription, nil)
	assert.ErrorIs(t, err, ErrShuttingDown)
}
