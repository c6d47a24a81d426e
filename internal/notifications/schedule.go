package notifications

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cnutodo/pushsched/internal/alarmstore"
	"github.com/cnutodo/pushsched/internal/push"
	"github.com/cnutodo/pushsched/internal/timers"
)

// Schedule replaces the subscriber's whole pending schedule with alarms.
//
// Requests for the same endpoint are serialized; one that cannot get the
// lock within FlightWait fails with ErrConcurrentRequest. The subscription
// is upserted first so a schedule after a reap recreates it.
func (s *Service) Schedule(ctx context.Context, sub push.Subscription, alarms []alarmstore.Alarm) (*ScheduleResult, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	unlock, err := s.acquire(ctx, sub.Endpoint)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := s.registry.Upsert(ctx, sub); err != nil {
		return nil, fmt.Errorf("save subscription: %w", err)
	}

	deleted, canceled, err := s.clear(ctx, sub.Endpoint)
	if err != nil {
		return nil, err
	}

	res := &ScheduleResult{OK: true, Results: make([]AlarmResult, 0, len(alarms))}
	seen := make(map[int64]struct{}, len(alarms))
	window := s.cfg.DedupWindow.Milliseconds()
	horizon := s.timers.Now().Add(s.cfg.MaxLookahead).UnixMilli()

	var immediate, deferred int
	for _, a := range alarms {
		ts := int64(a.ScheduledTime)
		if ts <= 0 {
			res.OK = false
			res.Results = append(res.Results, AlarmResult{
				ScheduledTime: ts,
				Error:         "invalid scheduledTime",
			})
			continue
		}
		if ts > horizon {
			res.OK = false
			res.Results = append(res.Results, AlarmResult{
				ScheduledTime: ts,
				Error:         fmt.Sprintf("scheduledTime is more than %s ahead", s.cfg.MaxLookahead),
			})
			continue
		}

		bucket := ts / window
		if _, dup := seen[bucket]; dup {
			res.Skipped++
			continue
		}
		seen[bucket] = struct{}{}

		r := s.place(ctx, sub.Endpoint, a)
		if !r.Scheduled {
			res.OK = false
		} else if r.Type == TypeImmediate {
			immediate++
		} else {
			deferred++
		}
		res.Results = append(res.Results, r)
	}

	s.logger.Info("schedule replaced",
		"endpoint", push.Redact(sub.Endpoint),
		"cleared_alarms", deleted, "cleared_timers", canceled,
		"immediate", immediate, "deferred", deferred, "skipped", res.Skipped)
	return res, nil
}

// place runs the two-phase decision for one alarm. Caller holds the
// subscriber lock.
func (s *Service) place(ctx context.Context, endpoint string, a alarmstore.Alarm) AlarmResult {
	ts := int64(a.ScheduledTime)
	r := AlarmResult{ScheduledTime: ts, Time: a.Time().UTC().Format(time.RFC3339Nano)}

	key := timers.Key{Subscriber: endpoint, Block: a.Block()}
	loaderAt := s.loaderTime(key.Block)

	if s.imminent(loaderAt) {
		s.scheduleDirect(key, a)
		r.Scheduled = true
		r.Type = TypeImmediate
		return r
	}

	if _, err := s.alarms.Save(ctx, endpoint, a); err != nil {
		s.logger.Error("save alarm failed", "endpoint", push.Redact(endpoint), "scheduled_time", ts, "error", err)
		r.Error = err.Error()
		return r
	}
	s.ensureLoader(key, loaderAt)
	r.Scheduled = true
	r.Type = TypeScheduled
	return r
}

// clear deletes every persisted alarm of endpoint and cancels its timers.
// Individual delete failures are logged, not returned; failing to list the
// records is an error.
func (s *Service) clear(ctx context.Context, endpoint string) (deleted, canceled int, err error) {
	canceled = s.timers.CancelSubscriber(endpoint)

	handles, err := s.alarms.FindAllForSubscriber(ctx, endpoint)
	if err != nil {
		return 0, canceled, fmt.Errorf("list alarms: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(clearConcurrency)
	for _, h := range handles {
		h := h
		g.Go(func() error {
			return s.alarms.Delete(ctx, h)
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Warn("alarm cleanup incomplete", "endpoint", push.Redact(endpoint), "error", err)
	}
	return len(handles), canceled, nil
}

func (s *Service) loaderTime(block int64) time.Time {
	return time.UnixMilli(block).Add(-s.cfg.LeadTime)
}

// imminent reports whether the loader moment is already due, within slack.
func (s *Service) imminent(loaderAt time.Time) bool {
	return !s.timers.Now().Add(s.cfg.ImminentSlack).Before(loaderAt)
}
