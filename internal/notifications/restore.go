package notifications

import (
	"context"
	"fmt"

	"github.com/cnutodo/pushsched/internal/push"
	"github.com/cnutodo/pushsched/internal/timers"
)

// Restore replays persisted alarms after a restart. Alarms already due are
// deleted without delivery; alarms whose loader moment has passed get a
// direct timer and lose their record; the rest get their block loader back.
// Only subscribers in the registry are replayed; orphaned records age out
// through the retention purge.
func (s *Service) Restore(ctx context.Context) (*RestoreReport, error) {
	rep := &RestoreReport{}
	now := s.timers.Now()

	for _, sub := range s.registry.List() {
		handles, err := s.alarms.FindAllForSubscriber(ctx, sub.Endpoint)
		if err != nil {
			return rep, fmt.Errorf("restore %s: %w", push.Redact(sub.Endpoint), err)
		}
		rep.Subscribers++

		for _, h := range handles {
			key := timers.Key{Subscriber: h.Subscriber, Block: h.Block}
			loaderAt := s.loaderTime(h.Block)

			switch {
			case h.ScheduledTime <= now.UnixMilli():
				if err := s.alarms.Delete(ctx, h); err != nil {
					s.logger.Warn("delete expired alarm failed", "error", err)
				}
				rep.Expired++

			case s.imminent(loaderAt):
				a, ok, err := s.alarms.Load(ctx, h)
				if err != nil {
					s.logger.Warn("load alarm failed", "endpoint", push.Redact(h.Subscriber), "error", err)
					rep.Failed++
					continue
				}
				if ok {
					s.scheduleDirect(key, a)
					rep.Direct++
				}
				if err := s.alarms.Delete(ctx, h); err != nil {
					s.logger.Warn("delete restored alarm failed", "error", err)
				}

			default:
				if s.ensureLoader(key, loaderAt) {
					rep.Loaders++
				}
			}
		}
	}

	s.logger.Info("alarms restored",
		"subscribers", rep.Subscribers, "expired", rep.Expired,
		"direct", rep.Direct, "loaders", rep.Loaders, "failed", rep.Failed)
	return rep, nil
}
