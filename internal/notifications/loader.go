package notifications

import (
	"time"

	"github.com/cnutodo/pushsched/internal/alarmstore"
	"github.com/cnutodo/pushsched/internal/push"
	"github.com/cnutodo/pushsched/internal/timers"
)

func (s *Service) scheduleDirect(key timers.Key, a alarmstore.Alarm) {
	s.timers.ScheduleDirect(key, a.Time(), func() {
		s.deliver(key.Subscriber, a)
	})
}

// ensureLoader installs the block's loader unless one is already live.
func (s *Service) ensureLoader(key timers.Key, at time.Time) bool {
	_, created := s.timers.ScheduleLoader(key, at, func() {
		s.runLoader(key)
	})
	return created
}

// runLoader converts the block's persisted alarms into direct timers. The
// records are read now rather than captured at schedule time, so a
// replacement in between is honored. Each record is deleted right after its
// timer is armed.
func (s *Service) runLoader(key timers.Key) {
	ctx := s.base
	unlock, err := s.flights.Lock(ctx, key.Subscriber)
	if err != nil {
		return // shutting down
	}
	defer unlock()

	log := s.logger.With("endpoint", push.Redact(key.Subscriber), "block", time.UnixMilli(key.Block).UTC())

	handles, err := s.alarms.FindBlock(ctx, key.Subscriber, key.Block)
	if err != nil {
		log.Error("loader scan failed", "error", err)
		return
	}
	if len(handles) == 0 {
		log.Debug("loader found no alarms")
		return
	}

	_, known := s.registry.Get(key.Subscriber)

	loaded := 0
	for _, h := range handles {
		if known {
			a, ok, err := s.alarms.Load(ctx, h)
			if err != nil {
				log.Warn("load alarm failed", "scheduled_time", h.ScheduledTime, "error", err)
				continue
			}
			if !ok {
				continue
			}
			s.scheduleDirect(key, a)
			loaded++
		}
		if err := s.alarms.Delete(ctx, h); err != nil {
			log.Warn("delete loaded alarm failed", "scheduled_time", h.ScheduledTime, "error", err)
		}
	}

	if !known {
		log.Info("dropped alarms of unknown subscriber", "count", len(handles))
		return
	}
	log.Info("block loaded", "alarms", loaded)
}
