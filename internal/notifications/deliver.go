package notifications

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/cnutodo/pushsched/internal/alarmstore"
	"github.com/cnutodo/pushsched/internal/push"
)

// deliver sends one alarm. The subscription is looked up at fire time so
// key rotations and removals are respected.
func (s *Service) deliver(endpoint string, a alarmstore.Alarm) {
	log := s.logger.With("endpoint", push.Redact(endpoint), "scheduled_time", int64(a.ScheduledTime))

	sub, ok := s.registry.Get(endpoint)
	if !ok {
		log.Debug("subscription gone before delivery")
		return
	}
	if s.sender == nil {
		s.failed.Add(1)
		log.Warn("no push sender configured, dropping notification")
		return
	}

	payload, err := json.Marshal(push.Payload{Title: s.cfg.Title, Message: a.Message})
	if err != nil {
		log.Error("encode payload", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(s.base, s.cfg.SendTimeout)
	defer cancel()

	err = s.sender.Send(ctx, sub, payload)
	switch {
	case err == nil:
		s.sent.Add(1)
		log.Info("notification sent")
	case errors.Is(err, push.ErrGone):
		log.Info("subscription gone, removing", "error", err)
		s.reap(endpoint)
	default:
		// No retry; the next alarm is independent.
		s.failed.Add(1)
		log.Warn("send failed", "error", err)
	}
}

// reap tears down every trace of an endpoint the push service rejected.
func (s *Service) reap(endpoint string) {
	unlock, err := s.flights.Lock(s.base, endpoint)
	if err != nil {
		return
	}
	defer unlock()

	removed, err := s.registry.Remove(s.base, endpoint)
	if err != nil {
		s.logger.Error("remove subscription failed", "endpoint", push.Redact(endpoint), "error", err)
	}
	deleted, canceled, err := s.clear(s.base, endpoint)
	if err != nil {
		s.logger.Error("clear gone subscription failed", "endpoint", push.Redact(endpoint), "error", err)
	}
	s.reaped.Add(1)
	s.logger.Info("subscription reaped",
		"endpoint", push.Redact(endpoint), "removed", removed,
		"alarms_deleted", deleted, "timers_canceled", canceled)
}
