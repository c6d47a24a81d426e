package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/cnutodo/pushsched/internal/alarmstore"
	"github.com/cnutodo/pushsched/internal/push"
	"github.com/cnutodo/pushsched/internal/registry"
	"github.com/cnutodo/pushsched/internal/timers"
)

// Service owns all scheduling state. Construct one per process.
type Service struct {
	cfg      Config
	alarms   alarmstore.Store
	registry *registry.Registry
	timers   *timers.Scheduler
	sender   push.Sender
	logger   *slog.Logger

	flights *flightGroup

	// Timer callbacks run outside any request; they use this context.
	base   context.Context
	cancel context.CancelFunc

	sent   atomic.Uint64
	failed atomic.Uint64
	reaped atomic.Uint64
}

// NewService wires the scheduler to its stores. sender may be nil, or a nil
// *push.WebPushSender; either way every message is dropped and counted as
// failed.
func NewService(
	alarms alarmstore.Store,
	reg *registry.Registry,
	sched *timers.Scheduler,
	sender push.Sender,
	cfg Config,
	logger *slog.Logger,
) *Service {
	if ws, ok := sender.(*push.WebPushSender); ok && ws == nil {
		sender = nil
	}
	base, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:      cfg.withDefaults(),
		alarms:   alarms,
		registry: reg,
		timers:   sched,
		sender:   sender,
		logger:   logger,
		flights:  newFlightGroup(),
		base:     base,
		cancel:   cancel,
	}
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

// Subscribe upserts a subscription without touching its schedule.
func (s *Service) Subscribe(ctx context.Context, sub push.Subscription) (created bool, err error) {
	created, err = s.registry.Upsert(ctx, sub)
	if err != nil {
		return false, err
	}
	s.logger.Info("subscription saved", "endpoint", push.Redact(sub.Endpoint), "created", created)
	return created, nil
}

// Unsubscribe removes the subscription and every alarm and timer it owns.
func (s *Service) Unsubscribe(ctx context.Context, sub push.Subscription) (*UnsubscribeResult, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}
	unlock, err := s.acquire(ctx, sub.Endpoint)
	if err != nil {
		return nil, err
	}
	defer unlock()

	removed, err := s.registry.Remove(ctx, sub.Endpoint)
	if err != nil {
		return nil, err
	}
	deleted, canceled, err := s.clear(ctx, sub.Endpoint)
	if err != nil {
		return nil, err
	}

	s.logger.Info("unsubscribed",
		"endpoint", push.Redact(sub.Endpoint), "removed", removed,
		"alarms_deleted", deleted, "timers_canceled", canceled)
	return &UnsubscribeResult{Removed: removed, AlarmsDeleted: deleted, TimersCanceled: canceled}, nil
}

// Stats returns counters for health reporting.
func (s *Service) Stats() Stats {
	return Stats{
		Subscriptions: s.registry.Len(),
		Timers:        s.timers.Stats(),
		InFlight:      s.flights.Len(),
		Sent:          s.sent.Load(),
		Failed:        s.failed.Load(),
		Reaped:        s.reaped.Load(),
	}
}

// Shutdown cancels every live timer and aborts in-progress callbacks.
// Persisted alarms stay in the store for the next Restore.
func (s *Service) Shutdown() {
	s.cancel()
	n := s.timers.CancelAll()
	s.logger.Info("notification timers stopped", "canceled", n)
}

// acquire takes the subscriber's lock, waiting at most FlightWait.
func (s *Service) acquire(ctx context.Context, endpoint string) (func(), error) {
	if s.base.Err() != nil {
		return nil, ErrShuttingDown
	}
	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.FlightWait)
	defer cancel()

	unlock, err := s.flights.Lock(waitCtx, endpoint)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("schedule conflict", "endpoint", push.Redact(endpoint), "waited", s.cfg.FlightWait)
		return nil, fmt.Errorf("%w: waited %s", ErrConcurrentRequest, s.cfg.FlightWait)
	}
	return unlock, nil
}
