// Package maintenance runs retention purges of persisted alarms: once at
// startup and then on a cron schedule for long-running processes.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cnutodo/pushsched/internal/alarmstore"
)

// Config controls the purge. An empty Schedule disables the periodic run.
type Config struct {
	Retention time.Duration
	Schedule  string // standard 5-field cron spec or descriptor (@daily)
	Location  *time.Location
}

// DefaultConfig returns sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Retention: alarmstore.DefaultRetention,
		Schedule:  "@daily",
		Location:  time.UTC,
	}
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule validates a cron spec.
func ParseSchedule(spec string) (cron.Schedule, error) {
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse purge schedule %q: %w", spec, err)
	}
	return sched, nil
}

// Start purges once, then on every tick of cfg.Schedule. Blocks until ctx
// is cancelled. Intended to be called with `go`.
func Start(ctx context.Context, store alarmstore.Store, cfg Config, logger *slog.Logger) error {
	if cfg.Retention <= 0 {
		cfg.Retention = alarmstore.DefaultRetention
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	// Startup purge
	if _, err := Purge(ctx, store, cfg.Retention, time.Now(), logger); err != nil {
		logger.Warn("Startup purge failed", "error", err)
	}

	if cfg.Schedule == "" {
		logger.Info("Periodic purge disabled")
		return nil
	}
	sched, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return err
	}

	c := cron.New(cron.WithParser(parser), cron.WithLocation(cfg.Location))
	c.Schedule(sched, cron.FuncJob(func() {
		if _, err := Purge(ctx, store, cfg.Retention, time.Now(), logger); err != nil {
			logger.Warn("Scheduled purge failed", "error", err)
		}
	}))
	c.Start()
	logger.Info("Maintenance cron started", "schedule", cfg.Schedule, "retention", cfg.Retention)

	<-ctx.Done()
	<-c.Stop().Done()
	logger.Info("Maintenance cron stopped")
	return nil
}

// Purge removes alarm partitions that ended more than retention before now.
func Purge(ctx context.Context, store alarmstore.Store, retention time.Duration, now time.Time, logger *slog.Logger) (int, error) {
	start := time.Now()
	cutoff := now.Add(-retention)

	n, err := store.PurgeOlderThan(ctx, cutoff)
	dur := time.Since(start).Round(time.Millisecond)
	if err != nil {
		return n, fmt.Errorf("purge alarms before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if n > 0 {
		logger.Info("Purged old alarm partitions", "count", n, "cutoff", cutoff, "duration", dur)
	} else {
		logger.Debug("Nothing to purge", "cutoff", cutoff)
	}
	return n, nil
}
