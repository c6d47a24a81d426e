// Package notifications schedules per-subscriber push reminders.
//
// Pipeline: schedule request → clear old state → dedup → place each alarm.
// Alarms whose time block starts soon get a direct timer; later ones are
// persisted and a single loader timer per (subscriber, block) turns them
// into direct timers shortly before the block begins. Direct timers deliver
// through a push.Sender, and endpoints reported gone are torn down.
package notifications

import (
	"errors"
	"time"

	"github.com/cnutodo/pushsched/internal/timers"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	defaultLeadTime      = 5 * time.Minute
	defaultImminentSlack = 30 * time.Second
	defaultDedupWindow   = time.Minute
	defaultFlightWait    = 3 * time.Second
	defaultMaxLookahead  = 14 * 24 * time.Hour
	defaultSendTimeout   = 15 * time.Second
	defaultTitle         = "Reminder"
	clearConcurrency     = 8
)

// Result types reported per alarm.
const (
	TypeImmediate = "immediate"
	TypeScheduled = "scheduled"
)

var (
	// ErrConcurrentRequest is returned when another mutation for the same
	// subscriber did not finish within the flight wait.
	ErrConcurrentRequest = errors.New("concurrent request for subscriber")

	ErrShuttingDown = errors.New("notification service is shutting down")
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Config tunes scheduling. Zero fields take the defaults above.
type Config struct {
	LeadTime      time.Duration // loader fires this long before its block starts
	ImminentSlack time.Duration
	DedupWindow   time.Duration
	FlightWait    time.Duration
	MaxLookahead  time.Duration // alarms further out are rejected
	SendTimeout   time.Duration
	Title         string
}

func (c Config) withDefaults() Config {
	if c.LeadTime <= 0 {
		c.LeadTime = defaultLeadTime
	}
	if c.ImminentSlack <= 0 {
		c.ImminentSlack = defaultImminentSlack
	}
	switch {
	case c.DedupWindow <= 0:
		c.DedupWindow = defaultDedupWindow
	case c.DedupWindow < time.Millisecond:
		// buckets are whole milliseconds
		c.DedupWindow = time.Millisecond
	}
	if c.FlightWait <= 0 {
		c.FlightWait = defaultFlightWait
	}
	if c.MaxLookahead <= 0 {
		c.MaxLookahead = defaultMaxLookahead
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaultSendTimeout
	}
	if c.Title == "" {
		c.Title = defaultTitle
	}
	return c
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

// AlarmResult reports what happened to one submitted alarm.
type AlarmResult struct {
	ScheduledTime int64  `json:"scheduledTime"`
	Scheduled     bool   `json:"scheduled"`
	Time          string `json:"time,omitempty"`
	Type          string `json:"type,omitempty"` // immediate | scheduled
	Error         string `json:"error,omitempty"`
}

// ScheduleResult is the outcome of replacing a subscriber's schedule.
// OK is false when any alarm failed; the per-alarm results say which.
type ScheduleResult struct {
	OK      bool          `json:"ok"`
	Results []AlarmResult `json:"results"`
	Skipped int           `json:"skipped"`
}

// UnsubscribeResult reports the state removed for one endpoint.
type UnsubscribeResult struct {
	Removed        bool `json:"removed"`
	AlarmsDeleted  int  `json:"alarmsDeleted"`
	TimersCanceled int  `json:"timersCanceled"`
}

// RestoreReport summarizes a startup replay.
type RestoreReport struct {
	Subscribers int `json:"subscribers"`
	Expired     int `json:"expired"`
	Direct      int `json:"direct"`
	Loaders     int `json:"loaders"`
	Failed      int `json:"failed"`
}

// Stats is a snapshot for health endpoints.
type Stats struct {
	Subscriptions int          `json:"subscriptions"`
	Timers        timers.Stats `json:"timers"`
	InFlight      int          `json:"inFlight"`
	Sent          uint64       `json:"sent"`
	Failed        uint64       `json:"failed"`
	Reaped        uint64       `json:"reaped"`
}
