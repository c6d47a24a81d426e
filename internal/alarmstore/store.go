// Package alarmstore persists far-future push alarms until their time block
// is about to start.
//
// Records are keyed by (subscriber, blockStart, scheduledTime) so one
// subscriber's alarms in one block can be listed without touching unrelated
// data, and storage is partitioned by calendar day and hour so retention
// purges drop whole partitions.
package alarmstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// BlockWidth is the width of one time block.
const BlockWidth = 3 * time.Hour

// DefaultRetention is how long stale partitions are kept before purging.
const DefaultRetention = 30 * 24 * time.Hour

var (
	ErrUnknownDriver = errors.New("alarmstore: unknown driver")
	ErrInvalidAlarm  = errors.New("alarmstore: invalid alarm")
)

// Alarm is one scheduled notification. It is never mutated after creation.
type Alarm struct {
	ScheduledTime EpochMillis `json:"scheduledTime"`
	Message       string      `json:"message"`
}

// Time returns the alarm's fire time.
func (a Alarm) Time() time.Time { return time.UnixMilli(int64(a.ScheduledTime)) }

// Block returns the start of the block the alarm belongs to, in epoch ms.
func (a Alarm) Block() int64 { return BlockStart(int64(a.ScheduledTime)) }

// Handle identifies one persisted alarm record.
type Handle struct {
	Subscriber    string
	Block         int64
	ScheduledTime int64
}

// HandleFor derives the record handle of an alarm.
func HandleFor(subscriber string, a Alarm) Handle {
	ts := int64(a.ScheduledTime)
	return Handle{Subscriber: subscriber, Block: BlockStart(ts), ScheduledTime: ts}
}

// Store is the durable alarm record store.
type Store interface {
	// Save persists one alarm. Saving the same key twice overwrites it.
	Save(ctx context.Context, subscriber string, a Alarm) (Handle, error)
	// Load returns the alarm, or false if the record no longer exists.
	Load(ctx context.Context, h Handle) (Alarm, bool, error)
	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context, h Handle) error
	// FindAllForSubscriber lists every record of one subscriber.
	FindAllForSubscriber(ctx context.Context, subscriber string) ([]Handle, error)
	// FindBlock lists one subscriber's records in one block.
	FindBlock(ctx context.Context, subscriber string, block int64) ([]Handle, error)
	// PurgeOlderThan drops partitions whose whole range ends at or before
	// cutoff and returns how many partitions were removed.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// BlockStart returns the start of the block containing ts (epoch ms).
func BlockStart(ts int64) int64 {
	width := BlockWidth.Milliseconds()
	return ts - mod(ts, width)
}

func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// SubscriberKey turns an endpoint into a short, filesystem-safe key.
func SubscriberKey(subscriber string) string {
	sum := sha256.Sum256([]byte(subscriber))
	return hex.EncodeToString(sum[:16])
}

// dayStart truncates t to the UTC calendar day.
func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func validate(subscriber string, a Alarm) error {
	if strings.TrimSpace(subscriber) == "" {
		return fmt.Errorf("%w: empty subscriber", ErrInvalidAlarm)
	}
	if a.ScheduledTime <= 0 {
		return fmt.Errorf("%w: scheduledTime %d", ErrInvalidAlarm, a.ScheduledTime)
	}
	return nil
}

// --------------------------------------------------------------------------
// EpochMillis
// --------------------------------------------------------------------------

// EpochMillis is a Unix time in milliseconds. It decodes from a JSON number
// or a numeric string, since browsers send either.
type EpochMillis int64

func (m *EpochMillis) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*m = 0
		return nil
	}
	if unq, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unq)
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*m = EpochMillis(n)
		return nil
	}
	var f float64
	if err := json.Unmarshal([]byte(s), &f); err != nil {
		return fmt.Errorf("scheduledTime %s: not an epoch millisecond value", string(b))
	}
	*m = EpochMillis(int64(f))
	return nil
}
