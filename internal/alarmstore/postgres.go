package alarmstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps alarms in the push_alarms table. The day column plays
// the role of the date partition.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps a pool whose connections carry the prepared
// alarm_* statements.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Save(ctx context.Context, subscriber string, a Alarm) (Handle, error) {
	if err := validate(subscriber, a); err != nil {
		return Handle{}, err
	}
	h := HandleFor(subscriber, a)
	_, err := s.pool.Exec(ctx, "alarm_save",
		h.Subscriber, h.Block, h.ScheduledTime, dayKey(h.ScheduledTime), a.Message)
	if err != nil {
		return Handle{}, fmt.Errorf("save alarm: %w", err)
	}
	return h, nil
}

func (s *PostgresStore) Load(ctx context.Context, h Handle) (Alarm, bool, error) {
	var msg string
	err := s.pool.QueryRow(ctx, "alarm_load", h.Subscriber, h.Block, h.ScheduledTime).Scan(&msg)
	if errors.Is(err, pgx.ErrNoRows) {
		return Alarm{}, false, nil
	}
	if err != nil {
		return Alarm{}, false, fmt.Errorf("load alarm: %w", err)
	}
	return Alarm{ScheduledTime: EpochMillis(h.ScheduledTime), Message: msg}, true, nil
}

func (s *PostgresStore) Delete(ctx context.Context, h Handle) error {
	if _, err := s.pool.Exec(ctx, "alarm_delete", h.Subscriber, h.Block, h.ScheduledTime); err != nil {
		return fmt.Errorf("delete alarm: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindAllForSubscriber(ctx context.Context, subscriber string) ([]Handle, error) {
	rows, err := s.pool.Query(ctx, "alarm_find_subscriber", subscriber)
	if err != nil {
		return nil, fmt.Errorf("find alarms: %w", err)
	}
	return collectHandles(rows, subscriber)
}

func (s *PostgresStore) FindBlock(ctx context.Context, subscriber string, block int64) ([]Handle, error) {
	rows, err := s.pool.Query(ctx, "alarm_find_block", subscriber, block)
	if err != nil {
		return nil, fmt.Errorf("find block alarms: %w", err)
	}
	return collectHandles(rows, subscriber)
}

func (s *PostgresStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "alarm_purge", lastPurgeableDay(cutoff)).Scan(&n); err != nil {
		return 0, fmt.Errorf("purge alarms: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	var n int
	return s.pool.QueryRow(ctx, "health_check").Scan(&n)
}

// Close is a no-op; the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

func collectHandles(rows pgx.Rows, subscriber string) ([]Handle, error) {
	defer rows.Close()
	var out []Handle
	for rows.Next() {
		h := Handle{Subscriber: subscriber}
		if err := rows.Scan(&h.Block, &h.ScheduledTime); err != nil {
			return nil, fmt.Errorf("scan alarm: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// dayKey is the UTC date partition of an epoch-ms timestamp.
func dayKey(ts int64) string {
	return time.UnixMilli(ts).UTC().Format(dateLayout)
}

// lastPurgeableDay is the latest day whose partition ends at or before cutoff.
func lastPurgeableDay(cutoff time.Time) string {
	return dayStart(cutoff.Add(-24 * time.Hour)).Format(dateLayout)
}
