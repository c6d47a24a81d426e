package alarmstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteStore keeps alarms in an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps a database opened with db.OpenSQLite.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Save(ctx context.Context, subscriber string, a Alarm) (Handle, error) {
	if err := validate(subscriber, a); err != nil {
		return Handle{}, err
	}
	h := HandleFor(subscriber, a)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO push_alarms (subscriber, block_start, scheduled_time, day, message)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (subscriber, block_start, scheduled_time) DO UPDATE SET message = excluded.message`,
		h.Subscriber, h.Block, h.ScheduledTime, dayKey(h.ScheduledTime), a.Message)
	if err != nil {
		return Handle{}, fmt.Errorf("save alarm: %w", err)
	}
	return h, nil
}

func (s *SQLiteStore) Load(ctx context.Context, h Handle) (Alarm, bool, error) {
	var msg string
	err := s.db.QueryRowContext(ctx,
		`SELECT message FROM push_alarms WHERE subscriber = ? AND block_start = ? AND scheduled_time = ?`,
		h.Subscriber, h.Block, h.ScheduledTime).Scan(&msg)
	if errors.Is(err, sql.ErrNoRows) {
		return Alarm{}, false, nil
	}
	if err != nil {
		return Alarm{}, false, fmt.Errorf("load alarm: %w", err)
	}
	return Alarm{ScheduledTime: EpochMillis(h.ScheduledTime), Message: msg}, true, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, h Handle) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM push_alarms WHERE subscriber = ? AND block_start = ? AND scheduled_time = ?`,
		h.Subscriber, h.Block, h.ScheduledTime)
	if err != nil {
		return fmt.Errorf("delete alarm: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FindAllForSubscriber(ctx context.Context, subscriber string) ([]Handle, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT block_start, scheduled_time FROM push_alarms WHERE subscriber = ? ORDER BY scheduled_time`,
		subscriber)
	if err != nil {
		return nil, fmt.Errorf("find alarms: %w", err)
	}
	return scanSQLHandles(rows, subscriber)
}

func (s *SQLiteStore) FindBlock(ctx context.Context, subscriber string, block int64) ([]Handle, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT block_start, scheduled_time FROM push_alarms WHERE subscriber = ? AND block_start = ? ORDER BY scheduled_time`,
		subscriber, block)
	if err != nil {
		return nil, fmt.Errorf("find block alarms: %w", err)
	}
	return scanSQLHandles(rows, subscriber)
}

func (s *SQLiteStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	last := lastPurgeableDay(cutoff)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin purge: %w", err)
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRowContext(ctx,
		`SELECT count(DISTINCT day) FROM push_alarms WHERE day <= ?`, last).Scan(&n); err != nil {
		return 0, fmt.Errorf("count purge partitions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM push_alarms WHERE day <= ?`, last); err != nil {
		return 0, fmt.Errorf("purge alarms: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit purge: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close is a no-op; the database handle is owned by the caller.
func (s *SQLiteStore) Close() error { return nil }

func scanSQLHandles(rows *sql.Rows, subscriber string) ([]Handle, error) {
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
