package alarmstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
)

const (
	dateLayout = "2006-01-02"
	hourLayout = "15"
	recordExt  = ".json"
)

var (
	dateDirRe = regexp.MustCompile(`^\d{4,}-\d{2}-\d{2}$`)
	hourDirRe = regexp.MustCompile(`^\d{2}$`)
)

// FileStore keeps one JSON file per alarm under
// <root>/YYYY-MM-DD/HH/<subscriberKey>-<blockStart>-<scheduledTime>.json,
// with the day and hour taken from the alarm's UTC fire time.
type FileStore struct {
	fs   afero.Fs
	root string

	// Serializes writers against purges of the same tree.
	mu sync.RWMutex
}

// NewFileStore creates a store rooted at root on the given filesystem.
func NewFileStore(fsys afero.Fs, root string) (*FileStore, error) {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if err := fsys.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create alarm root %s: %w", root, err)
	}
	return &FileStore{fs: fsys, root: root}, nil
}

// Path returns the file path a handle maps to.
func (s *FileStore) Path(h Handle) string {
	t := time.UnixMilli(h.ScheduledTime).UTC()
	name := fmt.Sprintf("%s-%d-%d%s", SubscriberKey(h.Subscriber), h.Block, h.ScheduledTime, recordExt)
	return filepath.Join(s.root, t.Format(dateLayout), t.Format(hourLayout), name)
}

func (s *FileStore) Save(ctx context.Context, subscriber string, a Alarm) (Handle, error) {
	if err := validate(subscriber, a); err != nil {
		return Handle{}, err
	}
	if err := ctx.Err(); err != nil {
		return Handle{}, err
	}
	h := HandleFor(subscriber, a)
	path := s.Path(h)

	data, err := json.Marshal(a)
	if err != nil {
		return Handle{}, fmt.Errorf("encode alarm: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Handle{}, fmt.Errorf("create partition: %w", err)
	}
	tmp := path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o600); err != nil {
		return Handle{}, fmt.Errorf("write alarm: %w", err)
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		_ = s.fs.Remove(tmp)
		return Handle{}, fmt.Errorf("commit alarm: %w", err)
	}
	return h, nil
}

func (s *FileStore) Load(ctx context.Context, h Handle) (Alarm, bool, error) {
	if err := ctx.Err(); err != nil {
		return Alarm{}, false, err
	}
	data, err := afero.ReadFile(s.fs, s.Path(h))
	if errors.Is(err, fs.ErrNotExist) {
		return Alarm{}, false, nil
	}
	if err != nil {
		return Alarm{}, false, fmt.Errorf("read alarm: %w", err)
	}
	var a Alarm
	if err := json.Unmarshal(data, &a); err != nil {
		return Alarm{}, false, fmt.Errorf("decode alarm %s: %w", s.Path(h), err)
	}
	return a, true, nil
}

func (s *FileStore) Delete(ctx context.Context, h Handle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.fs.Remove(s.Path(h))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete alarm: %w", err)
	}
	return nil
}

func (s *FileStore) FindAllForSubscriber(ctx context.Context, subscriber string) ([]Handle, error) {
	prefix := SubscriberKey(subscriber) + "-"
	dates, err := s.readDir(s.root)
	if err != nil {
		return nil, err
	}

	var out []Handle
	for _, date := range dates {
		if !date.IsDir() || !dateDirRe.MatchString(date.Name()) {
			continue
		}
		datePath := filepath.Join(s.root, date.Name())
		hours, err := s.readDir(datePath)
		if err != nil {
			return nil, err
		}
		for _, hour := range hours {
			if !hour.IsDir() || !hourDirRe.MatchString(hour.Name()) {
				continue
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			found, err := s.scanHour(filepath.Join(datePath, hour.Name()), subscriber, prefix)
			if err != nil {
				return nil, err
			}
			out = append(out, found...)
		}
	}
	return out, nil
}

func (s *FileStore) FindBlock(ctx context.Context, subscriber string, block int64) ([]Handle, error) {
	prefix := fmt.Sprintf("%s-%d-", SubscriberKey(subscriber), block)
	start := time.UnixMilli(block).UTC()

	var out []Handle
	for t := start; t.Before(start.Add(BlockWidth)); t = t.Add(time.Hour) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dir := filepath.Join(s.root, t.Format(dateLayout), t.Format(hourLayout))
		found, err := s.scanHour(dir, subscriber, prefix)
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}
	return out, nil
}

func (s *FileStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dates, err := s.readDir(s.root)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, date := range dates {
		if !date.IsDir() || !dateDirRe.MatchString(date.Name()) {
			continue
		}
		day, err := time.Parse(dateLayout, date.Name())
		if err != nil {
			continue
		}
		if day.Add(24 * time.Hour).After(cutoff) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if err := s.fs.RemoveAll(filepath.Join(s.root, date.Name())); err != nil {
			return removed, fmt.Errorf("purge %s: %w", date.Name(), err)
		}
		removed++
	}
	return removed, nil
}

func (s *FileStore) Ping(ctx context.Context) error {
	_ = ctx
	_, err := s.fs.Stat(s.root)
	return err
}

func (s *FileStore) Close() error { return nil }

// scanHour lists records in one hour partition whose name starts with prefix.
func (s *FileStore) scanHour(dir, subscriber, prefix string) ([]Handle, error) {
	entries, err := s.readDir(dir)
	if err != nil {
		return nil, err
	}
	var out []Handle
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, recordExt) {
			continue
		}
		block, ts, ok := parseRecordName(name)
		if !ok {
			continue
		}
		out = append(out, Handle{Subscriber: subscriber, Block: block, ScheduledTime: ts})
	}
	return out, nil
}

func (s *FileStore) readDir(dir string) ([]fs.FileInfo, error) {
	entries, err := afero.ReadDir(s.fs, dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	return entries, nil
}

// parseRecordName splits "<key>-<block>-<ts>.json".
func parseRecordName(name string) (block, ts int64, ok bool) {
	parts := strings.Split(strings.TrimSuffix(name, recordExt), "-")
	if len(parts) != 3 {
		return 0, 0, false
	}
	block, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	ts, err = strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return block, ts, true
}
