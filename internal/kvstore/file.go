package kvstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

// FileStore keeps one file per key under a directory. Writes go to a temp
// file that is renamed into place.
type FileStore struct {
	fs  afero.Fs
	dir string
	mu  sync.Mutex
}

// NewFileStore creates the directory if needed.
func NewFileStore(fsys afero.Fs, dir string) (*FileStore, error) {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create kv dir %s: %w", dir, err)
	}
	return &FileStore{fs: fsys, dir: dir}, nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, url.PathEscape(key)+".json")
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := afero.ReadFile(s.fs, s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %q: %w", key, err)
	}
	return data, true, nil
}

func (s *FileStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.path(key)
	tmp := path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, value, 0o600); err != nil {
		return fmt.Errorf("write %q: %w", key, err)
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("commit %q: %w", key, err)
	}
	return nil
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.fs.Remove(s.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

func (s *FileStore) Ping(ctx context.Context) error {
	_ = ctx
	_, err := s.fs.Stat(s.dir)
	return err
}

func (s *FileStore) Close() error { return nil }
