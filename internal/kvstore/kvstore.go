// Package kvstore is a small key/value persistence layer. Each key holds one
// JSON document, such as the whole subscription collection.
package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
)

// Store persists opaque values under string keys.
type Store interface {
	// Get returns the value, or false if the key has never been set.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// GetJSON decodes the value stored under key into v. It reports false when
// the key is missing, leaving v untouched.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	data, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	return s.Set(ctx, key, data)
}
