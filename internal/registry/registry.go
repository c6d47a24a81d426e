// Package registry keeps the set of known push subscriptions, keyed by
// endpoint, in memory and mirrors every change to a key/value store.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cnutodo/pushsched/internal/kvstore"
	"github.com/cnutodo/pushsched/internal/push"
)

// StorageKey is the key the whole collection is persisted under.
const StorageKey = "subscriptions"

// Registry is safe for concurrent use. The list keeps insertion order.
type Registry struct {
	store  kvstore.Store
	logger *slog.Logger

	mu   sync.RWMutex
	subs []push.Subscription
}

func New(store kvstore.Store, logger *slog.Logger) *Registry {
	return &Registry{store: store, logger: logger}
}

// Load replaces the in-memory list with the persisted one. A missing key
// yields an empty registry.
func (r *Registry) Load(ctx context.Context) error {
	var subs []push.Subscription
	if _, err := kvstore.GetJSON(ctx, r.store, StorageKey, &subs); err != nil {
		return fmt.Errorf("load subscriptions: %w", err)
	}

	// Collapse duplicates left by older writers; the later entry wins.
	seen := make(map[string]int, len(subs))
	out := subs[:0]
	for _, s := range subs {
		if s.Endpoint == "" {
			continue
		}
		if i, ok := seen[s.Endpoint]; ok {
			out[i] = s
			continue
		}
		seen[s.Endpoint] = len(out)
		out = append(out, s)
	}

	r.mu.Lock()
	r.subs = out
	r.mu.Unlock()

	r.logger.Info("subscriptions loaded", "count", len(out))
	return nil
}

// Upsert adds sub, or replaces the entry with the same endpoint in place.
// created reports whether the endpoint was new.
func (r *Registry) Upsert(ctx context.Context, sub push.Subscription) (created bool, err error) {
	if err := sub.Validate(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next := make([]push.Subscription, len(r.subs), len(r.subs)+1)
	copy(next, r.subs)
	created = true
	for i := range next {
		if next[i].Endpoint == sub.Endpoint {
			next[i] = sub
			created = false
			break
		}
	}
	if created {
		next = append(next, sub)
	}

	if err := r.persistLocked(ctx, next); err != nil {
		return false, err
	}
	r.subs = next
	return created, nil
}

// Remove deletes the subscription with the given endpoint. It reports false
// when the endpoint was unknown; nothing is written in that case.
func (r *Registry) Remove(ctx context.Context, endpoint string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1
	for i := range r.subs {
		if r.subs[i].Endpoint == endpoint {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, nil
	}

	next := make([]push.Subscription, 0, len(r.subs)-1)
	next = append(next, r.subs[:idx]...)
	next = append(next, r.subs[idx+1:]...)

	if err := r.persistLocked(ctx, next); err != nil {
		return false, err
	}
	r.subs = next
	return true, nil
}

// Get returns the subscription for endpoint.
func (r *Registry) Get(endpoint string) (push.Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.subs {
		if s.Endpoint == endpoint {
			return s, true
		}
	}
	return push.Subscription{}, false
}

// List returns a copy of all subscriptions.
func (r *Registry) List() []push.Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]push.Subscription, len(r.subs))
	copy(out, r.subs)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Ping checks the backing store.
func (r *Registry) Ping(ctx context.Context) error { return r.store.Ping(ctx) }

// persistLocked writes the whole list. An empty registry drops the key.
func (r *Registry) persistLocked(ctx context.Context, subs []push.Subscription) error {
	if len(subs) == 0 {
		if err := r.store.Delete(ctx, StorageKey); err != nil {
			return fmt.Errorf("persist subscriptions: %w", err)
		}
		return nil
	}
	if err := kvstore.SetJSON(ctx, r.store, StorageKey, subs); err != nil {
		return fmt.Errorf("persist subscriptions: %w", err)
	}
	return nil
}
