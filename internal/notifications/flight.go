package notifications

import (
	"context"
	"sync"
)

// flightGroup is a keyed mutex: at most one holder per subscriber. Entries
// are dropped when the last waiter leaves.
type flightGroup struct {
	mu sync.Mutex
	m  map[string]*flight
}

type flight struct {
	sem  chan struct{}
	refs int
}

func newFlightGroup() *flightGroup {
	return &flightGroup{m: make(map[string]*flight)}
}

// Lock blocks until key is free or ctx is done. The returned func releases
// the lock and is safe to call more than once.
func (g *flightGroup) Lock(ctx context.Context, key string) (func(), error) {
	g.mu.Lock()
	f, ok := g.m[key]
	if !ok {
		f = &flight{sem: make(chan struct{}, 1)}
		g.m[key] = f
	}
	f.refs++
	g.mu.Unlock()

	select {
	case f.sem <- struct{}{}:
	case <-ctx.Done():
		g.leave(key, f)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-f.sem
			g.leave(key, f)
		})
	}, nil
}

// Len reports how many keys are held or awaited.
func (g *flightGroup) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.m)
}

func (g *flightGroup) leave(key string, f *flight) {
	g.mu.Lock()
	defer g.mu.Unlock()
	f.refs--
	if f.refs == 0 {
		delete(g.m, key)
	}
}
