package timers

import (
	"sync"
	"time"
)

const (
	// MaxDelay is the longest single timer the scheduler arms. Longer waits
	// are chained. It matches the 32-bit millisecond limit of browser and
	// Node timers so chained behaviour stays observable.
	MaxDelay = (1<<31 - 1) * time.Millisecond

	// MinDelay is the floor applied to targets that are due or past, so the
	// caller unwinds before the callback runs.
	MinDelay = 10 * time.Millisecond

	// NearThreshold is the distance under which a target counts as due.
	NearThreshold = 500 * time.Millisecond
)

// Key identifies a group of timers: one subscriber in one time block.
type Key struct {
	Subscriber string
	Block      int64
}

// Stats is a point-in-time count of tracked timers.
type Stats struct {
	Groups  int `json:"groups"`
	Loaders int `json:"loaders"`
	Direct  int `json:"direct"`
}

// Handle controls one scheduled callback, including every link of a chain.
type Handle struct {
	mu     sync.Mutex
	target time.Time
	link   Timer
	links  int
	done   bool
}

// Target returns the absolute time the callback is due.
func (h *Handle) Target() time.Time { return h.target }

// Done reports whether the callback has fired or been cancelled.
func (h *Handle) Done() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.done
}

// Links reports how many platform timers have been armed for this handle.
func (h *Handle) Links() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.links
}

// Cancel stops the current link of the chain and prevents any further link
// from being armed. It returns false if the callback already fired or the
// handle was already cancelled.
func (h *Handle) Cancel() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return false
	}
	h.done = true
	if h.link != nil {
		h.link.Stop()
	}
	return true
}

type group struct {
	loader *Handle
	direct map[*Handle]struct{}
}

// Scheduler arms callbacks at absolute times and tracks grouped handles.
type Scheduler struct {
	clock    Clock
	maxDelay time.Duration

	mu     sync.Mutex
	groups map[Key]*group
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMaxDelay overrides MaxDelay. Used by tests to exercise chaining.
func WithMaxDelay(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.maxDelay = d
		}
	}
}

// New creates a Scheduler on the given clock.
func New(clock Clock, opts ...Option) *Scheduler {
	if clock == nil {
		clock = RealClock()
	}
	s := &Scheduler{
		clock:    clock,
		maxDelay: MaxDelay,
		groups:   make(map[Key]*group),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the scheduler's current time.
func (s *Scheduler) Now() time.Time { return s.clock.Now() }

// ScheduleAt runs fn at target. The handle is not tracked in any group.
func (s *Scheduler) ScheduleAt(target time.Time, fn func()) *Handle {
	h := &Handle{target: target}
	s.arm(h, fn)
	return h
}

// arm installs the next link for h: a floor delay when the target is due,
// a MaxDelay link that re-arms when the target is too far away, or the
// exact remaining delay.
func (s *Scheduler) arm(h *Handle, fn func()) {
	delay := h.target.Sub(s.clock.Now())
	wait := delay
	chained := false
	switch {
	case delay <= NearThreshold:
		wait = max(MinDelay, delay)
	case delay > s.maxDelay:
		wait = s.maxDelay
		chained = true
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return
	}
	h.links++
	h.link = s.clock.AfterFunc(wait, func() {
		if chained {
			s.arm(h, fn)
			return
		}
		h.mu.Lock()
		if h.done {
			h.mu.Unlock()
			return
		}
		h.done = true
		h.mu.Unlock()
		fn()
	})
}

// ScheduleDirect runs fn at target and tracks the handle under key.
func (s *Scheduler) ScheduleDirect(key Key, target time.Time, fn func()) *Handle {
	h := &Handle{target: target}

	s.mu.Lock()
	g := s.groupLocked(key)
	g.direct[h] = struct{}{}
	s.mu.Unlock()

	s.arm(h, func() {
		s.untrack(key, h)
		fn()
	})
	return h
}

// ScheduleLoader installs the loader timer for key unless a live one exists.
// It returns the live handle and whether a new one was installed.
func (s *Scheduler) ScheduleLoader(key Key, target time.Time, fn func()) (*Handle, bool) {
	s.mu.Lock()
	g := s.groupLocked(key)
	if g.loader != nil && !g.loader.Done() {
		existing := g.loader
		s.mu.Unlock()
		return existing, false
	}
	h := &Handle{target: target}
	g.loader = h
	s.mu.Unlock()

	s.arm(h, func() {
		s.untrack(key, h)
		fn()
	})
	return h, true
}

// HasLoader reports whether a live loader timer exists for key.
func (s *Scheduler) HasLoader(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[key]
	return ok && g.loader != nil && !g.loader.Done()
}

// DirectCount reports the live direct timers tracked under key.
func (s *Scheduler) DirectCount(key Key) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[key]
	if !ok {
		return 0
	}
	return len(g.direct)
}

// CancelBlock cancels every timer tracked under key and returns the count.
func (s *Scheduler) CancelBlock(key Key) int {
	s.mu.Lock()
	g, ok := s.groups[key]
	delete(s.groups, key)
	s.mu.Unlock()
	if !ok {
		return 0
	}
	return g.cancel()
}

// CancelSubscriber cancels every timer of one subscriber across all blocks.
func (s *Scheduler) CancelSubscriber(subscriber string) int {
	s.mu.Lock()
	var victims []*group
	for key, g := range s.groups {
		if key.Subscriber == subscriber {
			victims = append(victims, g)
			delete(s.groups, key)
		}
	}
	s.mu.Unlock()

	n := 0
	for _, g := range victims {
		n += g.cancel()
	}
	return n
}

// CancelAll cancels every tracked timer. Used on shutdown.
func (s *Scheduler) CancelAll() int {
	s.mu.Lock()
	groups := s.groups
	s.groups = make(map[Key]*group)
	s.mu.Unlock()

	n := 0
	for _, g := range groups {
		n += g.cancel()
	}
	return n
}

// Stats counts the tracked timers.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{Groups: len(s.groups)}
	for _, g := range s.groups {
		if g.loader != nil && !g.loader.Done() {
			st.Loaders++
		}
		st.Direct += len(g.direct)
	}
	return st
}

func (s *Scheduler) groupLocked(key Key) *group {
	g, ok := s.groups[key]
	if !ok {
		g = &group{direct: make(map[*Handle]struct{})}
		s.groups[key] = g
	}
	return g
}

func (s *Scheduler) untrack(key Key, h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[key]
	if !ok {
		return
	}
	if g.loader == h {
		g.loader = nil
	}
	delete(g.direct, h)
	if g.loader == nil && len(g.direct) == 0 {
		delete(s.groups, key)
	}
}

func (g *group) cancel() int {
	n := 0
	if g.loader != nil && g.loader.Cancel() {
		n++
	}
	for h := range g.direct {
		if h.Cancel() {
			n++
		}
	}
	return n
}
