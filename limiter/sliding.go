package limiter

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Never is returned by TimeUntilNextAllowed when no amount of waiting admits an action,
// which happens for a SlidingWindow configured with zero requests.
const Never = time.Duration(math.MaxInt64)

// SlidingWindow admits at most maxRequests actions per key in any trailing window.
//
// Every key keeps the timestamps of its accepted actions, oldest first. Timestamps older
// than the window are dropped lazily whenever the key is queried, and a key whose history
// becomes empty is removed, so memory is bounded by the keys active within one window.
type SlidingWindow struct {
	window      time.Duration
	maxRequests int
	clock       Clock
	shards      []*windowShard
}

type windowShard struct {
	mu   sync.Mutex
	keys map[string]*history
}

var _ Limiter = (*SlidingWindow)(nil)

// NewSlidingWindow returns a SlidingWindow allowing maxRequests actions per window.
// The window must be positive and maxRequests must not be negative. A limiter with
// zero maxRequests rejects every action.
func NewSlidingWindow(window time.Duration, maxRequests int, opts ...Option) (*SlidingWindow, error) {
	if window <= 0 {
		return nil, fmt.Errorf("%w: window must be positive, got %v", ErrInvalidConfiguration, window)
	}
	if maxRequests < 0 {
		return nil, fmt.Errorf("%w: max requests must not be negative, got %d", ErrInvalidConfiguration, maxRequests)
	}

	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}

	shards := make([]*windowShard, o.shards)
	for i := range shards {
		shards[i] = &windowShard{keys: make(map[string]*history)}
	}

	return &SlidingWindow{
		window:      window,
		maxRequests: maxRequests,
		clock:       o.clock,
		shards:      shards,
	}, nil
}

// CanSend reports whether key has room for another action in the current window.
func (sw *SlidingWindow) CanSend(key string) bool {
	s := sw.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	h := sw.cleanupLocked(s, key, sw.clock())
	return sw.count(h) < sw.maxRequests
}

// Record admits an action for key and appends its timestamp when the window has room.
func (sw *SlidingWindow) Record(key string) bool {
	ok, _ := sw.RecordWithInfo(key)
	return ok
}

// RecordWithInfo is Record returning the window state after the decision.
func (sw *SlidingWindow) RecordWithInfo(key string) (bool, Info) {
	s := sw.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := sw.clock()
	h := sw.cleanupLocked(s, key, now)

	accepted := sw.count(h) < sw.maxRequests
	if accepted {
		if h == nil {
			h = newHistory(sw.maxRequests)
			s.keys[key] = h
		}
		h.push(now)
	}

	return accepted, Info{
		Limit:      sw.maxRequests,
		Remaining:  sw.maxRequests - sw.count(h),
		RetryAfter: sw.waitLocked(h, now),
		Window:     sw.window,
	}
}

// TimeUntilNextAllowed returns the time until the oldest action of key leaves the window,
// or zero if key can act now.
func (sw *SlidingWindow) TimeUntilNextAllowed(key string) time.Duration {
	s := sw.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := sw.clock()
	return sw.waitLocked(sw.cleanupLocked(s, key, now), now)
}

// LimitDetails returns the configured maximum and window.
func (sw *SlidingWindow) LimitDetails() (int, time.Duration) {
	return sw.maxRequests, sw.window
}

// Len returns the number of keys with a non-empty history.
// Histories are pruned on access, so expired keys linger until queried or swept.
func (sw *SlidingWindow) Len() int {
	n := 0
	for _, s := range sw.shards {
		s.mu.Lock()
		n += len(s.keys)
		s.mu.Unlock()
	}
	return n
}

// Sweep prunes every key and removes those left empty. It returns the number of keys removed.
// Decisions are the same whether or not Sweep is ever called.
func (sw *SlidingWindow) Sweep() int {
	removed := 0
	for _, s := range sw.shards {
		s.mu.Lock()
		now := sw.clock()
		for key := range s.keys {
			if sw.cleanupLocked(s, key, now) == nil {
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Reset forgets the history of key.
func (sw *SlidingWindow) Reset(key string) {
	s := sw.shard(key)
	s.mu.Lock()
	delete(s.keys, key)
	s.mu.Unlock()
}

func (sw *SlidingWindow) shard(key string) *windowShard {
	return sw.shards[shardIndex(key, len(sw.shards))]
}

// cleanupLocked prunes the history of key against now and deletes it once empty.
// It returns nil when key has no history left. Caller must hold s.mu.
func (sw *SlidingWindow) cleanupLocked(s *windowShard, key string, now time.Time) *history {
	h, ok := s.keys[key]
	if !ok {
		return nil
	}

	h.prune(now.Add(-sw.window))
	if h.empty() {
		delete(s.keys, key)
		return nil
	}

	return h
}

func (sw *SlidingWindow) count(h *history) int {
	if h == nil {
		return 0
	}
	return h.len
}

// waitLocked expects h to be pruned against now.
func (sw *SlidingWindow) waitLocked(h *history, now time.Time) time.Duration {
	if sw.count(h) < sw.maxRequests {
		return 0
	}
	if h == nil {
		return Never
	}

	wait := sw.window - now.Sub(h.oldest())
	if wait <= 0 {
		// The oldest entry sits exactly on the window edge and is only dropped once
		// it is strictly older than the window.
		return time.Nanosecond
	}
	return wait
}
