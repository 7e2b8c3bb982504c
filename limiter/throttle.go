package limiter

import (
	"fmt"
	"sync"
	"time"
)

// Throttle admits at most one action per key every minInterval, measured from the
// last accepted action. A key that has never acted is always admitted.
type Throttle struct {
	minInterval time.Duration
	clock       Clock
	shards      []*throttleShard
}

type throttleShard struct {
	mu   sync.Mutex
	last map[string]time.Time
}

var _ Limiter = (*Throttle)(nil)

// NewThrottle returns a Throttle enforcing minInterval between accepted actions.
func NewThrottle(minInterval time.Duration, opts ...Option) (*Throttle, error) {
	if minInterval < 0 {
		return nil, fmt.Errorf("%w: min interval must not be negative, got %v", ErrInvalidConfiguration, minInterval)
	}

	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}

	shards := make([]*throttleShard, o.shards)
	for i := range shards {
		shards[i] = &throttleShard{last: make(map[string]time.Time)}
	}

	return &Throttle{
		minInterval: minInterval,
		clock:       o.clock,
		shards:      shards,
	}, nil
}

// CanSend reports whether minInterval has passed since the last accepted action of key.
func (t *Throttle) CanSend(key string) bool {
	s := t.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	return t.waitLocked(s, key, t.clock()) == 0
}

// Record admits an action for key and stores its time when the interval has passed.
func (t *Throttle) Record(key string) bool {
	ok, _ := t.RecordWithInfo(key)
	return ok
}

// RecordWithInfo is Record returning the state of key after the decision.
func (t *Throttle) RecordWithInfo(key string) (bool, Info) {
	s := t.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := t.clock()
	accepted := t.waitLocked(s, key, now) == 0
	if accepted {
		s.last[key] = now
	}

	info := Info{
		Limit:      1,
		RetryAfter: t.waitLocked(s, key, now),
		Window:     t.minInterval,
	}
	if info.RetryAfter == 0 {
		info.Remaining = 1
	}

	return accepted, info
}

// TimeUntilNextAllowed returns how much of minInterval is left for key.
func (t *Throttle) TimeUntilNextAllowed(key string) time.Duration {
	s := t.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	return t.waitLocked(s, key, t.clock())
}

// LimitDetails returns one action per minimum interval.
func (t *Throttle) LimitDetails() (int, time.Duration) {
	return 1, t.minInterval
}

// Len returns the number of keys with a stored last action.
func (t *Throttle) Len() int {
	n := 0
	for _, s := range t.shards {
		s.mu.Lock()
		n += len(s.last)
		s.mu.Unlock()
	}
	return n
}

// Sweep removes keys whose last action is at least minInterval old. Such keys would be
// admitted with or without their entry, so sweeping never changes a decision.
// It returns the number of keys removed.
func (t *Throttle) Sweep() int {
	removed := 0
	for _, s := range t.shards {
		s.mu.Lock()
		now := t.clock()
		for key, last := range s.last {
			if now.Sub(last) >= t.minInterval {
				delete(s.last, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Reset forgets the last action of key.
func (t *Throttle) Reset(key string) {
	s := t.shard(key)
	s.mu.Lock()
	delete(s.last, key)
	s.mu.Unlock()
}

func (t *Throttle) shard(key string) *throttleShard {
	return t.shards[shardIndex(key, len(t.shards))]
}

// waitLocked returns max(0, minInterval - elapsed). Caller must hold s.mu.
func (t *Throttle) waitLocked(s *throttleShard, key string, now time.Time) time.Duration {
	last, ok := s.last[key]
	if !ok {
		return 0
	}

	wait := t.minInterval - now.Sub(last)
	if wait < 0 {
		return 0
	}
	return wait
}
