package limiter

import (
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

// DefaultShards is the number of lock shards used when WithShards is not given.
const DefaultShards = 32

type options struct {
	clock  Clock
	shards int
}

// Option configures a SlidingWindow or a Throttle.
type Option func(*options)

// WithClock sets the time source. Defaults to time.Now.
func WithClock(clock Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithShards sets how many independently locked partitions the key space is split into.
// A single shard serializes every key behind one mutex.
func WithShards(n int) Option {
	return func(o *options) {
		o.shards = n
	}
}

func buildOptions(opts []Option) (options, error) {
	o := options{
		clock:  time.Now,
		shards: DefaultShards,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if o.shards < 1 {
		return o, fmt.Errorf("%w: shards must be at least 1, got %d", ErrInvalidConfiguration, o.shards)
	}

	return o, nil
}

// shardIndex maps a key onto one of n shards.
func shardIndex(key string, n int) int {
	if n == 1 {
		return 0
	}
	return int(xxhash.Sum64String(key) % uint64(n))
}
