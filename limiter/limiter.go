// Package limiter implements per-key admission policies: a sliding window that bounds
// the number of actions in any trailing window, and a throttle that enforces a minimum
// interval between accepted actions.
package limiter

import (
	"errors"
	"time"
)

// ErrInvalidConfiguration is returned by the constructors when a numeric
// parameter is outside of its domain.
var ErrInvalidConfiguration = errors.New("invalid limiter configuration")

// Clock returns the current time. Limiters read it once per operation.
type Clock func() time.Time

// Limiter is the admission contract shared by the sliding window and the throttle.
// All methods are safe for concurrent use.
type Limiter interface {
	// CanSend reports whether an action for key would be admitted now.
	CanSend(key string) bool
	// Record admits and records an action for key if CanSend holds.
	// The check and the mutation happen atomically per key.
	Record(key string) bool
	// RecordWithInfo is Record that also reports the limit state after the decision.
	RecordWithInfo(key string) (bool, Info)
	// TimeUntilNextAllowed returns how long key has to wait before an action is admitted.
	// It is zero exactly when CanSend would return true.
	TimeUntilNextAllowed(key string) time.Duration
	// LimitDetails returns the number of actions allowed per window and the window.
	LimitDetails() (int, time.Duration)
}

// Info describes the state of a key right after a decision.
type Info struct {
	Limit      int           // Actions allowed per window
	Remaining  int           // Actions still admissible right now
	RetryAfter time.Duration // Zero when the next action would be admitted
	Window     time.Duration // Window or minimum interval of the policy
}
