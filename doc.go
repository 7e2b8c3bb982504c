/*
Package msgrate provides per-identity admission control for a stream of actions, such as
messages sent by users, and the plumbing to use it inside a service.

Two policies live in the limiter package and can be used on their own:
  - SlidingWindow (https://github.com/parkerroan/msgrate/limiter) allows at most N actions
    per key in any trailing window.
  - Throttle (https://github.com/parkerroan/msgrate/limiter) allows one action per key
    every minimum interval.

A Guard wraps either policy, records Prometheus metrics, and emits a RateEvent for every
decision to an optional EventPublisher (Redis stream or Kafka topic). Events are an audit
trail only; they are never read back into a limiter.

Example:

	import (
		"time"
		"github.com/parkerroan/msgrate"
		"github.com/parkerroan/msgrate/limiter"
	)

	sw, err := limiter.NewSlidingWindow(10*time.Second, 1)
	if err != nil {
		return err
	}
	guard := msgrate.NewGuard(sw)

	allowed, info := guard.Allow(ctx, "user-1")
	if !allowed {
		// info.RetryAfter tells how long user-1 has to wait
	}

HTTPMiddleware and GinMiddleware answer rejected requests with 429 and Retry-After.
*/
package msgrate
