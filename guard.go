package msgrate

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/parkerroan/msgrate/limiter"
	"golang.org/x/exp/slog"
)

// Policy labels used in metrics and events.
const (
	PolicySlidingWindow = "sliding_window"
	PolicyThrottle      = "throttle"
	PolicyCustom        = "custom"
)

// Sweeper is implemented by limiters that can drop state which no longer affects decisions.
type Sweeper interface {
	Sweep() int
	Len() int
}

// Guard is the entry point used by services. It delegates decisions to a limiter.Limiter
// and reports every decision to metrics, logs, and an optional EventPublisher.
type Guard struct {
	id        string
	policy    string
	limiter   limiter.Limiter
	publisher EventPublisher
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewGuard creates a Guard around l.
func NewGuard(l limiter.Limiter, opts ...func(*Guard)) *Guard {
	g := &Guard{
		id:      uuid.NewString(),
		policy:  policyName(l),
		limiter: l,
		logger:  slog.Default(),
		now:     time.Now,
	}

	// Apply all provided options
	for _, opt := range opts {
		opt(g)
	}

	return g
}

// WithPublisher sets where decision events are sent. No events are sent by default.
func WithPublisher(p EventPublisher) func(*Guard) {
	return func(g *Guard) {
		g.publisher = p
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *Metrics) func(*Guard) {
	return func(g *Guard) {
		g.metrics = m
	}
}

// WithLogger sets the logger, default: slog.Default().
func WithLogger(l *slog.Logger) func(*Guard) {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithPolicyName overrides the policy label used in metrics and events.
func WithPolicyName(name string) func(*Guard) {
	return func(g *Guard) {
		g.policy = name
	}
}

// WithEventClock sets the clock used to timestamp events. It should match the limiter's clock.
func WithEventClock(clock limiter.Clock) func(*Guard) {
	return func(g *Guard) {
		if clock != nil {
			g.now = clock
		}
	}
}

// ID returns the unique ID of this Guard, carried by every event it emits.
func (g *Guard) ID() string {
	return g.id
}

// Policy returns the policy label.
func (g *Guard) Policy() string {
	return g.policy
}

// Limiter returns the underlying limiter.
func (g *Guard) Limiter() limiter.Limiter {
	return g.limiter
}

// Allow records an action for key if the policy admits it. Publishing the decision is
// best effort; a failing publisher never changes the outcome.
func (g *Guard) Allow(ctx context.Context, key string) (bool, limiter.Info) {
	start := time.Now()
	allowed, info := g.limiter.RecordWithInfo(key)
	g.metrics.observeDecision(g.policy, allowed, info.RetryAfter, time.Since(start))

	if !allowed {
		g.logger.Debug("action rejected",
			slog.String("key", key),
			slog.String("policy", g.policy),
			slog.Duration("retry_after", info.RetryAfter),
		)
	}

	if g.publisher != nil {
		event := RateEvent{
			ID:         uuid.NewString(),
			GuardID:    g.id,
			Event:      EventAccepted,
			Policy:     g.policy,
			Key:        key,
			Timestamp:  g.now(),
			RetryAfter: info.RetryAfter,
		}
		if !allowed {
			event.Event = EventRejected
		}

		if err := g.publisher.Publish(ctx, event); err != nil {
			g.metrics.observePublishError(g.policy)
			g.logger.Error("error publishing rate event", slog.Any("error", err.Error()))
		}
	}

	return allowed, info
}

// Check reports whether an action for key would be admitted now, without recording it.
func (g *Guard) Check(key string) bool {
	return g.limiter.CanSend(key)
}

// Wait returns how long key has to wait before its next action is admitted.
func (g *Guard) Wait(key string) time.Duration {
	return g.limiter.TimeUntilNextAllowed(key)
}

// Sweep drops stale limiter state if the limiter supports it and returns the number
// of keys removed. It is meant to be called by the host, e.g. from a ticker.
func (g *Guard) Sweep() int {
	s, ok := g.limiter.(Sweeper)
	if !ok {
		return 0
	}

	removed := s.Sweep()
	tracked := s.Len()
	g.metrics.observeTrackedKeys(g.policy, tracked)
	g.logger.Debug("swept limiter state",
		slog.String("policy", g.policy),
		slog.Int("removed", removed),
		slog.Int("tracked", tracked),
	)

	return removed
}

func policyName(l limiter.Limiter) string {
	switch l.(type) {
	case *limiter.SlidingWindow:
		return PolicySlidingWindow
	case *limiter.Throttle:
		return PolicyThrottle
	default:
		return PolicyCustom
	}
}
