package msgrate

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

const (
	// EventAccepted is the event type for an action that was admitted and recorded.
	EventAccepted = "ACCEPTED"
	// EventRejected is the event type for an action that was refused.
	EventRejected = "REJECTED"
)

// ErrPublishBufferFull is returned when a publisher cannot queue another event.
var ErrPublishBufferFull = errors.New("publish buffer full")

// RateEvent describes one admission decision.
type RateEvent struct {
	ID         string        `json:"id"`          // Unique ID of the event
	GuardID    string        `json:"guard_id"`    // ID of the Guard that decided
	Event      string        `json:"event"`       // EventAccepted or EventRejected
	Policy     string        `json:"policy"`      // e.g. "sliding_window", "throttle"
	Key        string        `json:"key"`         // The identity, e.g. user ID or IP
	Timestamp  time.Time     `json:"timestamp"`   // When the decision was made
	RetryAfter time.Duration `json:"retry_after"` // Wait reported to the caller
}

// MarshalBinary lets go-redis store the event directly.
func (e RateEvent) MarshalBinary() ([]byte, error) {
	return json.Marshal(e)
}

// EventPublisher ships decision events somewhere else, e.g. Redis or Kafka.
// Publish must not block admission for long; implementations queue or send asynchronously.
type EventPublisher interface {
	Publish(ctx context.Context, event RateEvent) error
}
