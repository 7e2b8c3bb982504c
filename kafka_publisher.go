package msgrate

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"

	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/exp/slog"
)

// defaultKafkaMaxInFlight matches kgo's default MaxBufferedRecords.
const defaultKafkaMaxInFlight = 10_000

// producer is the part of *kgo.Client used by KafkaPublisher.
type producer interface {
	TryProduce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
}

// KafkaPublisher is an EventPublisher that writes every event as a JSON record to a
// Kafka topic. Records are keyed by the identity so that one key stays on one partition.
type KafkaPublisher struct {
	client producer
	topic  string
	logger *slog.Logger

	maxInFlight int64
	inFlight    atomic.Int64
}

// NewKafkaPublisher creates a KafkaPublisher producing to topic.
func NewKafkaPublisher(client *kgo.Client, topic string, opts ...func(*KafkaPublisher)) *KafkaPublisher {
	return newKafkaPublisher(client, topic, opts...)
}

func newKafkaPublisher(client producer, topic string, opts ...func(*KafkaPublisher)) *KafkaPublisher {
	k := &KafkaPublisher{
		client:      client,
		topic:       topic,
		logger:      slog.Default(),
		maxInFlight: defaultKafkaMaxInFlight,
	}

	// Apply all provided options
	for _, opt := range opts {
		opt(k)
	}

	return k
}

// WithKafkaLogger sets the logger, default: slog.Default().
func WithKafkaLogger(l *slog.Logger) func(*KafkaPublisher) {
	return func(k *KafkaPublisher) {
		if l != nil {
			k.logger = l
		}
	}
}

// WithKafkaMaxInFlight sets how many records may wait for a broker acknowledgement
// before Publish fails with ErrPublishBufferFull. Keep it at or below the client's
// MaxBufferedRecords.
func WithKafkaMaxInFlight(n int) func(*KafkaPublisher) {
	return func(k *KafkaPublisher) {
		if n > 0 {
			k.maxInFlight = int64(n)
		}
	}
}

// Publish hands the event to the client without waiting for the broker acknowledgement.
// It never blocks: when too many records are unacknowledged it fails with
// ErrPublishBufferFull. Delivery failures are logged from the produce callback.
func (k *KafkaPublisher) Publish(ctx context.Context, event RateEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if k.inFlight.Add(1) > k.maxInFlight {
		k.inFlight.Add(-1)
		return ErrPublishBufferFull
	}

	record := &kgo.Record{
		Topic: k.topic,
		Key:   []byte(event.Key),
		Value: value,
	}

	// The record outlives the request, so it must not be tied to its context.
	k.client.TryProduce(context.Background(), record, func(r *kgo.Record, err error) {
		k.inFlight.Add(-1)
		if err == nil {
			return
		}
		if errors.Is(err, kgo.ErrMaxBuffered) {
			k.logger.Warn("dropped rate event, kafka buffer full", slog.String("topic", r.Topic))
			return
		}
		k.logger.Error("error producing rate event",
			slog.String("topic", r.Topic),
			slog.Any("error", err.Error()),
		)
	})

	return nil
}
