package msgrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/redis/go-redis/v9"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/semaphore"
)

const (
	defaultStream     = "msgrate"
	defaultBatchSize  = 100
	defaultMaxThreads = 100
	publishAttempts   = 3
)

// RateMessage is one stream entry: a batch of events.
type RateMessage struct {
	Events []RateEvent `json:"events"`
}

// RedisPublisher is an EventPublisher that batches events into a Redis stream.
// Publish only queues; Run drains the queue and writes batches with XADD.
type RedisPublisher struct {
	stream string
	client *redis.Client

	// how far back Consume starts reading on startup
	initialLoadOffset time.Duration
	maxStreamLen      int64
	batchSize         int

	backoff        *backoff.Backoff
	publishChannel chan RateEvent

	maxThreads int64
	sem        *semaphore.Weighted
	logger     *slog.Logger
}

// NewRedisPublisher creates a RedisPublisher writing to the "msgrate" stream by default.
func NewRedisPublisher(rdb *redis.Client, opts ...func(*RedisPublisher)) *RedisPublisher {
	// Create an exponential backoff configuration
	b := backoff.Backoff{
		//These are the defaults
		Min:    100 * time.Millisecond,
		Max:    10 * time.Second,
		Factor: 2,
		Jitter: false,
	}

	rp := &RedisPublisher{
		client:         rdb,
		stream:         defaultStream,
		batchSize:      defaultBatchSize,
		backoff:        &b,
		publishChannel: make(chan RateEvent, 1000),
		maxThreads:     defaultMaxThreads,
		logger:         slog.Default(),
	}

	// Apply all provided options
	for _, opt := range opts {
		opt(rp)
	}
	rp.sem = semaphore.NewWeighted(rp.maxThreads)

	return rp
}

// WithMaxThreads sets the maximum number of batches written concurrently.
func WithMaxThreads(maxThreads int) func(*RedisPublisher) {
	return func(rp *RedisPublisher) {
		if maxThreads > 0 {
			rp.maxThreads = int64(maxThreads)
		}
	}
}

// WithStream sets the Redis stream name, a good value
// would be the name of your application.
// default: "msgrate"
func WithStream(stream string) func(*RedisPublisher) {
	return func(rp *RedisPublisher) {
		rp.stream = stream
	}
}

// WithCappedStream sets the approximate Redis stream max length.
func WithCappedStream(maxLen int64) func(*RedisPublisher) {
	return func(rp *RedisPublisher) {
		rp.maxStreamLen = maxLen
	}
}

// WithBufferSize sets how many events can wait for Run before Publish fails.
func WithBufferSize(size int) func(*RedisPublisher) {
	return func(rp *RedisPublisher) {
		rp.publishChannel = make(chan RateEvent, size)
	}
}

// WithInitLoadOffset makes Consume start that far in the past instead of at new entries.
func WithInitLoadOffset(offset time.Duration) func(*RedisPublisher) {
	return func(rp *RedisPublisher) {
		rp.initialLoadOffset = offset
	}
}

// WithPublisherLogger sets the logger, default: slog.Default().
func WithPublisherLogger(l *slog.Logger) func(*RedisPublisher) {
	return func(rp *RedisPublisher) {
		if l != nil {
			rp.logger = l
		}
	}
}

// Publish queues an event for the next batch. It never waits for Redis and fails with
// ErrPublishBufferFull when Run is not keeping up.
func (r *RedisPublisher) Publish(ctx context.Context, event RateEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case r.publishChannel <- event:
		return nil
	default:
		return ErrPublishBufferFull
	}
}

// Run drains queued events into the stream in batches until ctx is cancelled.
// Batches still in flight are waited for before Run returns.
func (r *RedisPublisher) Run(ctx context.Context) error {
	defer func() {
		// Wait for in-flight batches.
		_ = r.sem.Acquire(context.Background(), r.maxThreads)
		r.sem.Release(r.maxThreads)
	}()

	for {
		events, ok := r.nextBatch(ctx)
		if !ok {
			return nil
		}

		if err := r.sem.Acquire(ctx, 1); err != nil {
			// The batch is already off the queue, write it before stopping.
			r.flush(RateMessage{Events: events})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		go func(msg RateMessage) {
			defer r.sem.Release(1)
			r.flush(msg)
		}(RateMessage{Events: events})
	}
}

// flush writes msg with retries. It is detached from Run's context so a shutdown
// does not drop the last batches.
func (r *RedisPublisher) flush(msg RateMessage) {
	publishCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := r.publishWithRetry(publishCtx, msg); err != nil {
		r.logger.Error("error publishing events to redis",
			slog.Any("error", err.Error()),
			slog.Int("events", len(msg.Events)),
		)
	}
}

// nextBatch blocks for the first event and then takes whatever else is already queued.
func (r *RedisPublisher) nextBatch(ctx context.Context) ([]RateEvent, bool) {
	events := make([]RateEvent, 0, r.batchSize)

	select {
	case event := <-r.publishChannel:
		events = append(events, event)
	case <-ctx.Done():
		return nil, false
	}

	for len(events) < r.batchSize {
		select {
		case event := <-r.publishChannel:
			events = append(events, event)
		default:
			return events, true
		}
	}

	return events, true
}

func (r *RedisPublisher) publishWithRetry(ctx context.Context, msg RateMessage) error {
	b := backoff.Backoff{
		Min:    r.backoff.Min,
		Max:    r.backoff.Max,
		Factor: r.backoff.Factor,
		Jitter: r.backoff.Jitter,
	}

	var err error
	for attempt := 0; attempt < publishAttempts; attempt++ {
		if err = r.publish(ctx, msg); err == nil {
			return nil
		}

		select {
		case <-time.After(b.Duration()):
		case <-ctx.Done():
			return fmt.Errorf("publish %d events: %w", len(msg.Events), err)
		}
	}

	return fmt.Errorf("publish %d events after %d attempts: %w", len(msg.Events), publishAttempts, err)
}

func (r *RedisPublisher) publish(ctx context.Context, msg RateMessage) error {
	eventBytes, err := json.Marshal(msg.Events)
	if err != nil {
		return err
	}

	values := map[string]interface{}{
		"events": eventBytes,
	}

	return r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		Values: values,
		MaxLen: r.maxStreamLen,
		Approx: r.maxStreamLen > 0,
	}).Err()
}

// Consume reads the stream and calls handlerFunc for every event until ctx is cancelled.
// Read errors are retried with backoff.
func (r *RedisPublisher) Consume(ctx context.Context, handlerFunc func(RateEvent)) error {
	lastMessageID := r.loadInitialMessageID()

	for {
		// Check the context before a new loop iteration starts
		if ctx.Err() != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				r.logger.Info("Context was cancelled, cleaning up")
				return nil
			}
			return ctx.Err()
		}

		lastMessageID = r.resolveLastID(ctx, lastMessageID)

		streams, err := r.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{r.stream, lastMessageID},
			Count:   100,
			Block:   time.Second,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) {
				// nothing new within the block timeout
				continue
			}
			if errors.Is(err, context.Canceled) {
				r.logger.Info("Context was cancelled, cleaning up")
				return nil
			}
			r.logger.Error("Error reading messages from stream", slog.Any("error", err))
			select {
			case <-time.After(r.backoff.Duration()):
			case <-ctx.Done():
			}
			continue
		}
		r.backoff.Reset()

		var wg sync.WaitGroup
		for _, stream := range streams {
			for _, xMessage := range stream.Messages {
				lastMessageID = xMessage.ID

				events, err := decodeEvents(xMessage.Values)
				if err != nil {
					r.logger.Error("skipping malformed stream entry",
						slog.String("id", xMessage.ID),
						slog.Any("error", err.Error()),
					)
					continue
				}

				for _, event := range events {
					wg.Add(1)
					go func(event RateEvent) {
						defer wg.Done()
						handlerFunc(event)
					}(event)
				}
			}
		}
		wg.Wait()
	}
}

func decodeEvents(values map[string]interface{}) ([]RateEvent, error) {
	raw, ok := values["events"].(string)
	if !ok {
		return nil, errors.New(`stream entry has no "events" field`)
	}

	var events []RateEvent
	if err := json.Unmarshal([]byte(raw), &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (r *RedisPublisher) loadInitialMessageID() string {
	lastMessageID := "$"

	if r.initialLoadOffset > 0 {
		// stream IDs are <milliseconds>-<sequence>
		from := time.Now().Add(-1 * r.initialLoadOffset)
		lastMessageID = strconv.FormatInt(from.UnixMilli(), 10)
	}

	return lastMessageID
}

// resolveLastID replaces "$" with the stream's last generated ID, so entries added
// between two reads are not skipped. A stream that does not exist yet is read from
// the start. On other errors id is returned unchanged and resolution is retried.
func (r *RedisPublisher) resolveLastID(ctx context.Context, id string) string {
	if id != "$" {
		return id
	}

	info, err := r.client.XInfoStream(ctx, r.stream).Result()
	if err != nil {
		if strings.Contains(err.Error(), "no such key") {
			return "0-0"
		}
		return id
	}

	return info.LastGeneratedID
}
