//go:build integration

package msgrate_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/parkerroan/msgrate"
	"github.com/parkerroan/msgrate/limiter"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	//load test.env file
	if _, err := os.Stat("test.env"); err == nil {
		if err := godotenv.Load("test.env"); err != nil {
			log.Fatalf("Error loading test.env file: %s", err)
		}
	}
}

func TestRedisPublisher_Integration(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_URL")
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	// Ensure the connection is alive
	_, err := rdb.Ping(context.Background()).Result()
	require.NoError(t, err)

	stream := "msgrate-test-" + time.Now().Format("150405.000")
	defer rdb.Del(context.Background(), stream)

	publisher := msgrate.NewRedisPublisher(rdb,
		msgrate.WithStream(stream),
		msgrate.WithCappedStream(1000),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	received := make(chan msgrate.RateEvent, 10)
	go func() {
		err := publisher.Consume(ctx, func(event msgrate.RateEvent) {
			received <- event
		})
		assert.NoError(t, err)
	}()
	go func() {
		assert.NoError(t, publisher.Run(ctx))
	}()

	// give the consumer time to start reading at "$"
	time.Sleep(500 * time.Millisecond)

	sw, err := limiter.NewSlidingWindow(time.Minute, 1)
	require.NoError(t, err)
	guard := msgrate.NewGuard(sw, msgrate.WithPublisher(publisher))

	allowed, _ := guard.Allow(ctx, "user1")
	assert.True(t, allowed)
	allowed, _ = guard.Allow(ctx, "user1")
	assert.False(t, allowed)

	seen := map[string]int{}
	for seen[msgrate.EventAccepted]+seen[msgrate.EventRejected] < 2 {
		select {
		case event := <-received:
			assert.Equal(t, guard.ID(), event.GuardID)
			assert.Equal(t, "user1", event.Key)
			seen[event.Event]++
		case <-ctx.Done():
			t.Fatal("Test timed out before events were received")
		}
	}

	assert.Equal(t, 1, seen[msgrate.EventAccepted])
	assert.Equal(t, 1, seen[msgrate.EventRejected])
}

func TestRedisPublisher_ConsumeReadsEveryNewEntry(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_URL")
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, rdb.Ping(context.Background()).Err())

	stream := "msgrate-test-gap-" + time.Now().Format("150405.000")
	defer rdb.Del(context.Background(), stream)

	add := func(key string) {
		raw, err := json.Marshal([]msgrate.RateEvent{{Event: msgrate.EventAccepted, Key: key}})
		require.NoError(t, err)
		require.NoError(t, rdb.XAdd(context.Background(), &redis.XAddArgs{
			Stream: stream,
			Values: map[string]interface{}{"events": raw},
		}).Err())
	}

	// Entries written before Consume starts are not replayed.
	add("old")

	publisher := msgrate.NewRedisPublisher(rdb, msgrate.WithStream(stream))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	received := make(chan string, 100)
	go func() {
		_ = publisher.Consume(ctx, func(event msgrate.RateEvent) {
			received <- event.Key
		})
	}()
	time.Sleep(500 * time.Millisecond)

	const total = 50
	for i := 0; i < total; i++ {
		add(fmt.Sprint(i))
	}

	seen := map[string]bool{}
	for len(seen) < total {
		select {
		case key := <-received:
			require.NotEqual(t, "old", key)
			seen[key] = true
		case <-ctx.Done():
			t.Fatalf("received %d of %d entries", len(seen), total)
		}
	}
}
