package msgrate_test

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/parkerroan/msgrate"
	"github.com/parkerroan/msgrate/limiter"
	"github.com/redis/go-redis/v9"
)

// ExampleHTTPMiddleware shows how to use the middleware with a standard net/http handler or mux.
func ExampleHTTPMiddleware() {
	sw, err := limiter.NewSlidingWindow(10*time.Second, 10)
	if err != nil {
		panic(err)
	}
	guard := msgrate.NewGuard(sw)

	// This function generates a key (in this case, the client's IP address)
	// that the limiter uses to identify unique clients.
	keyGetter := func(r *http.Request) string {
		return r.RemoteAddr
	}

	r := mux.NewRouter() // or http.NewServeMux()
	r.Use(msgrate.HTTPMiddleware(guard, keyGetter))
}

// ExampleGuard_redisPublisher shows how to stream every decision to Redis.
func ExampleGuard_redisPublisher() {
	rdb := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
	})
	publisher := msgrate.NewRedisPublisher(rdb, msgrate.WithStream("chat-service"))

	ctx := context.Background()
	// Drain queued events to the stream in the background.
	go publisher.Run(ctx)

	th, err := limiter.NewThrottle(time.Second)
	if err != nil {
		panic(err)
	}
	guard := msgrate.NewGuard(th, msgrate.WithPublisher(publisher))

	for i := 0; i < 3; i++ {
		allowed, info := guard.Allow(ctx, "userKey")
		fmt.Printf("Message %v allowed: %v retry after: %v\n", i, allowed, info.RetryAfter)
	}
}

// ExampleGuard_localInstance uses a Guard without any publisher.
func ExampleGuard_localInstance() {
	sw, err := limiter.NewSlidingWindow(time.Minute, 2)
	if err != nil {
		panic(err)
	}
	guard := msgrate.NewGuard(sw)

	for i := 0; i < 3; i++ {
		allowed, _ := guard.Allow(context.Background(), "userKey")
		fmt.Printf("Message %v allowed: %v\n", i, allowed)
	}
	// Output:
	// Message 0 allowed: true
	// Message 1 allowed: true
	// Message 2 allowed: false
}
