package main

import (
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/parkerroan/msgrate/limiter"
	"golang.org/x/exp/slog"
)

// Config drives the demonstration stream. The defaults replay the classic scenario:
// one message per user every 10 seconds.
type Config struct {
	Policy      string        `envconfig:"POLICY" default:"sliding"` // sliding, throttle or both
	MaxRequests int           `envconfig:"MAX_REQUESTS" default:"1"`
	Window      time.Duration `envconfig:"WINDOW_DURATION" default:"10s"`
	MinInterval time.Duration `envconfig:"MIN_INTERVAL" default:"10s"`
	Users       int           `envconfig:"USERS" default:"5"`
	Messages    int           `envconfig:"MESSAGES" default:"10"`
	Pause       time.Duration `envconfig:"PAUSE" default:"4s"`
}

func main() {
	loadEnvFile()

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	if cfg.Users < 1 {
		log.Fatalf("USERS must be at least 1, got %d", cfg.Users)
	}

	if cfg.Policy == "sliding" || cfg.Policy == "both" {
		sw, err := limiter.NewSlidingWindow(cfg.Window, cfg.MaxRequests)
		if err != nil {
			log.Fatalf("Error creating sliding window: %v", err)
		}
		run("Sliding window", sw, cfg)
	}

	if cfg.Policy == "throttle" || cfg.Policy == "both" {
		th, err := limiter.NewThrottle(cfg.MinInterval)
		if err != nil {
			log.Fatalf("Error creating throttle: %v", err)
		}
		run("Throttling", th, cfg)
	}
}

// run sends two streams of messages round-robin across the users, pausing in between.
func run(name string, l limiter.Limiter, cfg Config) {
	fmt.Printf("\n=== Simulating message stream (%s) ===\n", name)
	stream(l, cfg, 1)

	fmt.Printf("\nWaiting %s...\n", cfg.Pause)
	time.Sleep(cfg.Pause)

	fmt.Printf("\n=== New message stream after waiting ===\n")
	stream(l, cfg, cfg.Messages+1)
}

func stream(l limiter.Limiter, cfg Config, first int) {
	for id := first; id < first+cfg.Messages; id++ {
		user := fmt.Sprint(id%cfg.Users + 1)

		result := l.Record(user)
		wait := l.TimeUntilNextAllowed(user)

		status := "✓"
		if !result {
			status = fmt.Sprintf("× (wait %.1fs)", wait.Seconds())
		}
		fmt.Printf("Message %2d | User %s | %s\n", id, user, status)

		// Random delay between 0.1 and 1 second
		time.Sleep(time.Duration(100+rand.Intn(901)) * time.Millisecond)
	}
}

func loadEnvFile() {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			log.Fatalf("Error loading .env file: %s", err)
		}
	} else if !os.IsNotExist(err) {
		slog.Warn(fmt.Sprintf("Unexpected error looking for .env file: %s", err))
	}
}
