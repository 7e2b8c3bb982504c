package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/parkerroan/msgrate"
	"github.com/parkerroan/msgrate/limiter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/errgroup"
)

const kafkaMaxInFlight = 10_000

type Config struct {
	Port        int           `envconfig:"SERVER_PORT" default:"8080"`
	Policy      string        `envconfig:"POLICY" default:"sliding"` // sliding or throttle
	MaxRequests int           `envconfig:"MAX_REQUESTS" default:"5"`
	Window      time.Duration `envconfig:"WINDOW_DURATION" default:"60s"`
	MinInterval time.Duration `envconfig:"MIN_INTERVAL" default:"10s"`
	LockShards  int           `envconfig:"LOCK_SHARDS" default:"32"`
	SweepEvery  time.Duration `envconfig:"SWEEP_EVERY" default:"1m"` // 0 disables sweeping
	NTPServer   string        `envconfig:"NTP_SERVER"`
	RedisURL    string        `envconfig:"REDIS_URL"`
	RedisStream string        `envconfig:"REDIS_STREAM" default:"msgrate"`
	KafkaBroker []string      `envconfig:"KAFKA_BROKERS"`
	KafkaTopic  string        `envconfig:"KAFKA_TOPIC" default:"msgrate-events"`
	LogLevel    string        `envconfig:"LOG_LEVEL" default:"info"`
}

func main() {
	watch := flag.Bool("watch", false, "print decision events from the Redis stream instead of serving")
	flag.Parse()

	// Load .env file from the current directory if there is one.
	loadEnvFile()

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *watch {
		err = watchEvents(ctx, cfg, logger)
	} else {
		err = serve(ctx, cfg, logger)
	}
	if err != nil {
		logger.Error("exiting", slog.Any("error", err.Error()))
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg Config, logger *slog.Logger) error {
	clock := limiter.Clock(time.Now)
	if cfg.NTPServer != "" {
		ntpClock, err := msgrate.NTPClock(cfg.NTPServer)
		if err != nil {
			return err
		}
		clock = ntpClock
	}

	lim, err := newLimiter(cfg, clock)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	opts := []func(*msgrate.Guard){
		msgrate.WithLogger(logger),
		msgrate.WithMetrics(msgrate.NewMetrics(prometheus.DefaultRegisterer)),
		msgrate.WithEventClock(clock),
	}

	switch {
	case cfg.RedisURL != "":
		rdb := redis.NewClient(&redis.Options{
			Addr: cfg.RedisURL, // "localhost:6379"
		})
		defer rdb.Close()

		publisher := msgrate.NewRedisPublisher(rdb,
			msgrate.WithStream(cfg.RedisStream),
			msgrate.WithCappedStream(100_000),
			msgrate.WithPublisherLogger(logger),
		)
		g.Go(func() error {
			return publisher.Run(ctx)
		})
		opts = append(opts, msgrate.WithPublisher(publisher))

	case len(cfg.KafkaBroker) > 0:
		client, err := kgo.NewClient(
			kgo.SeedBrokers(cfg.KafkaBroker...),
			kgo.MaxBufferedRecords(kafkaMaxInFlight),
		)
		if err != nil {
			return fmt.Errorf("create kafka client: %w", err)
		}
		defer client.Close()

		opts = append(opts, msgrate.WithPublisher(msgrate.NewKafkaPublisher(client, cfg.KafkaTopic,
			msgrate.WithKafkaLogger(logger),
			msgrate.WithKafkaMaxInFlight(kafkaMaxInFlight),
		)))
	}

	guard := msgrate.NewGuard(lim, opts...)

	// Requests are keyed by the X-User-ID header, falling back to the client address.
	keyGetter := func(r *http.Request) string {
		if user := strings.TrimSpace(r.Header.Get("X-User-ID")); user != "" {
			return user
		}
		return r.RemoteAddr
	}

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())

	api := r.PathPrefix("/").Subrouter()
	api.Use(LoggingMiddleware)
	api.Use(msgrate.HTTPMiddleware(guard, keyGetter))
	api.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Hello, World!"))
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		logger.Info("listening", slog.String("addr", server.Addr), slog.String("policy", guard.Policy()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if cfg.SweepEvery > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(cfg.SweepEvery)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					guard.Sweep()
				}
			}
		})
	}

	return g.Wait()
}

func newLimiter(cfg Config, clock limiter.Clock) (limiter.Limiter, error) {
	opts := []limiter.Option{
		limiter.WithClock(clock),
		limiter.WithShards(cfg.LockShards),
	}

	switch cfg.Policy {
	case "sliding":
		return limiter.NewSlidingWindow(cfg.Window, cfg.MaxRequests, opts...)
	case "throttle":
		return limiter.NewThrottle(cfg.MinInterval, opts...)
	default:
		return nil, fmt.Errorf("unknown POLICY %q, want sliding or throttle", cfg.Policy)
	}
}

func watchEvents(ctx context.Context, cfg Config, logger *slog.Logger) error {
	if cfg.RedisURL == "" {
		return errors.New("REDIS_URL is required with -watch")
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
	defer rdb.Close()

	publisher := msgrate.NewRedisPublisher(rdb,
		msgrate.WithStream(cfg.RedisStream),
		msgrate.WithPublisherLogger(logger),
	)

	return publisher.Consume(ctx, func(event msgrate.RateEvent) {
		fmt.Printf("%s | %-8s | %-14s | %s | retry after %s\n",
			event.Timestamp.Format(time.RFC3339Nano),
			event.Event,
			event.Policy,
			event.Key,
			event.RetryAfter,
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code and writes it to the response.
func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK, // Default to 200 OK if WriteHeader is not called.
		}

		next.ServeHTTP(recorder, r)

		slog.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.RequestURI),
			slog.Int("status", recorder.statusCode),
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("user_agent", r.UserAgent()),
		)
	})
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func loadEnvFile() {
	if _, err := os.Stat(".env"); err == nil {
		// The file exists, now let's try to load it
		if err := godotenv.Load(); err != nil {
			// The file couldn't be loaded, log the error
			log.Fatalf("Error loading .env file: %s", err)
		}
	} else if !os.IsNotExist(err) {
		// There's an error other than "file does not exist", let's log it
		slog.Warn(fmt.Sprintf("Unexpected error looking for .env file: %s", err))
	}
}
