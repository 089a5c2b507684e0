// Command care runs the cascade-aware routing engine server.
//
// The server exposes routing dispatch and dry-run evaluation, agent
// registration, outcome feedback ingestion, decision audit reads and
// aggregate statistics over HTTP.
//
// # Clustering
//
// Multiple instances with the same CARE_NAME, REDIS_URL and MONGO_URL share
// all routing state: agent registrations, rate-limit counters, the probe
// cache, performance vectors, the fairness window and the decision audit
// log. Without Redis and Mongo the server runs self-contained with
// process-local stores, suitable for development.
//
// # Configuration
//
// Environment variables:
//
//	CARE_ADDR       - HTTP listen address (default: ":8080")
//	CARE_NAME       - Cluster name used to derive shared resource names (default: "care")
//	CARE_CONFIG     - Path to a YAML file with engine tunable overrides (optional)
//	CARE_DEBUG      - Enable debug endpoints and body logging (default: false)
//	REDIS_URL       - Redis address (optional; enables shared stores)
//	REDIS_PASSWORD  - Redis password (optional)
//	MONGO_URL       - MongoDB connection URI (optional; enables durable decision audit)
//	MONGO_DATABASE  - MongoDB database name (default: "care")
//
// # Example
//
// Single node, in-process stores:
//
//	go run ./cmd/care
//
// Clustered:
//
//	CARE_NAME=prod REDIS_URL=redis:6379 MONGO_URL=mongodb://mongo:27017 ./care
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"
	"goa.design/clue/health"
	"goa.design/clue/log"

	"github.com/cascadehq/care/api"
	assignmentsredis "github.com/cascadehq/care/features/assignments/redis"
	decisionsmemory "github.com/cascadehq/care/features/decisions/memory"
	decisionsmongo "github.com/cascadehq/care/features/decisions/mongo"
	probecacheredis "github.com/cascadehq/care/features/probecache/redis"
	ratelimitredis "github.com/cascadehq/care/features/ratelimit/redis"
	statsredis "github.com/cascadehq/care/features/stats/redis"
	vectorsredis "github.com/cascadehq/care/features/vectors/redis"
	"github.com/cascadehq/care/registry"
	"github.com/cascadehq/care/runtime/engine"
	"github.com/cascadehq/care/runtime/feedback"
	"github.com/cascadehq/care/runtime/probe"
	"github.com/cascadehq/care/runtime/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration from environment.
	addr := envOr("CARE_ADDR", ":8080")
	name := envOr("CARE_NAME", "care")
	configPath := os.Getenv("CARE_CONFIG")
	dbg := envBoolOr("CARE_DEBUG", false)
	redisURL := os.Getenv("REDIS_URL")
	redisPassword := os.Getenv("REDIS_PASSWORD")
	mongoURL := os.Getenv("MONGO_URL")
	mongoDatabase := envOr("MONGO_DATABASE", "care")

	// Setup structured logging.
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if dbg {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := telemetry.NewClueLogger()
	metrics := telemetry.NewClueMetrics()

	// Engine tunables: defaults, optionally overridden from YAML.
	cfg := engine.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = engine.LoadConfig(configPath); err != nil {
			return err
		}
		log.Printf(ctx, "loaded engine config from %s", configPath)
	}

	var pingers []health.Pinger

	// Shared Redis stores, when configured.
	var rdb *goredis.Client
	if redisURL != "" {
		rdb = goredis.NewClient(&goredis.Options{Addr: redisURL, Password: redisPassword})
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Errorf(ctx, err, "close redis")
			}
		}()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		log.Printf(ctx, "connected to redis at %s", redisURL)
	}

	// Decision audit store: Mongo when configured, in-process otherwise.
	var (
		recorder  engine.Recorder
		decisions api.DecisionReader
	)
	if mongoURL != "" {
		mdb, err := mongo.Connect(mongooptions.Client().ApplyURI(mongoURL))
		if err != nil {
			return fmt.Errorf("connect to mongo: %w", err)
		}
		defer func() {
			if err := mdb.Disconnect(context.Background()); err != nil {
				log.Errorf(ctx, err, "disconnect mongo")
			}
		}()
		store, err := decisionsmongo.New(decisionsmongo.Options{
			Client:   mdb,
			Database: mongoDatabase,
		})
		if err != nil {
			return fmt.Errorf("create decision store: %w", err)
		}
		recorder, decisions = store, store
		pingers = append(pingers, store)
		log.Printf(ctx, "decision audit backed by mongo database %q", mongoDatabase)
	} else {
		store := decisionsmemory.New()
		recorder, decisions = store, store
		log.Printf(ctx, "decision audit in process memory; set MONGO_URL for durability")
	}

	// Agent registry: replicated across nodes when Redis is configured.
	reg, err := registry.New(ctx, registry.Config{
		Redis:  rdb,
		Name:   name,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("create registry: %w", err)
	}
	defer func() {
		if err := reg.Close(context.Background()); err != nil {
			log.Errorf(ctx, err, "close registry")
		}
	}()

	// Outcome feedback tracker over the vector store.
	var vectorStore feedback.Store
	if rdb != nil {
		store, err := vectorsredis.New(vectorsredis.Options{Client: rdb, Prefix: name + ":vectors"})
		if err != nil {
			return fmt.Errorf("create vector store: %w", err)
		}
		vectorStore = store
		pingers = append(pingers, store)
	} else {
		vectorStore = feedback.NewMemoryStore(feedback.DefaultWindow)
	}
	tracker, err := feedback.NewTracker(vectorStore,
		feedback.WithLogger(logger),
		feedback.WithMetrics(metrics),
	)
	if err != nil {
		return fmt.Errorf("create feedback tracker: %w", err)
	}
	defer func() {
		if err := tracker.Close(); err != nil {
			log.Errorf(ctx, err, "close feedback tracker")
		}
	}()

	// Engine collaborators default to process-local stores; Redis upgrades
	// them to shared ones.
	opts := engine.Options{
		Config:   cfg,
		Source:   reg,
		Recorder: recorder,
		Vectors:  tracker,
		Logger:   logger,
		Metrics:  metrics,
		Tracer:   telemetry.NewClueTracer(),
	}
	if rdb != nil {
		limiter, err := ratelimitredis.New(ratelimitredis.Options{Client: rdb, Prefix: name + ":ratelimit"})
		if err != nil {
			return fmt.Errorf("create rate limiter: %w", err)
		}
		window, err := assignmentsredis.New(assignmentsredis.Options{Client: rdb, Prefix: name + ":assignments"})
		if err != nil {
			return fmt.Errorf("create assignment window: %w", err)
		}
		counters, err := statsredis.New(statsredis.Options{Client: rdb, Key: name + ":stats"})
		if err != nil {
			return fmt.Errorf("create stats counters: %w", err)
		}
		probeCache, err := probecacheredis.New(probecacheredis.Options{Client: rdb, Prefix: name + ":probe"})
		if err != nil {
			return fmt.Errorf("create probe cache: %w", err)
		}
		opts.Limiter = limiter
		opts.Assignments = window
		opts.Counters = counters
		opts.Prober = probe.NewRunner(probe.Options{
			Cache:   probeCache,
			Logger:  logger,
			Metrics: metrics,
		})
		pingers = append(pingers, limiter)
	}
	eng, err := engine.New(opts)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	svc, err := api.NewService(api.Options{
		Engine:    eng,
		Registry:  reg,
		Tracker:   tracker,
		Decisions: decisions,
	})
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           svc.Handler(ctx, api.HandlerOptions{Debug: dbg, Pingers: pingers}),
		ReadHeaderTimeout: 60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Printf(ctx, "HTTP server listening on %q (name=%s)", addr, name)
		errc <- srv.ListenAndServe()
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigc:
		log.Printf(ctx, "exiting (%v)", sig)
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	}

	// Shutdown gracefully with a 30s timeout.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf(ctx, err, "shutdown http server")
	}
	log.Printf(ctx, "exited")
	return nil
}

// envOr returns the environment variable value or a default.
func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// envBoolOr returns the environment variable as bool or a default.
func envBoolOr(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}
