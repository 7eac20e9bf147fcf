// Command termfreqd serves term counting over HTTP.
//
// It counts files below counter.inputRoot on request, caches reports in
// Redis, publishes run events to Kafka and lists recorded runs from
// Postgres. Redis, Kafka and Postgres are optional; each is used only when
// enabled in the config.
//
// Usage:
//
//	go run ./cmd/termfreqd [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter"
	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter/proc"
	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/events"
	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/history"
	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/resultcache"
	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/server/handler"
	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/server/router"
	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/ratelimit"
	pkgredis "github.com/Adithya-Monish-Kumar-K/termfreq/pkg/redis"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == proc.WorkerCommand {
		os.Exit(worker(os.Args[2:]))
	}

	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	inputRoot := cfg.Counter.InputRoot
	if inputRoot == "" {
		inputRoot = "."
	}
	slog.Info("starting termfreq service",
		"port", cfg.Server.Port,
		"strategy", cfg.Counter.Strategy,
		"workers", cfg.Counter.Workers,
		"input_root", inputRoot,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	opts, err := counter.OptionsFromConfig(cfg)
	if err != nil {
		slog.Error("invalid counter options", "error", err)
		os.Exit(1)
	}
	launcher, err := proc.NewExecLauncher()
	if err != nil {
		slog.Error("failed to locate executable", "error", err)
		os.Exit(1)
	}
	launcher.Env = []string{
		"TF_LOGGING_LEVEL=" + cfg.Logging.Level,
		"TF_LOGGING_FORMAT=" + cfg.Logging.Format,
	}
	engine, err := counter.New(opts,
		counter.WithMetrics(m),
		counter.WithTransport(counter.ExecTransport(launcher)),
	)
	if err != nil {
		slog.Error("invalid counter options", "error", err)
		os.Exit(1)
	}

	checker := health.NewChecker()
	checker.Register("handoff_dir", health.DirWritableCheck(opts.HandoffDir))
	checker.Register("input_root", health.DirReadableCheck(inputRoot))

	var handlerOpts []handler.Option

	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, report caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			handlerOpts = append(handlerOpts, handler.WithCache(resultcache.New(redisClient, cfg.Redis.CacheTTL, m,
				resultcache.WithComputeTimeout(cfg.Server.WriteTimeout))))
			checker.Register("redis", health.PingCheck(redisClient.Ping, true))
			slog.Info("report cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	if cfg.Postgres.Enabled {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Warn("postgres unavailable, run history disabled", "error", err)
		} else {
			defer db.Close()
			store := history.NewStore(db)
			if err := store.EnsureSchema(ctx); err != nil {
				slog.Error("failed to prepare history schema", "error", err)
				os.Exit(1)
			}
			handlerOpts = append(handlerOpts, handler.WithRuns(store))
			checker.Register("postgres", health.PingCheck(db.Ping, true))
			slog.Info("run history enabled", "database", cfg.Postgres.Database)
		}
	}

	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.RunCompleted)
		defer producer.Close()
		publisher := events.NewPublisher(producer, 1000, m)
		// Close drains the buffer after the server has stopped.
		publisher.Start(context.Background())
		defer publisher.Close()
		handlerOpts = append(handlerOpts, handler.WithPublisher(publisher))
		slog.Info("run events enabled", "topic", cfg.Kafka.Topics.RunCompleted)
	}

	h, err := handler.New(engine, inputRoot, cfg.Server.MaxWorkers, handlerOpts...)
	if err != nil {
		slog.Error("failed to create handler", "error", err)
		os.Exit(1)
	}

	routes := router.Config{
		Metrics: m,
		Timeout: cfg.Server.WriteTimeout,
	}
	if cfg.Server.RateLimit > 0 {
		limiter := ratelimit.New(cfg.Server.RateLimit, time.Minute)
		defer limiter.Stop()
		routes.Limiter = limiter
		routes.RateLimitWindow = time.Minute
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router.New(h, checker, routes),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout + 5*time.Second,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("termfreq service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	// In-flight handlers may still track events until Shutdown returns.
	<-shutdownDone

	slog.Info("termfreq service stopped")
}

// worker runs one partition when the process strategy re-executes this
// binary.
func worker(args []string) int {
	logger.SetupWriter(os.Stderr, os.Getenv("TF_LOGGING_LEVEL"), os.Getenv("TF_LOGGING_FORMAT"))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := counter.ServeWorker(ctx, args, os.Stdout); err != nil {
		slog.Error("worker failed", "error", err)
		return 1
	}
	return 0
}
