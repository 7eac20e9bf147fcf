// Command recorder persists run events to the history database.
//
// It consumes the run-completed topic and saves every event into Postgres
// (termfreq_runs and termfreq_run_terms). Saves are idempotent on run id, so
// redelivered messages are harmless. Health probes are served on -addr.
//
// Usage:
//
//	go run ./cmd/recorder [-config configs/development.yaml] [-addr :8081]
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

	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/history"
	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	addr := flag.String("addr", ":8081", "address for health and metrics endpoints")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting run recorder",
		"topic", cfg.Kafka.Topics.RunCompleted,
		"group", cfg.Kafka.ConsumerGroup,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	store := history.NewStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		slog.Error("failed to prepare history schema", "error", err)
		os.Exit(1)
	}

	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.RunCompleted, store.HandleMessage)
	waitConsumer := startConsumer(ctx, consumer.Start)

	m := metrics.New()
	checker := health.NewChecker()
	checker.Register("postgres", health.PingCheck(db.Ping, false))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.Handle("GET /metrics", metrics.Handler())

	var chain http.Handler = mux
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)

	server := newServer(*addr, chain, cfg.Server)

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("recorder listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	// The pool closes only after the last message has been handled.
	waitConsumer()

	slog.Info("run recorder stopped")
}

// startConsumer runs start on its own goroutine. The returned function
// blocks until start has returned.
func startConsumer(ctx context.Context, start func(context.Context) error) (wait func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := start(ctx); err != nil {
			slog.Error("consumer error", "error", err)
		}
	}()
	return func() { <-done }
}

func newServer(addr string, h http.Handler, cfg config.ServerConfig) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}
