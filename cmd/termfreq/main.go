package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter"
	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter/proc"
	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/events"
	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/report"
	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/metrics"
)

const eventSource = "cli"

func main() {
	if len(os.Args) > 1 && os.Args[1] == proc.WorkerCommand {
		os.Exit(worker(os.Args[2:]))
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run is the counting command. Logs go to stderr; stdout carries only the
// report.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("termfreq", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to config file")
	input := fs.String("input", "", "input file (or first positional argument)")
	strategy := fs.String("strategy", "", "sequential, threaded or process")
	workers := fs.Int("workers", 0, "number of partitions")
	k := fs.Int("k", 0, "number of top terms to report")
	format := fs.String("format", report.FormatText, "report format: text or json")
	strict := fs.Bool("strict", false, "fail the run when a table is full instead of dropping terms")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: termfreq [flags] <input>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	path := *input
	if path == "" && fs.NArg() > 0 {
		path = fs.Arg(0)
	}
	if path == "" {
		fs.Usage()
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load config: %v\n", err)
		return 1
	}
	if *strict {
		cfg.Counter.OnCapacity = config.CapacityFail
	}
	logger.SetupWriter(stderr, cfg.Logging.Level, cfg.Logging.Format)

	opts, err := counter.OptionsFromConfig(cfg)
	if err != nil {
		slog.Error("invalid counter options", "error", err)
		return 1
	}

	launcher, err := proc.NewExecLauncher()
	if err != nil {
		slog.Error("failed to locate executable", "error", err)
		return 1
	}
	launcher.Env = []string{
		"TF_LOGGING_LEVEL=" + cfg.Logging.Level,
		"TF_LOGGING_FORMAT=" + cfg.Logging.Format,
	}
	engineOpts := []counter.Option{counter.WithTransport(counter.ExecTransport(launcher))}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled || cfg.Metrics.Textfile != "" {
		m = metrics.New()
		engineOpts = append(engineOpts, counter.WithMetrics(m))
	}
	if cfg.Metrics.Enabled {
		shutdown, err := metrics.StartServer(cfg.Metrics.Port)
		if err != nil {
			slog.Warn("metrics server disabled", "error", err)
		} else {
			defer shutdown(context.Background())
		}
	}
	if cfg.Metrics.Textfile != "" {
		defer func() {
			if err := metrics.WriteTextfile(cfg.Metrics.Textfile); err != nil {
				slog.Error("failed to write metrics", "error", err)
			}
		}()
	}

	var publisher *events.Publisher
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.RunCompleted)
		defer producer.Close()
		publisher = events.NewPublisher(producer, 16, m)
		publisher.Start(ctx)
		defer publisher.Close()
	}

	engine, err := counter.New(opts, engineOpts...)
	if err != nil {
		slog.Error("invalid counter options", "error", err)
		return 1
	}

	req := counter.Request{
		Input:    path,
		Strategy: *strategy,
		Workers:  *workers,
		TopK:     *k,
		RunID:    counter.NewRunID(),
	}
	res, err := engine.Run(ctx, req)
	if err != nil {
		if publisher != nil {
			publisher.Track(events.Failed(eventSource, req.RunID, path, *strategy, err))
		}
		fmt.Fprintf(stderr, "termfreq: %v\n", err)
		return 1
	}

	rep := report.FromResult(res)
	if publisher != nil {
		publisher.Track(events.Completed(eventSource, rep))
	}
	if err := report.Write(stdout, rep, *format); err != nil {
		fmt.Fprintf(stderr, "termfreq: %v\n", err)
		return 1
	}
	return 0
}

// worker is the body of a child process started by the process strategy.
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
