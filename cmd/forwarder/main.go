package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/your-org/signage/internal/config"
	"github.com/your-org/signage/internal/observability"
	"github.com/your-org/signage/internal/queue"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	workers := flag.Int("workers", 4, "number of delivery workers")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting archive forwarder", "workers", *workers)

	if cfg.NATS.URL == "" {
		slog.Error("nats url is required for the forwarder")
		os.Exit(1)
	}

	// The stream must exist before a consumer can attach.
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStream(context.Background()); err != nil {
		slog.Error("ensure nats stream", "error", err)
		os.Exit(1)
	}

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create nats consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliverer := queue.NewArchiveDeliverer(cfg.Archive)
	onFailed := func(payload []byte, attempts int, lastErr error) {
		slog.Error("frame surrendered after delivery attempts exhausted",
			"attempts", attempts, "size", len(payload), "error", lastErr)
	}

	if err := consumer.ConsumeArchive(ctx, "archive-forwarder", deliverer.Deliver, onFailed, *workers); err != nil {
		slog.Error("start archive consumer", "error", err)
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down archive forwarder...")
	cancel()
	slog.Info("archive forwarder stopped")
}
