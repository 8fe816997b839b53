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

	"github.com/your-org/signage/internal/aggregate"
	"github.com/your-org/signage/internal/api"
	"github.com/your-org/signage/internal/api/ws"
	"github.com/your-org/signage/internal/broker"
	"github.com/your-org/signage/internal/config"
	"github.com/your-org/signage/internal/ingest"
	"github.com/your-org/signage/internal/observability"
	"github.com/your-org/signage/internal/player"
	"github.com/your-org/signage/internal/queue"
	"github.com/your-org/signage/internal/storage"
	"github.com/your-org/signage/internal/store"
	"github.com/your-org/signage/internal/trigger"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting signage telemetry service", "port", cfg.Server.Port)

	// Connect to Redis
	st, err := store.New(cfg.Redis)
	if err != nil {
		slog.Error("connect to redis", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// Connect to MinIO (optional; frames ship without snapshots when absent)
	var snapshots *storage.SnapshotStore
	if cfg.Snapshots.Endpoint != "" {
		snapshots, err = storage.NewSnapshotStore(cfg.Snapshots)
		if err != nil {
			slog.Warn("connect to minio, snapshots disabled", "error", err)
			snapshots = nil
		} else if err := snapshots.EnsureBucket(context.Background()); err != nil {
			slog.Warn("ensure minio bucket", "error", err)
		}
	}

	// Connect to NATS (optional; archive forwarding disabled when absent)
	var producer *queue.Producer
	if cfg.NATS.URL != "" {
		producer, err = queue.NewProducer(cfg.NATS.URL)
		if err != nil {
			slog.Warn("connect to nats, archive forwarding disabled", "error", err)
			producer = nil
		} else {
			defer producer.Close()
			if err := producer.EnsureStream(context.Background()); err != nil {
				slog.Warn("ensure nats stream", "error", err)
			}
		}
	}

	directory := player.NewDirectory(st)
	sseBroker := broker.NewSSEBroker(st)
	wsBroker := broker.NewWSBroker(st)
	engine := trigger.NewEngine(st, cfg.Trigger.Throttle(), cfg.Trigger.ActiveTTL())
	pipeline := ingest.NewPipeline(directory, engine, sseBroker, wsBroker, snapshots)

	aggCache := aggregate.NewCache(st)
	aggEngine := aggregate.NewEngine(cfg.Aggregation, aggCache)
	reader := aggregate.NewArchiveReader(cfg.Archive)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// WebSocket server with its shared drain loop
	socket := ws.NewServer(directory, wsBroker, cfg.Socket)
	go socket.Run(ctx)

	router := api.NewRouter(api.RouterConfig{
		Config:    cfg,
		Store:     st,
		Directory: directory,
		Pipeline:  pipeline,
		SSEBroker: sseBroker,
		Reader:    reader,
		Engine:    aggEngine,
		Socket:    socket,
		Snapshots: snapshots,
		Producer:  producer,
	})

	// WriteTimeout stays 0: SSE streams hold the response open indefinitely.
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}
