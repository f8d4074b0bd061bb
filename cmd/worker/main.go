package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/pridato/reelforge/internal/config"
	"github.com/pridato/reelforge/internal/renderer"
	"github.com/pridato/reelforge/internal/worker"
	"github.com/pridato/reelforge/pkg/database"
	"github.com/pridato/reelforge/pkg/kafka"
)

func main() {
	// Load configuration
	cfg := config.LoadConfig()

	// Initialize database clients
	db, err := database.NewClients(cfg.Database.URL, cfg.Redis.Addr)
	if err != nil {
		slog.Error("Failed to initialize database clients", "error", err)
		os.Exit(1)
	}
	defer db.DB.Close()
	slog.Info("✅ Connected to databases")

	// Initialize Kafka consumer
	consumer, err := kafka.NewConsumer(cfg.Kafka.Broker, cfg.Kafka.Group)
	if err != nil {
		slog.Error("Failed to create Kafka consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()
	slog.Info("✅ Connected to Kafka")

	// Rendering backend client
	rc := renderer.NewHTTPClient(cfg.Renderer.BaseURL, cfg.Renderer.Timeout)

	// Create and start worker
	w := worker.NewWorker(cfg, db, consumer, rc)

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		slog.Error("Worker error", "error", err)
		os.Exit(1)
	}
}
