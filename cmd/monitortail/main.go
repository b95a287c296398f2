// Command monitortail consumes the ws.monitoring Kafka topic and keeps the
// admin store's ws_connections table in sync. It is optional infrastructure:
// the engine's correctness never depends on this process running.
package main

import (
	"context"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"pulsehub/internal/admin"
	"pulsehub/internal/config"
	"pulsehub/internal/monitoring"
)

func main() {
	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}
	if len(cfg.KafkaBrokers) == 0 {
		log.Fatal("KAFKA_BROKERS is required")
	}

	db, err := admin.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to admin store: %v", err)
	}
	repo := admin.NewRepository(db)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("monitortail consuming", "topic", monitoring.Topic, "brokers", cfg.KafkaBrokers)
	if err := monitoring.Consume(ctx, cfg.KafkaBrokers, "pulsehub-monitortail", repo); err != nil {
		log.Fatalf("consumer stopped: %v", err)
	}
	slog.Info("monitortail stopped")
}
