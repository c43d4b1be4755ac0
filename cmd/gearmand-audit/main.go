package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smukkama/gearmand/internal/audit"
	"github.com/smukkama/gearmand/internal/events"
	"github.com/smukkama/gearmand/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if !cfg.Kafka.Enabled() || !cfg.Database.Enabled() {
		log.Fatal("gearmand-audit requires both KAFKA_BROKERS and DB_HOST to be set")
	}

	fmt.Println("Starting gearmand-audit...")

	db, err := audit.Connect(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	fmt.Println("Connected to audit database")

	if err := db.RunMigrations("migrations"); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	consumer := events.NewConsumer(cfg.Kafka, "gearmand-audit-group")
	defer consumer.Close()
	fmt.Println("Kafka consumer created (registering with broker...)")

	batchWriter := audit.NewBatchWriter(consumer, db, 100, 5*time.Second)
	if err := batchWriter.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start batch writer: %v", err)
	}
	fmt.Println("Batch writer started")

	fmt.Println("\ngearmand-audit is running")
	fmt.Println("Consuming job-lifecycle events from Kafka and writing to Postgres")
	fmt.Println("Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down gracefully...")
	batchWriter.Stop()
	fmt.Println("gearmand-audit stopped")
}
