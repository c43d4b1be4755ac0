package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smukkama/gearmand/internal/broker"
	"github.com/smukkama/gearmand/internal/connection"
	"github.com/smukkama/gearmand/internal/events"
	"github.com/smukkama/gearmand/internal/metrics"
	"github.com/smukkama/gearmand/internal/server"
	"github.com/smukkama/gearmand/internal/timer"
	"github.com/smukkama/gearmand/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	fmt.Println("Starting gearmand...")

	connManager := connection.New(cfg.Server.EgressCapacity)
	fmt.Println("Connection manager initialized")

	timerManager := timer.NewTimerManager(10)
	timerManager.Start()
	defer timerManager.Stop()
	fmt.Println("Timer manager started")

	var publisher *events.Publisher
	var eventPub broker.EventPublisher
	if cfg.Kafka.Enabled() {
		if err := events.CreateTopic(cfg.Kafka, 1); err != nil {
			fmt.Printf("Note: topic creation failed (may already exist): %v\n", err)
		}
		publisher = events.NewPublisher(cfg.Kafka)
		eventPub = publisher
		fmt.Printf("Kafka event publisher initialized (topic=%s)\n", cfg.Kafka.TopicEvents)
	}

	b := broker.New(connManager, eventPub, timerManager)
	if publisher != nil {
		defer publisher.Close()
	}

	var snapshotter *metrics.Snapshotter
	if cfg.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		snapshotter = metrics.NewSnapshotter(rdb, b)
		snapshotter.Start(5 * time.Second)
		fmt.Println("Redis stats snapshotter started")
	}
	if snapshotter != nil {
		defer snapshotter.Stop()
	}

	tcpServer := server.NewTCPServer(&cfg.Server, connManager, b)
	if err := tcpServer.Start(); err != nil {
		log.Fatalf("Failed to start TCP server: %v", err)
	}
	defer tcpServer.Stop()

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			timerStats := timerManager.Stats()
			fmt.Printf("\n--- gearmand Statistics ---\n")
			fmt.Printf("Active Connections: %d / %d\n", connManager.Count(), cfg.Server.MaxConnections)
			fmt.Printf("Scheduled Timers: %d\n", timerStats.ScheduledTasks)
			fmt.Printf("---------------------------\n\n")
		}
	}()

	fmt.Println("\ngearmand is running")
	fmt.Printf("Listening on port %d\n", cfg.Server.Port)
	fmt.Println("Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down gracefully...")
}
