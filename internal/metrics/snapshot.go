// Package metrics periodically publishes a JSON snapshot of queue depths
// and worker counts to Redis with a short TTL, for dashboards that
// shouldn't have to speak the admin protocol. The broker never reads
// this back; the in-memory state remains authoritative for dispatch.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smukkama/gearmand/internal/broker"
)

const snapshotKey = "gearmand:stats"
const snapshotTTL = 30 * time.Second

// Snapshotter wraps a Redis client and a Broker to publish periodic
// stats snapshots. Mirrors the teacher's StateManager get/set-with-TTL
// shape, repurposed from per-zipcode alarm state to a broker-wide
// function-stats snapshot.
type Snapshotter struct {
	redis  *redis.Client
	broker *broker.Broker
	stopCh chan struct{}
}

// NewSnapshotter builds a Snapshotter.
func NewSnapshotter(redisClient *redis.Client, b *broker.Broker) *Snapshotter {
	return &Snapshotter{redis: redisClient, broker: b, stopCh: make(chan struct{})}
}

// Start runs the periodic publish loop until Stop is called.
func (s *Snapshotter) Start(interval time.Duration) {
	go s.run(interval)
}

// Stop ends the publish loop.
func (s *Snapshotter) Stop() {
	close(s.stopCh)
}

func (s *Snapshotter) run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.publish()
		}
	}
}

func (s *Snapshotter) publish() {
	stats := s.broker.Snapshot()
	data, err := json.Marshal(stats)
	if err != nil {
		fmt.Printf("metrics: failed to marshal snapshot: %v\n", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.redis.Set(ctx, snapshotKey, data, snapshotTTL).Err(); err != nil {
		fmt.Printf("metrics: failed to write snapshot to Redis: %v\n", err)
	}
}

// ReadSnapshot retrieves the last published snapshot — exposed for
// operators/tests that want to confirm the publisher is working without
// standing up a real dashboard.
func ReadSnapshot(ctx context.Context, redisClient *redis.Client) ([]broker.FunctionStats, error) {
	data, err := redisClient.Get(ctx, snapshotKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("metrics: failed to read snapshot: %w", err)
	}

	var stats []broker.FunctionStats
	if err := json.Unmarshal([]byte(data), &stats); err != nil {
		return nil, fmt.Errorf("metrics: failed to decode snapshot: %w", err)
	}
	return stats, nil
}
