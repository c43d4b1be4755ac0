// Package events publishes job-lifecycle transitions to Kafka as a
// best-effort side channel (SPEC_FULL.md §4.7) and provides the consumer
// side for internal/audit. Nothing here is consulted to answer a
// protocol request; the broker's in-memory state remains authoritative.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"github.com/smukkama/gearmand/internal/broker"
	"github.com/smukkama/gearmand/pkg/config"
)

// JobEvent is the JSON wire shape published for every JOB_CREATED,
// WORK_COMPLETE, WORK_FAIL and WORK_EXCEPTION transition.
type JobEvent struct {
	Handle    string    `json:"handle"`
	Function  string    `json:"function"`
	Priority  string    `json:"priority"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher wraps a Kafka writer and implements broker.EventPublisher.
// Publish never blocks the dispatcher: each event is written from its own
// goroutine, and an error returned by WriteMessages is logged and the event
// dropped. With KafkaConfig.Async set (the default), WriteMessages does not
// report delivery failures, so those are not logged.
type Publisher struct {
	writer *kafka.Writer
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPublisher builds a Publisher from KafkaConfig, partitioning events
// by function name the same way the teacher partitions weather metrics
// by zipcode.
func NewPublisher(cfg config.KafkaConfig) *Publisher {
	var compression compress.Compression
	switch cfg.Compression {
	case "snappy":
		compression = compress.Snappy
	case "lz4":
		compression = compress.Lz4
	case "gzip":
		compression = compress.Gzip
	case "zstd":
		compression = compress.Zstd
	}

	var requiredAcks kafka.RequiredAcks
	switch cfg.RequiredAcks {
	case -1:
		requiredAcks = kafka.RequireAll
	case 0:
		requiredAcks = kafka.RequireNone
	default:
		requiredAcks = kafka.RequireOne
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicEvents,
		Balancer:     &kafka.Hash{}, // partition by function_name
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		Compression:  compression,
		Async:        cfg.Async,
		RequiredAcks: requiredAcks,
		MaxAttempts:  cfg.MaxAttempts,
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Publisher{writer: writer, ctx: ctx, cancel: cancel}
}

// Publish implements broker.EventPublisher.
func (p *Publisher) Publish(e broker.Event) {
	data, err := json.Marshal(JobEvent{
		Handle:    e.Handle,
		Function:  e.Function,
		Priority:  e.Priority,
		Kind:      e.Kind,
		Timestamp: e.Timestamp,
	})
	if err != nil {
		fmt.Printf("events: failed to encode %s for %s: %v\n", e.Kind, e.Handle, err)
		return
	}

	go func() {
		msg := kafka.Message{Key: []byte(e.Function), Value: data}
		if err := p.writer.WriteMessages(p.ctx, msg); err != nil {
			fmt.Printf("events: failed to publish %s for %s: %v\n", e.Kind, e.Handle, err)
		}
	}()
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	p.cancel()
	return p.writer.Close()
}

// Consumer wraps a Kafka reader for the audit sink.
type Consumer struct {
	reader *kafka.Reader
}

// NewConsumer creates a consumer for the job-events topic, reusing the
// teacher's reader defaults: offsets are committed manually (CommitInterval
// 0, so Commit is synchronous), and a fresh consumer group starts from
// kafka-go's default start offset, the first offset. Delivery is
// at-least-once, not exactly-once.
func NewConsumer(cfg config.KafkaConfig, groupID string) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        cfg.Brokers,
			Topic:          cfg.TopicEvents,
			GroupID:        groupID,
			MinBytes:       1,
			MaxBytes:       10e6,
			CommitInterval: 0,
		}),
	}
}

// Consume reads and decodes the next event.
func (c *Consumer) Consume(ctx context.Context) (JobEvent, kafka.Message, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return JobEvent{}, kafka.Message{}, fmt.Errorf("events: failed to fetch message: %w", err)
	}
	var ev JobEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return JobEvent{}, msg, fmt.Errorf("events: failed to decode message: %w", err)
	}
	return ev, msg, nil
}

// Commit commits a message's offset.
func (c *Consumer) Commit(ctx context.Context, msg kafka.Message) error {
	return c.reader.CommitMessages(ctx, msg)
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// CreateTopic creates the job-events topic if it does not already exist.
func CreateTopic(cfg config.KafkaConfig, numPartitions int) error {
	conn, err := kafka.Dial("tcp", cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("events: failed to dial broker: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("events: failed to get controller: %w", err)
	}

	controllerConn, err := kafka.Dial("tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	if err != nil {
		return fmt.Errorf("events: failed to dial controller: %w", err)
	}
	defer controllerConn.Close()

	return controllerConn.CreateTopics(kafka.TopicConfig{
		Topic:             cfg.TopicEvents,
		NumPartitions:     numPartitions,
		ReplicationFactor: 1,
	})
}
