package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/smukkama/gearmand/internal/events"
)

// BatchWriter consumes job-lifecycle events and batch-writes them into
// the audit database, flushing on whichever comes first: batch size or
// flush interval. Mirrors the teacher's queue.BatchWriter shape exactly,
// swapping weather metrics for job events.
type BatchWriter struct {
	consumer      *events.Consumer
	db            *DB
	batchSize     int
	flushInterval time.Duration
	stopCh        chan struct{}
	wg            sync.WaitGroup
}

// NewBatchWriter builds a BatchWriter.
func NewBatchWriter(consumer *events.Consumer, db *DB, batchSize int, flushInterval time.Duration) *BatchWriter {
	return &BatchWriter{
		consumer:      consumer,
		db:            db,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
	}
}

type pendingEvent struct {
	event events.JobEvent
	msg   kafka.Message
}

// Start begins consuming and writing in the background.
func (bw *BatchWriter) Start(ctx context.Context) error {
	bw.wg.Add(1)
	go bw.run(ctx)
	return nil
}

// Stop stops the batch writer, flushing whatever is pending.
func (bw *BatchWriter) Stop() {
	close(bw.stopCh)
	bw.wg.Wait()
}

func (bw *BatchWriter) run(ctx context.Context) {
	defer bw.wg.Done()

	var batch []pendingEvent
	ticker := time.NewTicker(bw.flushInterval)
	defer ticker.Stop()

	evChan := make(chan pendingEvent, 10)
	go func() {
		for {
			ev, msg, err := bw.consumer.Consume(ctx)
			if err != nil {
				fmt.Printf("audit: consumer error: %v\n", err)
				continue
			}
			evChan <- pendingEvent{event: ev, msg: msg}
		}
	}()

	for {
		select {
		case <-bw.stopCh:
			if len(batch) > 0 {
				bw.flush(ctx, batch)
			}
			return

		case <-ticker.C:
			if len(batch) > 0 {
				bw.flush(ctx, batch)
				batch = nil
			}

		case pe := <-evChan:
			batch = append(batch, pe)
			if len(batch) >= bw.batchSize {
				bw.flush(ctx, batch)
				batch = nil
			}
		}
	}
}

func (bw *BatchWriter) flush(ctx context.Context, batch []pendingEvent) {
	if len(batch) == 0 {
		return
	}

	written := 0
	for _, pe := range batch {
		row := &JobEventRow{
			Handle:     pe.event.Handle,
			Function:   pe.event.Function,
			Priority:   pe.event.Priority,
			Kind:       pe.event.Kind,
			OccurredAt: pe.event.Timestamp,
			RecordedAt: time.Now(),
		}
		if err := bw.db.InsertJobEvent(row); err != nil {
			fmt.Printf("audit: failed to insert event: %v\n", err)
			continue
		}
		written++

		if err := bw.consumer.Commit(ctx, pe.msg); err != nil {
			fmt.Printf("audit: failed to commit offset: %v\n", err)
		}
	}

	fmt.Printf("audit: flushed %d/%d events\n", written, len(batch))
}
