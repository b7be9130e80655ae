// Package collector batches search events and ships them to Kafka in bulk,
// off the request path.
package collector

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/kafka"
)

// publishTimeout bounds one PublishBatch call.
const publishTimeout = 10 * time.Second

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// Stats counts what the collector has done since it was created.
type Stats struct {
	Published     int64 `json:"published"`
	Dropped       int64 `json:"dropped"`
	FailedFlushes int64 `json:"failed_flushes"`
	Buffered      int   `json:"buffered"`
}

// BatchCollector buffers events and publishes them when a batch fills up or
// every flushInterval. A failed batch goes back to the front of the buffer,
// which is capped at three batches; the oldest events beyond that are
// dropped.
type BatchCollector struct {
	publisher     Publisher
	batchSize     int
	flushInterval time.Duration

	mu     sync.Mutex
	buffer []kafka.Event
	// flushMu keeps batches in order across concurrent flushes.
	flushMu sync.Mutex
	full    chan struct{}
	done    chan struct{}

	published atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
	logger    *slog.Logger
}

func NewBatchCollector(publisher Publisher, batchSize int, flushInterval time.Duration) *BatchCollector {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &BatchCollector{
		publisher:     publisher,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		buffer:        make([]kafka.Event, 0, batchSize),
		full:          make(chan struct{}, 1),
		done:          make(chan struct{}),
		logger:        slog.Default().With("component", "batch-collector"),
	}
}

// Start runs the flush loop until ctx is cancelled, then flushes once more.
func (bc *BatchCollector) Start(ctx context.Context) {
	go func() {
		defer close(bc.done)
		ticker := time.NewTicker(bc.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
			case <-bc.full:
			case <-ctx.Done():
				bc.Flush(context.Background())
				return
			}
			bc.Flush(ctx)
		}
	}()
	bc.logger.Info("batch collector started",
		"batch_size", bc.batchSize,
		"flush_interval", bc.flushInterval,
	)
}

// Track buffers one event and wakes the flush loop once a batch is full.
// It never blocks on Kafka.
func (bc *BatchCollector) Track(key, eventType string, value any) {
	bc.mu.Lock()
	bc.buffer = append(bc.buffer, kafka.Event{Key: key, Type: eventType, Value: value})
	full := len(bc.buffer) >= bc.batchSize
	bc.mu.Unlock()

	if full {
		select {
		case bc.full <- struct{}{}:
		default:
		}
	}
}

// Close waits for the flush loop to exit.
func (bc *BatchCollector) Close() {
	<-bc.done
}

func (bc *BatchCollector) BufferLen() int {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return len(bc.buffer)
}

func (bc *BatchCollector) Stats() Stats {
	return Stats{
		Published:     bc.published.Load(),
		Dropped:       bc.dropped.Load(),
		FailedFlushes: bc.failed.Load(),
		Buffered:      bc.BufferLen(),
	}
}

// Flush publishes everything buffered so far.
func (bc *BatchCollector) Flush(ctx context.Context) {
	bc.flushMu.Lock()
	defer bc.flushMu.Unlock()

	bc.mu.Lock()
	batch := bc.buffer
	bc.buffer = make([]kafka.Event, 0, bc.batchSize)
	bc.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := bc.publisher.PublishBatch(ctx, batch); err != nil {
		bc.failed.Add(1)
		bc.logger.Error("batch flush failed", "events", len(batch), "error", err)
		bc.requeue(batch)
		return
	}
	bc.published.Add(int64(len(batch)))
	bc.logger.Debug("batch flushed", "events", len(batch))
}

func (bc *BatchCollector) requeue(batch []kafka.Event) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.buffer = append(batch, bc.buffer...)
	if limit := 3 * bc.batchSize; len(bc.buffer) > limit {
		n := len(bc.buffer) - limit
		bc.buffer = bc.buffer[n:]
		bc.dropped.Add(int64(n))
		bc.logger.Warn("analytics buffer full, oldest events dropped", "dropped", n)
	}
}
