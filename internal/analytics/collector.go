package analytics

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Recorder consumes search events in process.
type Recorder interface {
	Record(SearchEvent)
}

// Sink forwards events off the process, typically to Kafka.
type Sink interface {
	Track(key, eventType string, value any)
}

// Collector decouples request handling from analytics: Track never blocks,
// and a single goroutine fans events out to the recorder and the sink.
type Collector struct {
	recorder Recorder
	sink     Sink
	eventCh  chan SearchEvent
	dropped  atomic.Int64
	logger   *slog.Logger
	done     chan struct{}
}

// NewCollector creates a Collector. sink may be nil.
func NewCollector(recorder Recorder, sink Sink, bufferSize int) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &Collector{
		recorder: recorder,
		sink:     sink,
		eventCh:  make(chan SearchEvent, bufferSize),
		logger:   slog.Default().With("component", "analytics-collector"),
		done:     make(chan struct{}),
	}
}

func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		for {
			select {
			case event, ok := <-c.eventCh:
				if !ok {
					return
				}
				c.dispatch(event)
			case <-ctx.Done():
				c.drainRemaining()
				return
			}
		}
	}()
	c.logger.Info("analytics collector started", "buffer_size", cap(c.eventCh))
}

// Track queues event, dropping it when the buffer is full.
func (c *Collector) Track(event SearchEvent) {
	select {
	case c.eventCh <- event:
	default:
		if c.dropped.Add(1)%1000 == 1 {
			c.logger.Warn("analytics event dropped (buffer full)", "dropped_total", c.dropped.Load())
		}
	}
}

func (c *Collector) Dropped() int64 { return c.dropped.Load() }

// Close stops accepting events and waits for queued ones to be handled.
// Track must not be called after Close.
func (c *Collector) Close() {
	close(c.eventCh)
	<-c.done
}

func (c *Collector) dispatch(event SearchEvent) {
	if c.recorder != nil {
		c.recorder.Record(event)
	}
	if c.sink != nil {
		c.sink.Track(event.Query, KafkaEventType, event)
	}
}

func (c *Collector) drainRemaining() {
	for {
		select {
		case event, ok := <-c.eventCh:
			if !ok {
				return
			}
			c.dispatch(event)
		default:
			return
		}
	}
}
