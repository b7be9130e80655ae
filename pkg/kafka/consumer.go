package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/config"
)

// Message is what a MessageHandler sees of a Kafka record. Type is the
// "event-type" header written by Producer, empty for foreign producers.
type Message struct {
	Key       []byte
	Type      string
	Value     []byte
	Partition int
	Offset    int64
}

// MessageHandler processes one message. A returned error leaves the
// message uncommitted so it is redelivered after a rebalance or restart.
type MessageHandler func(ctx context.Context, msg Message) error

// reader is the subset of *kafka.Reader the consume loop needs.
type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads a topic and dispatches each message to a MessageHandler.
type Consumer struct {
	reader  reader
	handler MessageHandler
	backoff time.Duration
	logger  *slog.Logger
}

// NewConsumer creates a Consumer for topic. groupID overrides
// cfg.ConsumerGroup when non-empty; replicas that must each see every
// message pass a per-instance group.
func NewConsumer(cfg config.KafkaConfig, topic, groupID string, handler MessageHandler) *Consumer {
	if groupID == "" {
		groupID = cfg.ConsumerGroup
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    1e6,
		MaxWait:     time.Second,
		StartOffset: kafka.LastOffset,
	})
	return newConsumer(r, handler, slog.Default().With("component", "kafka-consumer", "topic", topic, "group", groupID))
}

func newConsumer(r reader, handler MessageHandler, logger *slog.Logger) *Consumer {
	return &Consumer{
		reader:  r,
		handler: handler,
		backoff: time.Second,
		logger:  logger,
	}
}

// Start consumes until ctx is cancelled, then closes the reader. Fetch
// errors are retried after a pause rather than spinning.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			c.logger.Error("fetching message failed", "error", err, "retry_in", c.backoff)
			select {
			case <-time.After(c.backoff):
				continue
			case <-ctx.Done():
				return nil
			}
		}
		c.process(ctx, msg)
	}
}

func (c *Consumer) process(ctx context.Context, raw kafka.Message) {
	msg := Message{
		Key:       raw.Key,
		Value:     raw.Value,
		Partition: raw.Partition,
		Offset:    raw.Offset,
	}
	for _, h := range raw.Headers {
		if h.Key == eventTypeHeader {
			msg.Type = string(h.Value)
		}
	}
	log := c.logger.With("partition", msg.Partition, "offset", msg.Offset, "type", msg.Type)
	if err := c.handler(ctx, msg); err != nil {
		log.Error("handler failed, message left uncommitted", "error", err)
		return
	}
	if err := c.reader.CommitMessages(ctx, raw); err != nil {
		log.Error("commit failed", "error", err)
	}
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DecodeJSON unmarshals a message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
