// Package consumer reads snapshot-available events from Kafka and asks the
// local refresher to rebuild, so every replica follows a dataset update
// received by any one of them.
package consumer

import (
	"context"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/kafka"
)

// Trigger is satisfied by *indexer.Refresher.
type Trigger interface {
	Trigger()
}

// RebuildConsumer wraps a Kafka consumer to drive index rebuilds.
type RebuildConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

// New creates a RebuildConsumer backed by the given Kafka consumer.
func New(kafkaConsumer *kafka.Consumer) *RebuildConsumer {
	return &RebuildConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "rebuild-consumer"),
	}
}

// Start begins consuming Kafka messages. It blocks until ctx is cancelled.
func (rc *RebuildConsumer) Start(ctx context.Context) error {
	rc.logger.Info("rebuild consumer starting")
	return rc.consumer.Start(ctx)
}

// HandleMessage returns a Kafka MessageHandler that triggers a rebuild for
// every snapshot event. Events this instance published itself are skipped
// because the webhook already triggered the rebuild locally, as are
// messages of another event type.
func HandleMessage(trigger Trigger, self string) kafka.MessageHandler {
	logger := slog.Default().With("component", "rebuild-consumer")
	return func(ctx context.Context, msg kafka.Message) error {
		if msg.Type != "" && msg.Type != ingestion.EventSnapshotAvailable {
			logger.Debug("ignoring event", "type", msg.Type)
			return nil
		}
		event, err := kafka.DecodeJSON[ingestion.SnapshotEvent](msg.Value)
		if err != nil {
			logger.Error("failed to decode snapshot event",
				"error", err,
				"key", string(msg.Key),
			)
			return nil
		}
		if event.Origin == self {
			logger.Debug("skipping own snapshot event", "version", event.Version)
			return nil
		}
		logger.Info("snapshot event received, scheduling rebuild",
			"version", event.Version,
			"origin", event.Origin,
		)
		trigger.Trigger()
		return nil
	}
}
