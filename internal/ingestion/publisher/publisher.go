// Package publisher records accepted dataset notifications and announces
// them: the metadata is written to disk for the version probe, a
// SnapshotEvent goes to Kafka for the other replicas and the local
// refresher is asked to rebuild.
package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/kafka"
)

// EventPublisher is satisfied by *kafka.Producer.
type EventPublisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Trigger is satisfied by the index refresher.
type Trigger interface {
	Trigger()
}

type Publisher struct {
	metadataPath string
	events       EventPublisher
	trigger      Trigger
	origin       string
	now          func() time.Time
	logger       *slog.Logger
}

// New creates a Publisher. events and trigger may be nil when Kafka or
// local rebuilds are disabled; origin names this instance in events.
func New(metadataPath string, events EventPublisher, trigger Trigger, origin string) *Publisher {
	return &Publisher{
		metadataPath: metadataPath,
		events:       events,
		trigger:      trigger,
		origin:       origin,
		now:          time.Now,
		logger:       slog.Default().With("component", "publisher"),
	}
}

// Record stores raw, the notification body exactly as received, and
// announces the new dataset. Only the metadata write can fail the call; a
// Kafka outage is logged and the local rebuild still happens.
func (p *Publisher) Record(ctx context.Context, n *ingestion.Notification, raw []byte) error {
	if err := p.writeMetadata(raw); err != nil {
		return err
	}

	if p.events != nil {
		event := kafka.Event{
			Key:  n.Version,
			Type: ingestion.EventSnapshotAvailable,
			Value: ingestion.SnapshotEvent{
				Version:    n.Version,
				Timestamp:  n.Timestamp,
				ListsCount: n.ListsCount,
				ReposCount: n.ReposCount,
				Origin:     p.origin,
				ReceivedAt: p.now().UTC(),
			},
		}
		if err := p.events.Publish(ctx, event); err != nil {
			p.logger.Error("failed to publish snapshot event, other replicas will pick it up on their next scheduled rebuild",
				"version", n.Version,
				"error", err,
			)
		}
	}
	if p.trigger != nil {
		p.trigger.Trigger()
	}
	p.logger.Info("dataset notification recorded",
		"version", n.Version,
		"timestamp", n.Timestamp,
		"lists", n.ListsCount,
		"repos", n.ReposCount,
	)
	return nil
}

func (p *Publisher) writeMetadata(raw []byte) error {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return fmt.Errorf("formatting metadata: %w", err)
	}
	dir := filepath.Dir(p.metadataPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating metadata directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".db-metadata-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp metadata file: %w", err)
	}
	if _, err := tmp.Write(pretty.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing metadata file: %w", err)
	}
	if err := os.Rename(tmp.Name(), p.metadataPath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("renaming metadata file: %w", err)
	}
	return nil
}

// Metadata returns the last recorded notification, or nil when none has
// been recorded yet.
func (p *Publisher) Metadata() (map[string]any, error) {
	return ReadMetadata(p.metadataPath)
}

// ReadMetadata loads a metadata file written by Record.
func ReadMetadata(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading metadata: %w", err)
	}
	var md map[string]any
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("parsing metadata %s: %w", path, err)
	}
	return md, nil
}
