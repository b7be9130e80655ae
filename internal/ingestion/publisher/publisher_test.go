package publisher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/kafka"
)

type recordingEvents struct {
	events []kafka.Event
	err    error
}

func (r *recordingEvents) Publish(_ context.Context, e kafka.Event) error {
	r.events = append(r.events, e)
	return r.err
}

type countingTrigger struct{ n int }

func (c *countingTrigger) Trigger() { c.n++ }

func TestRecordWritesMetadataAndAnnounces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "db-metadata.json")
	events := &recordingEvents{}
	trig := &countingTrigger{}
	p := New(path, events, trig, "replica-1")

	lists := int64(3)
	n := &ingestion.Notification{Version: "v42", Timestamp: "2024-06-01T00:00:00Z", ListsCount: &lists}
	raw := []byte(`{"version":"v42","timestamp":"2024-06-01T00:00:00Z","lists_count":3,"build":"ci-17"}`)
	if err := p.Record(context.Background(), n, raw); err != nil {
		t.Fatalf("Record() = %v", err)
	}

	md, err := p.Metadata()
	if err != nil {
		t.Fatal(err)
	}
	if md["version"] != "v42" || md["build"] != "ci-17" || md["lists_count"] != float64(3) {
		t.Errorf("metadata = %v", md)
	}

	if len(events.events) != 1 {
		t.Fatalf("published %d events", len(events.events))
	}
	ev := events.events[0]
	if ev.Type != ingestion.EventSnapshotAvailable || ev.Key != "v42" {
		t.Errorf("event = %+v", ev)
	}
	if se := ev.Value.(ingestion.SnapshotEvent); se.Origin != "replica-1" || se.Version != "v42" {
		t.Errorf("event value = %+v", se)
	}
	if trig.n != 1 {
		t.Errorf("trigger called %d times", trig.n)
	}
}

func TestRecordSurvivesKafkaOutage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db-metadata.json")
	trig := &countingTrigger{}
	p := New(path, &recordingEvents{err: errors.New("broker down")}, trig, "a")
	err := p.Record(context.Background(), &ingestion.Notification{Version: "v1", Timestamp: "t"}, []byte(`{"version":"v1","timestamp":"t"}`))
	if err != nil {
		t.Fatalf("Kafka failure must not fail the webhook: %v", err)
	}
	if trig.n != 1 {
		t.Error("local rebuild should still be triggered")
	}
}

func TestReadMetadataMissing(t *testing.T) {
	md, err := ReadMetadata(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil || md != nil {
		t.Fatalf("ReadMetadata(missing) = %v, %v", md, err)
	}

	bad := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(bad, []byte("{not json"), 0o644)
	if _, err := ReadMetadata(bad); err == nil {
		t.Fatal("corrupt metadata should be an error")
	}
}
