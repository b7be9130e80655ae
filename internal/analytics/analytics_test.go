package analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestAggregatorStats(t *testing.T) {
	a := NewAggregator()
	start := a.startTime
	a.now = func() time.Time { return start.Add(2 * time.Minute) }

	for i, ev := range []SearchEvent{
		{Query: "Redux", Terms: []string{"redux"}, Total: 2, LatencyMs: 10, Language: "TypeScript"},
		{Query: "redux ", Terms: []string{"redux"}, Total: 2, LatencyMs: 20, CacheHit: true},
		{Query: "kube", Terms: []string{"kube"}, Total: 3, LatencyMs: 30},
		{Query: "zzz", Terms: []string{"zzz"}, Total: 0, LatencyMs: 40, Version: "abcd"},
	} {
		ev.Timestamp = start.Add(time.Duration(i) * time.Second)
		a.Record(NewSearchEvent(ev))
	}

	s := a.Stats()
	if s.TotalSearches != 4 || s.CacheHits != 1 || s.CacheMisses != 3 || s.ZeroResultCount != 1 {
		t.Fatalf("counters = %+v", s)
	}
	if s.AvgLatencyMs != 25 || s.P50LatencyMs != 30 || s.P99LatencyMs != 40 {
		t.Errorf("latency avg=%v p50=%d p99=%d", s.AvgLatencyMs, s.P50LatencyMs, s.P99LatencyMs)
	}
	if len(s.TopQueries) != 3 || s.TopQueries[0] != (QueryCount{Query: "redux", Count: 2}) {
		t.Errorf("top queries = %+v", s.TopQueries)
	}
	if len(s.ZeroResultQueries) != 1 || s.ZeroResultQueries[0].Query != "zzz" {
		t.Errorf("zero result queries = %+v", s.ZeroResultQueries)
	}
	if s.QueriesPerMinute != 2 {
		t.Errorf("qpm = %v, want 2", s.QueriesPerMinute)
	}
	if s.IndexVersion != "abcd" {
		t.Errorf("version = %q", s.IndexVersion)
	}
}

func TestLatencyWindowIsBounded(t *testing.T) {
	a := NewAggregator()
	for i := 0; i < latencyWindow+500; i++ {
		a.Record(SearchEvent{Query: "q", Total: 1, LatencyMs: int64(i)})
	}
	if len(a.latencies) != latencyWindow {
		t.Fatalf("kept %d latencies", len(a.latencies))
	}
	if s := a.Stats(); s.TotalSearches != latencyWindow+500 {
		t.Errorf("total = %d", s.TotalSearches)
	}
}

func TestNewSearchEventType(t *testing.T) {
	if NewSearchEvent(SearchEvent{Total: 0}).Type != EventZeroResult {
		t.Error("zero total should be a zero_result event")
	}
	ev := NewSearchEvent(SearchEvent{Total: 5})
	if ev.Type != EventSearch || ev.Timestamp.IsZero() {
		t.Errorf("event = %+v", ev)
	}
}

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSink) Track(key, eventType string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, eventType+":"+key)
}

func TestCollectorFansOut(t *testing.T) {
	agg := NewAggregator()
	sink := &recordingSink{}
	c := NewCollector(agg, sink, 16)
	c.Start(context.Background())

	c.Track(SearchEvent{Query: "redux", Terms: []string{"redux"}, Total: 1})
	c.Track(SearchEvent{Query: "kube", Terms: []string{"kube"}, Total: 3})
	c.Close()

	if got := agg.Stats().TotalSearches; got != 2 {
		t.Errorf("aggregated %d events, want 2", got)
	}
	if len(sink.events) != 2 || sink.events[0] != KafkaEventType+":redux" {
		t.Errorf("sink events = %v", sink.events)
	}
}

func TestCollectorDropsWhenFull(t *testing.T) {
	c := NewCollector(NewAggregator(), nil, 1)
	c.Track(SearchEvent{Query: "a"})
	c.Track(SearchEvent{Query: "b"})
	if c.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", c.Dropped())
	}
}

func TestHandlerServesStats(t *testing.T) {
	agg := NewAggregator()
	agg.Record(SearchEvent{Query: "redux", Terms: []string{"redux"}, Total: 1, LatencyMs: 5})

	rec := httptest.NewRecorder()
	NewHandler(agg).Stats(rec, httptest.NewRequest(http.MethodGet, "/api/analytics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got AggregatedStats
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.TotalSearches != 1 || got.TopQueries[0].Query != "redux" {
		t.Errorf("body = %+v", got)
	}
}
