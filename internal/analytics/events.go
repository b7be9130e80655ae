package analytics

import "time"

type EventType string

const (
	EventSearch     EventType = "search"
	EventZeroResult EventType = "zero_result"
)

// KafkaEventType is the event-type header search events carry on the
// analytics topic.
const KafkaEventType = "search.performed"

// SearchEvent describes one answered /api/search request.
type SearchEvent struct {
	Type      EventType `json:"type"`
	Query     string    `json:"query"`
	Terms     []string  `json:"terms"`
	Language  string    `json:"language,omitempty"`
	Category  string    `json:"category,omitempty"`
	SortBy    string    `json:"sort_by"`
	Page      int       `json:"page"`
	Total     int       `json:"total"`
	Returned  int       `json:"returned"`
	LatencyMs int64     `json:"latency_ms"`
	CacheHit  bool      `json:"cache_hit"`
	Version   string    `json:"index_version"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// NewSearchEvent fills in Type from total.
func NewSearchEvent(ev SearchEvent) SearchEvent {
	ev.Type = EventSearch
	if ev.Total == 0 {
		ev.Type = EventZeroResult
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	return ev
}
