package analytics

import (
	"cmp"
	"slices"
	"strings"
	"sync"
	"time"
)

// latencyWindow bounds how many recent latencies feed the percentiles.
const latencyWindow = 10000

type AggregatedStats struct {
	TotalSearches     int64        `json:"total_searches"`
	CacheHits         int64        `json:"cache_hits"`
	CacheMisses       int64        `json:"cache_misses"`
	ZeroResultCount   int64        `json:"zero_result_count"`
	AvgLatencyMs      float64      `json:"avg_latency_ms"`
	P50LatencyMs      int64        `json:"p50_latency_ms"`
	P95LatencyMs      int64        `json:"p95_latency_ms"`
	P99LatencyMs      int64        `json:"p99_latency_ms"`
	TopQueries        []QueryCount `json:"top_queries"`
	ZeroResultQueries []QueryCount `json:"zero_result_queries"`
	TopLanguages      []QueryCount `json:"top_language_filters"`
	QueriesPerMinute  float64      `json:"queries_per_minute"`
	IndexVersion      string       `json:"index_version,omitempty"`
	Since             time.Time    `json:"since"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// Aggregator keeps running search statistics in memory.
type Aggregator struct {
	mu                sync.Mutex
	totalSearches     int64
	cacheHits         int64
	cacheMisses       int64
	zeroResults       int64
	latencies         []int64
	next              int
	queryCounts       map[string]int64
	zeroResultQueries map[string]int64
	languageCounts    map[string]int64
	lastVersion       string
	startTime         time.Time
	now               func() time.Time
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies:         make([]int64, 0, 1024),
		queryCounts:       make(map[string]int64),
		zeroResultQueries: make(map[string]int64),
		languageCounts:    make(map[string]int64),
		startTime:         time.Now().UTC(),
		now:               time.Now,
	}
}

// Record adds one search to the statistics. Queries are counted by their
// normalized terms so "Redux" and "redux " collapse.
func (a *Aggregator) Record(event SearchEvent) {
	query := normalizedQuery(event)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.totalSearches++
	if event.CacheHit {
		a.cacheHits++
	} else {
		a.cacheMisses++
	}
	if len(a.latencies) < latencyWindow {
		a.latencies = append(a.latencies, event.LatencyMs)
	} else {
		a.latencies[a.next] = event.LatencyMs
		a.next = (a.next + 1) % latencyWindow
	}
	a.queryCounts[query]++
	if event.Total == 0 {
		a.zeroResults++
		a.zeroResultQueries[query]++
	}
	if event.Language != "" {
		a.languageCounts[event.Language]++
	}
	if event.Version != "" {
		a.lastVersion = event.Version
	}
}

func normalizedQuery(event SearchEvent) string {
	if len(event.Terms) == 0 {
		return event.Query
	}
	return strings.Join(event.Terms, " ")
}

func (a *Aggregator) Stats() AggregatedStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats := AggregatedStats{
		TotalSearches:   a.totalSearches,
		CacheHits:       a.cacheHits,
		CacheMisses:     a.cacheMisses,
		ZeroResultCount: a.zeroResults,
		IndexVersion:    a.lastVersion,
		Since:           a.startTime,
	}
	if len(a.latencies) > 0 {
		sorted := slices.Clone(a.latencies)
		slices.Sort(sorted)
		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	stats.TopQueries = topN(a.queryCounts, 10)
	stats.ZeroResultQueries = topN(a.zeroResultQueries, 10)
	stats.TopLanguages = topN(a.languageCounts, 10)
	if elapsed := a.now().Sub(a.startTime).Minutes(); elapsed > 0 {
		stats.QueriesPerMinute = float64(stats.TotalSearches) / elapsed
	}
	return stats
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func topN(counts map[string]int64, n int) []QueryCount {
	result := make([]QueryCount, 0, len(counts))
	for query, count := range counts {
		result = append(result, QueryCount{Query: query, Count: count})
	}
	slices.SortFunc(result, func(a, b QueryCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Query, b.Query)
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
