package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestLoadTestRecordsResponses(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/search" || r.URL.Query().Get("q") == "" {
			http.NotFound(w, r)
			return
		}
		if calls.Add(1)%2 == 0 {
			w.Header().Set("X-Cache", "hit")
		}
		w.Write([]byte(`{"results":[],"total":0}`))
	}))
	defer srv.Close()

	lt := loadTest{
		BaseURL:     srv.URL,
		Concurrency: 2,
		Duration:    200 * time.Millisecond,
		PageSize:    5,
		Queries:     []string{"react", "go cli"},
	}
	stats := lt.Run(context.Background())

	if stats.total.Load() == 0 {
		t.Fatal("no requests recorded")
	}
	if stats.failed.Load() != 0 {
		t.Errorf("failed = %d, want 0", stats.failed.Load())
	}
	if stats.cacheHits.Load() == 0 {
		t.Error("expected some cache hits")
	}

	var out bytes.Buffer
	stats.Report(&out, lt.Duration)
	for _, want := range []string{"Total Requests:", "P99", "200:"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("report missing %q:\n%s", want, out.String())
		}
	}
}

func TestLatencyPercentile(t *testing.T) {
	sorted := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if got := latencyPercentile(sorted, 50); got != 5 {
		t.Errorf("p50 = %v, want 5", got)
	}
	if got := latencyPercentile(sorted, 99); got != 10 {
		t.Errorf("p99 = %v, want 10", got)
	}
	if got := latencyPercentile(nil, 50); got != 0 {
		t.Errorf("empty = %v", got)
	}
}
