package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	goredis "github.com/redis/go-redis/v9"

	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/catalog/catalogtest"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/snapshot"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/metrics"
)

func publishedManager(t *testing.T) *snapshot.Manager {
	t.Helper()
	build, err := indexer.NewBuilder(2).Build(context.Background(), catalogtest.Sample().Snapshot(t))
	if err != nil {
		t.Fatal(err)
	}
	m := snapshot.NewManager()
	if _, err := m.Publish(build.Generation); err != nil {
		t.Fatal(err)
	}
	return m
}

func newServer(t *testing.T, leaser Leaser, opts Options) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	New(leaser, executor.New(config.SearchConfig{}), opts).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, srv *httptest.Server, path string, into any) int {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("%s: content type %q", path, ct)
	}
	if into != nil {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			t.Fatalf("%s: decoding body: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestSearchEndpoint(t *testing.T) {
	srv := newServer(t, publishedManager(t), Options{})

	var page executor.Page[executor.SearchResult]
	if code := get(t, srv, "/api/search?q=kube&sortBy=stars&limit=2", &page); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if page.Total != 3 || page.TotalPages != 2 || page.PageSize != 2 || len(page.Results) != 2 {
		t.Fatalf("page = %+v", page)
	}
	if page.Results[0].RepositoryName != "kubernetes" {
		t.Errorf("first result = %s", page.Results[0].RepositoryName)
	}

	var filtered executor.Page[executor.SearchResult]
	get(t, srv, "/api/search?q=kube&minStars=26000&language=Go&category=DevOps", &filtered)
	if filtered.Total != 2 {
		t.Errorf("filtered total = %d, want 2", filtered.Total)
	}
}

func TestSearchEmptyCorpus(t *testing.T) {
	build, err := indexer.NewBuilder(2).Build(context.Background(), catalogtest.Fixture{}.Snapshot(t))
	if err != nil {
		t.Fatal(err)
	}
	m := snapshot.NewManager()
	if _, err := m.Publish(build.Generation); err != nil {
		t.Fatal(err)
	}
	srv := newServer(t, m, Options{})

	var body map[string]json.RawMessage
	if code := get(t, srv, "/api/search?q=redux", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	for field, want := range map[string]string{"results": "[]", "total": "0", "totalPages": "0"} {
		if got := string(body[field]); got != want {
			t.Errorf("%s = %s, want %s", field, got, want)
		}
	}
}

func TestSearchHugePage(t *testing.T) {
	srv := newServer(t, publishedManager(t), Options{})
	var page executor.Page[executor.SearchResult]
	if code := get(t, srv, "/api/search?q=redux&page=461168601842738792", &page); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(page.Results) != 0 || page.Total != 2 {
		t.Errorf("page = %+v", page)
	}
}

func TestSearchErrors(t *testing.T) {
	srv := newServer(t, publishedManager(t), Options{})

	tests := []struct {
		path    string
		status  int
		message string
	}{
		{"/api/search", http.StatusBadRequest, "query parameter 'q' is required"},
		{"/api/search?q=%20%20", http.StatusBadRequest, "query parameter 'q' is required"},
		{"/api/search?q=redux&limit=abc", http.StatusBadRequest, "limit must be a positive integer"},
		{"/api/search?q=redux&page=0", http.StatusBadRequest, "page must be a positive integer"},
		{"/api/search?q=redux&minStars=lots", http.StatusBadRequest, "minStars must be an integer"},
		{"/api/search?q=redux&sortBy=popular", http.StatusBadRequest, "sortBy must be one of relevance, stars, recent"},
	}
	for _, tt := range tests {
		var body map[string]string
		if code := get(t, srv, tt.path, &body); code != tt.status {
			t.Errorf("%s: status = %d, want %d", tt.path, code, tt.status)
		}
		if body["error"] != tt.message {
			t.Errorf("%s: error = %q, want %q", tt.path, body["error"], tt.message)
		}
	}
}

func TestUnavailableBeforeFirstGeneration(t *testing.T) {
	srv := newServer(t, snapshot.NewManager(), Options{})
	for _, path := range []string{"/api/search?q=redux", "/api/lists", "/api/stats", "/api/db-version"} {
		var body map[string]string
		if code := get(t, srv, path, &body); code != http.StatusServiceUnavailable {
			t.Errorf("%s: status = %d, want 503", path, code)
		}
		if body["error"] == "" {
			t.Errorf("%s: missing error message", path)
		}
	}
}

func TestListEndpoints(t *testing.T) {
	srv := newServer(t, publishedManager(t), Options{})

	var lists struct {
		Lists      []map[string]any `json:"lists"`
		Categories []executor.Count `json:"categories"`
		Total      int              `json:"total"`
	}
	get(t, srv, "/api/lists", &lists)
	if lists.Total != 3 || len(lists.Categories) != 3 || lists.Lists[0]["name"] != "awesome-react" {
		t.Errorf("lists = %+v", lists)
	}
	get(t, srv, "/api/lists?category=Databases", &lists)
	if lists.Total != 1 {
		t.Errorf("filtered total = %d", lists.Total)
	}

	var detail struct {
		List         map[string]any                `json:"list"`
		Repositories executor.Page[map[string]any] `json:"repositories"`
	}
	if code := get(t, srv, "/api/lists/2?limit=2", &detail); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if detail.List["name"] != "awesome-kubernetes" || detail.Repositories.Total != 3 || len(detail.Repositories.Results) != 2 {
		t.Errorf("detail = %+v", detail)
	}

	var errBody map[string]string
	if code := get(t, srv, "/api/lists/abc", &errBody); code != http.StatusBadRequest || errBody["error"] != "Invalid list ID" {
		t.Errorf("bad id: %d %v", code, errBody)
	}
	if code := get(t, srv, "/api/lists/99", &errBody); code != http.StatusNotFound || errBody["error"] != "List not found" {
		t.Errorf("missing list: %d %v", code, errBody)
	}
}

func TestRepositoryEndpoint(t *testing.T) {
	srv := newServer(t, publishedManager(t), Options{})

	var repo map[string]any
	if code := get(t, srv, "/api/repositories/10", &repo); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	readme, ok := repo["readme"].(map[string]any)
	if !ok || readme["content"] != "# Redux\n\nRedux is a predictable state container for JavaScript apps." {
		t.Errorf("readme = %v", repo["readme"])
	}
	if repo["name"] != "redux" || repo["awesome_list_name"] != "awesome-react" {
		t.Errorf("repo = %v", repo)
	}

	get(t, srv, "/api/repositories/22", &repo)
	if v, present := repo["readme"]; !present || v != nil {
		t.Errorf("helm readme should be null, got %v", v)
	}
	if code := get(t, srv, "/api/repositories/999", nil); code != http.StatusNotFound {
		t.Errorf("missing repository status = %d", code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv := newServer(t, publishedManager(t), Options{})
	var body struct {
		Stats      executor.Stats   `json:"stats"`
		Languages  []executor.Count `json:"languages"`
		Categories []executor.Count `json:"categories"`
		Trending   []map[string]any `json:"trending"`
	}
	get(t, srv, "/api/stats", &body)
	if body.Stats.TotalRepositories != 9 || body.Languages[0].Name != "Go" || len(body.Trending) != 8 {
		t.Errorf("stats = %+v", body)
	}
}

type staticMetadata map[string]any

func (m staticMetadata) Metadata() (map[string]any, error) { return m, nil }

func TestDBVersion(t *testing.T) {
	modified := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	srv := newServer(t, publishedManager(t), Options{
		Metadata: staticMetadata{"version": "2024.06.01", "lists_count": 3, "generation": "ignored"},
		Source: func() catalog.SourceInfo {
			return catalog.SourceInfo{Driver: "sqlite", Location: "/data/awesome.db", Size: 4096, Modified: &modified}
		},
	})

	var body map[string]any
	get(t, srv, "/api/db-version", &body)
	if body["version"] != "2024.06.01" {
		t.Errorf("version = %v", body["version"])
	}
	if body["generation"] != float64(1) {
		t.Errorf("generation = %v", body["generation"])
	}
	if v, _ := body["index_version"].(string); len(v) != 16 {
		t.Errorf("index_version = %v", body["index_version"])
	}
	if body["size"] != float64(4096) || body["lists_count"] != float64(3) || body["documents"] != float64(9) {
		t.Errorf("body = %v", body)
	}
}

type mapStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (s *mapStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.data[key]; ok {
		return v, nil
	}
	return nil, goredis.Nil
}

func (s *mapStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *mapStore) FlushByPattern(context.Context, string) (int64, error) { return 0, nil }

func TestSearchUsesCacheAndRecordsAnalytics(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	qc := cache.New(&mapStore{data: make(map[string][]byte)}, config.RedisConfig{CacheTTL: time.Minute}, m)
	agg := analytics.NewAggregator()
	collector := analytics.NewCollector(agg, nil, 16)
	collector.Start(context.Background())

	srv := newServer(t, publishedManager(t), Options{Cache: qc, Collector: collector, Metrics: m})

	var first, second executor.Page[executor.SearchResult]
	get(t, srv, "/api/search?q=redux", &first)
	get(t, srv, "/api/search?q=REDUX%20", &second)
	if first.Total != 2 || second.Total != first.Total {
		t.Fatalf("totals %d / %d", first.Total, second.Total)
	}
	if hits, misses := qc.Stats(); hits != 1 || misses != 1 {
		t.Errorf("cache hits=%d misses=%d", hits, misses)
	}
	get(t, srv, "/api/search?q=zzzz", &first)

	var stats map[string]any
	get(t, srv, "/api/cache/stats", &stats)
	if stats["hit_rate"] != "33.3%" {
		t.Errorf("cache stats = %v", stats)
	}

	collector.Close()
	s := agg.Stats()
	if s.TotalSearches != 3 || s.CacheHits != 1 || s.ZeroResultCount != 1 {
		t.Errorf("analytics = %+v", s)
	}
	if got := testutil.ToFloat64(m.SearchQueriesTotal.WithLabelValues("zero_result")); got != 1 {
		t.Errorf("zero_result queries = %v", got)
	}
}
