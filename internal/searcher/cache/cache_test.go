package cache

import (
	"context"
	"errors"
	"path"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	goredis "github.com/redis/go-redis/v9"

	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/metrics"
)

type fakeStore struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
	ttls map[string]time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func (s *fakeStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	v, ok := s.data[key]
	if !ok {
		return nil, goredis.Nil
	}
	return v, nil
}

func (s *fakeStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.data[key] = value
	s.ttls[key] = ttl
	return nil
}

func (s *fakeStore) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k := range s.data {
		if ok, _ := path.Match(pattern, k); ok {
			delete(s.data, k)
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func samplePage() *executor.Page[executor.SearchResult] {
	return &executor.Page[executor.SearchResult]{
		Results:    []executor.SearchResult{{RepositoryID: 10, RepositoryName: "redux", Rank: -1.5}},
		Total:      1,
		Page:       1,
		PageSize:   20,
		TotalPages: 1,
	}
}

func TestGetOrComputeCachesPerVersion(t *testing.T) {
	store := newFakeStore()
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	c := New(store, config.RedisConfig{CacheTTL: time.Minute}, m)
	req := executor.Request{Query: "redux", Page: 1, PageSize: 20, SortBy: "relevance"}

	var computed atomic.Int32
	compute := func() (*executor.Page[executor.SearchResult], error) {
		computed.Add(1)
		return samplePage(), nil
	}

	if _, hit, err := c.GetOrCompute(context.Background(), "v1", req, compute); err != nil || hit {
		t.Fatalf("first call: hit=%v err=%v", hit, err)
	}
	page, hit, err := c.GetOrCompute(context.Background(), "v1", req, compute)
	if err != nil || !hit {
		t.Fatalf("second call: hit=%v err=%v", hit, err)
	}
	if page.Results[0].RepositoryName != "redux" || page.Total != 1 {
		t.Errorf("cached page = %+v", page)
	}
	if _, hit, _ := c.GetOrCompute(context.Background(), "v2", req, compute); hit {
		t.Fatal("a new version must not reuse pages from the old one")
	}
	if computed.Load() != 2 {
		t.Errorf("computed %d times, want 2", computed.Load())
	}
	if got := testutil.ToFloat64(m.CacheHitsTotal); got != 1 {
		t.Errorf("hits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CacheMissesTotal); got != 2 {
		t.Errorf("misses = %v, want 2", got)
	}
	if ttl := store.ttls[Key("v1", req)]; ttl != time.Minute {
		t.Errorf("ttl = %v", ttl)
	}
}

func TestKeyNormalization(t *testing.T) {
	base := executor.Request{Query: "redux state", Page: 1, PageSize: 20, SortBy: "relevance"}
	same := base
	same.Query = "  State   REDUX redux "
	if Key("v1", base) != Key("v1", same) {
		t.Error("term order, case and repetition should not change the key")
	}

	for name, mutate := range map[string]func(*executor.Request){
		"page":     func(r *executor.Request) { r.Page = 2 },
		"size":     func(r *executor.Request) { r.PageSize = 10 },
		"sort":     func(r *executor.Request) { r.SortBy = "stars" },
		"language": func(r *executor.Request) { r.Language = "Go" },
		"category": func(r *executor.Request) { r.Category = "DevOps" },
		"minStars": func(r *executor.Request) { v := int64(0); r.MinStars = &v },
		"query":    func(r *executor.Request) { r.Query = "redux" },
	} {
		other := base
		mutate(&other)
		if Key("v1", base) == Key("v1", other) {
			t.Errorf("%s should change the key", name)
		}
	}
	if Key("v1", base) == Key("v2", base) {
		t.Error("version should change the key")
	}
}

func TestInvalidateVersion(t *testing.T) {
	store := newFakeStore()
	c := New(store, config.RedisConfig{}, nil)
	req := executor.Request{Query: "redux", Page: 1, PageSize: 20}
	c.Set(context.Background(), "old", req, samplePage())
	c.Set(context.Background(), "new", req, samplePage())

	if err := c.InvalidateVersion(context.Background(), "old"); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get(context.Background(), "old", req); ok {
		t.Error("old version still cached")
	}
	if _, ok := c.Get(context.Background(), "new", req); !ok {
		t.Error("other versions must survive invalidation")
	}
}

func TestStoreFailuresFallBackToCompute(t *testing.T) {
	store := newFakeStore()
	store.setErr(errors.New("connection refused"))
	c := New(store, config.RedisConfig{}, nil)
	req := executor.Request{Query: "redux", Page: 1, PageSize: 20}

	for i := 0; i < 10; i++ {
		page, hit, err := c.GetOrCompute(context.Background(), "v1", req, func() (*executor.Page[executor.SearchResult], error) {
			return samplePage(), nil
		})
		if err != nil || hit || page.Total != 1 {
			t.Fatalf("call %d: page=%+v hit=%v err=%v", i, page, hit, err)
		}
	}
	if state := c.breaker.GetState().String(); state != "open" {
		t.Errorf("breaker state = %s, want open", state)
	}
}

func TestComputeErrorIsReturned(t *testing.T) {
	c := New(newFakeStore(), config.RedisConfig{}, nil)
	want := errors.New("index unavailable")
	_, _, err := c.GetOrCompute(context.Background(), "v1", executor.Request{Query: "x", Page: 1, PageSize: 1},
		func() (*executor.Page[executor.SearchResult], error) { return nil, want })
	if !errors.Is(err, want) {
		t.Fatalf("err = %v", err)
	}
}
