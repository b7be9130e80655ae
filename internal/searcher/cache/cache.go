// Package cache keeps rendered search pages in Redis, keyed by the index
// version they were computed from.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/resilience"
)

const keyPrefix = "search:"

// Store is the subset of pkg/redis.Client the cache uses. Get reports a
// missing key with an error for which pkgredis.IsNilError is true.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

type QueryCache struct {
	store   Store
	ttl     time.Duration
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	group   singleflight.Group
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New wraps store. m may be nil.
func New(store Store, cfg config.RedisConfig, m *metrics.Metrics) *QueryCache {
	breakerCfg := resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
	if m != nil {
		breakerCfg.OnStateChange = func(name string, to resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		}
	}
	return &QueryCache{
		store:   store,
		ttl:     cfg.CacheTTL,
		breaker: resilience.NewCircuitBreaker("redis-cache", breakerCfg),
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

// Get returns the cached page for req under version. Store failures count
// as misses.
func (c *QueryCache) Get(ctx context.Context, version string, req executor.Request) (*executor.Page[executor.SearchResult], bool) {
	key := Key(version, req)
	var data []byte
	err := c.breaker.Execute(func() error {
		var err error
		data, err = c.store.Get(ctx, key)
		if pkgredis.IsNilError(err) {
			data = nil
			return nil
		}
		return err
	})
	if err != nil {
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	if data == nil {
		c.miss()
		return nil, false
	}
	var page executor.Page[executor.SearchResult]
	if err := json.Unmarshal(data, &page); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	c.logger.Debug("cache hit", "key", key)
	return &page, true
}

func (c *QueryCache) Set(ctx context.Context, version string, req executor.Request, page *executor.Page[executor.SearchResult]) {
	key := Key(version, req)
	data, err := json.Marshal(page)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return c.store.Set(ctx, key, data, c.ttl)
	})
	if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute serves req from the cache, or runs compute once for all
// concurrent callers asking for the same key and stores the result. The
// boolean reports a cache hit.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	version string,
	req executor.Request,
	compute func() (*executor.Page[executor.SearchResult], error),
) (*executor.Page[executor.SearchResult], bool, error) {
	if page, ok := c.Get(ctx, version, req); ok {
		return page, true, nil
	}
	key := Key(version, req)
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		page, err := compute()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, version, req, page)
		return page, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*executor.Page[executor.SearchResult]), false, nil
}

// InvalidateVersion drops every page computed from version.
func (c *QueryCache) InvalidateVersion(ctx context.Context, version string) error {
	pattern := keyPrefix + version + ":*"
	var deleted int64
	err := c.breaker.Execute(func() error {
		var err error
		deleted, err = c.store.FlushByPattern(ctx, pattern)
		return err
	})
	if err != nil {
		return fmt.Errorf("invalidating cache version %s: %w", version, err)
	}
	c.logger.Info("cache invalidate", "version", version, "keys_deleted", deleted)
	return nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

// Key derives the cache key of req under version. req should already be
// normalized by the executor so defaults and clamps are reflected.
func Key(version string, req executor.Request) string {
	hash := sha256.Sum256([]byte(normalize(req)))
	return fmt.Sprintf("%s%s:%x", keyPrefix, version, hash[:16])
}

// normalize renders the parts of req that influence the page. Query terms
// are OR-ed, so their order and repetition do not matter.
func normalize(req executor.Request) string {
	var terms []string
	for _, tok := range tokenizer.Tokenize(req.Query) {
		terms = append(terms, tok.Term)
	}
	slices.Sort(terms)
	terms = slices.Compact(terms)
	minStars := "-"
	if req.MinStars != nil {
		minStars = fmt.Sprint(*req.MinStars)
	}
	return strings.Join([]string{
		strings.Join(terms, ","),
		"lang=" + req.Language,
		"cat=" + req.Category,
		"min=" + minStars,
		"sort=" + req.SortBy,
		fmt.Sprintf("page=%d", req.Page),
		fmt.Sprintf("size=%d", req.PageSize),
	}, "|")
}
