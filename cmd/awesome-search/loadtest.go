package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
)

var (
	loadURL         string
	loadConcurrency int
	loadDuration    time.Duration
	loadPageSize    int
)

var loadtestCmd = &cobra.Command{
	Use:   "loadtest",
	Short: "Drive concurrent search traffic at a running service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		lt := loadTest{
			BaseURL:     loadURL,
			Concurrency: loadConcurrency,
			Duration:    loadDuration,
			PageSize:    loadPageSize,
			Queries:     defaultLoadQueries,
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "=== awesome-search load test ===")
		fmt.Fprintf(out, "Target:      %s\n", lt.BaseURL)
		fmt.Fprintf(out, "Concurrency: %d\n", lt.Concurrency)
		fmt.Fprintf(out, "Duration:    %s\n", lt.Duration)
		fmt.Fprintf(out, "Queries:     %d unique\n\n", len(lt.Queries))

		stats := lt.Run(cmd.Context())
		stats.Report(out, lt.Duration)
		if stats.total.Load() == 0 {
			return fmt.Errorf("no requests completed; is the service running at %s?", lt.BaseURL)
		}
		return nil
	},
}

func init() {
	f := loadtestCmd.Flags()
	f.StringVar(&loadURL, "url", "http://localhost:8080", "base URL of the search service")
	f.IntVar(&loadConcurrency, "concurrency", 10, "number of concurrent workers")
	f.DurationVar(&loadDuration, "duration", 30*time.Second, "test duration")
	f.IntVar(&loadPageSize, "limit", 20, "page size requested per search")
}

var defaultLoadQueries = []string{
	"react",
	"kubernetes operator",
	"postgres driver",
	"rust async",
	"machine learning",
	"static site generator",
	"graphql",
	"terminal",
	"redux state",
	"vue components",
	"python web framework",
	"docker",
	"go cli",
	"awesome",
	"security scanner",
}

type loadTest struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	PageSize    int
	Queries     []string
}

type loadStats struct {
	total     atomic.Int64
	success   atomic.Int64
	failed    atomic.Int64
	cacheHits atomic.Int64

	mu        sync.Mutex
	latencies []time.Duration
	codes     map[int]int64
}

func newLoadStats() *loadStats {
	return &loadStats{
		latencies: make([]time.Duration, 0, 100000),
		codes:     make(map[int]int64),
	}
}

func (s *loadStats) record(d time.Duration, resp *http.Response, err error) {
	s.total.Add(1)
	if err != nil {
		s.failed.Add(1)
		return
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		s.success.Add(1)
	} else {
		s.failed.Add(1)
	}
	if resp.Header.Get("X-Cache") == "hit" {
		s.cacheHits.Add(1)
	}
	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.codes[resp.StatusCode]++
	s.mu.Unlock()
}

// Run issues searches from Concurrency workers until Duration elapses or
// ctx is cancelled. Workers rotate through Queries and page numbers.
func (lt loadTest) Run(ctx context.Context) *loadStats {
	stats := newLoadStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        lt.Concurrency * 2,
			MaxIdleConnsPerHost: lt.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, lt.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for w := 0; w < lt.Concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := worker; ctx.Err() == nil; i++ {
				q := lt.Queries[i%len(lt.Queries)]
				page := 1 + (i/len(lt.Queries))%3
				target := fmt.Sprintf("%s/api/search?q=%s&page=%d&limit=%d",
					lt.BaseURL, url.QueryEscape(q), page, lt.PageSize)
				req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
				if err != nil {
					stats.record(0, nil, err)
					return
				}
				start := time.Now()
				resp, err := client.Do(req)
				elapsed := time.Since(start)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					stats.record(elapsed, nil, err)
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				stats.record(elapsed, resp, nil)
			}
		}(w)
	}
	wg.Wait()
	return stats
}

func (s *loadStats) Report(w io.Writer, duration time.Duration) {
	total := s.total.Load()
	failed := s.failed.Load()
	fmt.Fprintln(w, "=== Results ===")
	fmt.Fprintf(w, "Total Requests:  %d\n", total)
	fmt.Fprintf(w, "Successful:      %d\n", s.success.Load())
	fmt.Fprintf(w, "Errors:          %d\n", failed)
	fmt.Fprintf(w, "Cache Hits:      %d\n", s.cacheHits.Load())
	if total > 0 {
		fmt.Fprintf(w, "Error Rate:      %.2f%%\n", float64(failed)/float64(total)*100)
		fmt.Fprintf(w, "Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
	}

	s.mu.Lock()
	latencies := slices.Clone(s.latencies)
	codes := make([]int, 0, len(s.codes))
	for code := range s.codes {
		codes = append(codes, code)
	}
	counts := make(map[int]int64, len(s.codes))
	for code, n := range s.codes {
		counts[code] = n
	}
	s.mu.Unlock()

	if len(latencies) > 0 {
		slices.Sort(latencies)
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))
		var sq float64
		for _, l := range latencies {
			d := float64(l - avg)
			sq += d * d
		}
		fmt.Fprintln(w, "\n=== Latency ===")
		fmt.Fprintf(w, "Min:    %s\n", latencies[0])
		fmt.Fprintf(w, "Avg:    %s\n", avg)
		for _, p := range []float64{50, 90, 95, 99} {
			fmt.Fprintf(w, "P%-5.0f %s\n", p, latencyPercentile(latencies, p))
		}
		fmt.Fprintf(w, "Max:    %s\n", latencies[len(latencies)-1])
		fmt.Fprintf(w, "StdDev: %s\n", time.Duration(math.Sqrt(sq/float64(len(latencies)))))
	}

	fmt.Fprintln(w, "\n=== Status Codes ===")
	slices.Sort(codes)
	for _, code := range codes {
		fmt.Fprintf(w, "  %d: %d\n", code, counts[code])
	}
}

func latencyPercentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}
