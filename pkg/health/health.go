// Package health runs dependency checks for the liveness and readiness
// probes. The index check decides readiness; the document store and Redis
// are reported as degraded when they fail because queries are still served
// from the published generation.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type Status string

const (
	StatusUp       Status = "up"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// severity orders statuses so the report carries the worst one.
func (s Status) severity() int {
	switch s {
	case StatusUp:
		return 0
	case StatusDegraded:
		return 1
	}
	return 2
}

// Check probes one dependency.
type Check func(ctx context.Context) ComponentHealth

type ComponentHealth struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// PingCheck adapts a ping function into a Check. Failures of optional
// dependencies report degraded instead of down, so readiness holds.
func PingCheck(optional bool, ping func(ctx context.Context) error) Check {
	return func(ctx context.Context) ComponentHealth {
		if err := ping(ctx); err != nil {
			status := StatusDown
			if optional {
				status = StatusDegraded
			}
			return ComponentHealth{Status: status, Message: err.Error()}
		}
		return ComponentHealth{Status: StatusUp}
	}
}

type Report struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  string                     `json:"timestamp"`
}

type Option func(*Checker)

// WithCheckTimeout bounds each individual check. A check that overruns is
// reported down.
func WithCheckTimeout(d time.Duration) Option {
	return func(c *Checker) { c.checkTimeout = d }
}

// WithVersion adds the build version to liveness responses.
func WithVersion(v string) Option {
	return func(c *Checker) { c.version = v }
}

type Checker struct {
	mu           sync.RWMutex
	checks       map[string]Check
	checkTimeout time.Duration
	version      string
	started      time.Time
	logger       *slog.Logger
}

func NewChecker(opts ...Option) *Checker {
	c := &Checker{
		checks:       make(map[string]Check),
		checkTimeout: 2 * time.Second,
		started:      time.Now(),
		logger:       slog.Default().With("component", "health"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds or replaces a named check.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Run executes every check concurrently. The report status is the worst
// component status.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	checks := make([]Check, 0, len(c.checks))
	for name, check := range c.checks {
		names = append(names, name)
		checks = append(checks, check)
	}
	c.mu.RUnlock()

	results := make([]ComponentHealth, len(checks))
	var g errgroup.Group
	for i, check := range checks {
		g.Go(func() error {
			results[i] = c.runOne(ctx, check)
			return nil
		})
	}
	g.Wait()

	report := Report{
		Status:     StatusUp,
		Components: make(map[string]ComponentHealth, len(names)),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	for i, name := range names {
		report.Components[name] = results[i]
		if results[i].Status.severity() > report.Status.severity() {
			report.Status = results[i].Status
		}
	}
	return report
}

func (c *Checker) runOne(ctx context.Context, check Check) ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()
	start := time.Now()
	done := make(chan ComponentHealth, 1)
	go func() { done <- check(ctx) }()

	var result ComponentHealth
	select {
	case result = <-done:
	case <-ctx.Done():
		result = ComponentHealth{Status: StatusDown, Message: "check timed out"}
	}
	result.Latency = time.Since(start).Round(time.Millisecond).String()
	return result
}

// LiveHandler reports that the process is up. It never runs checks.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]string{
			"status": "alive",
			"uptime": time.Since(c.started).Round(time.Second).String(),
		}
		if c.version != "" {
			body["version"] = c.version
		}
		writeJSON(w, http.StatusOK, body)
	}
}

// ReadyHandler answers 503 while any required component is down.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := c.Run(r.Context())
		code := http.StatusOK
		if report.Status == StatusDown {
			c.logger.Warn("readiness probe failing", "components", report.Components)
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, report)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
