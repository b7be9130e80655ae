package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/snapshot"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/resilience"
)

// ErrEmptySnapshot is returned when a rebuild would replace a populated
// generation with an empty one.
var ErrEmptySnapshot = fmt.Errorf("%w: refusing to replace a populated generation with an empty snapshot", apperrors.ErrBuildFailed)

const (
	StatusPublished = "published"
	StatusUnchanged = "unchanged"
	StatusRejected  = "rejected"
	StatusFailed    = "failed"
)

// Loader produces catalog snapshots; catalog.Source satisfies it.
type Loader interface {
	Load(ctx context.Context) (*catalog.Snapshot, error)
}

// Outcome reports what a rebuild did.
type Outcome struct {
	Status   string
	Current  snapshot.Info
	Previous *snapshot.Info
	Artifact string
}

// PublishHook runs after a new generation is published.
type PublishHook func(ctx context.Context, current snapshot.Info, previous *snapshot.Info)

// Refresher rebuilds the index out of the request path and publishes new
// generations through the snapshot manager.
type Refresher struct {
	loader  Loader
	builder *Builder
	manager *snapshot.Manager
	writer  *segment.Writer
	cfg     config.IndexConfig
	retry   resilience.RetryConfig
	metrics *metrics.Metrics
	hooks   []PublishHook
	group   singleflight.Group
	trigger chan struct{}
	logger  *slog.Logger
}

type RefresherOption func(*Refresher)

func WithMetrics(m *metrics.Metrics) RefresherOption {
	return func(r *Refresher) { r.metrics = m }
}

func WithPublishHook(h PublishHook) RefresherOption {
	return func(r *Refresher) { r.hooks = append(r.hooks, h) }
}

// WithRetry overrides the backoff used when loading snapshots.
func WithRetry(cfg resilience.RetryConfig) RefresherOption {
	return func(r *Refresher) {
		retryable := r.retry.Retryable
		r.retry = cfg
		if r.retry.Retryable == nil {
			r.retry.Retryable = retryable
		}
	}
}

func NewRefresher(loader Loader, builder *Builder, manager *snapshot.Manager, cfg config.IndexConfig, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		loader:  loader,
		builder: builder,
		manager: manager,
		cfg:     cfg,
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     10 * time.Second,
			Retryable:    retryableLoadError,
		},
		trigger: make(chan struct{}, 1),
		logger:  slog.Default().With("component", "refresher"),
	}
	if cfg.DataDir != "" {
		r.writer = segment.NewWriter(cfg.DataDir, cfg.KeepArtifacts)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func retryableLoadError(err error) bool {
	return !errors.Is(err, catalog.ErrStoreMissing) &&
		!errors.Is(err, catalog.ErrCorruptSnapshot) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

// Rebuild loads a snapshot, builds a generation and publishes it. Concurrent
// calls share one rebuild. A failure leaves the published generation as is.
func (r *Refresher) Rebuild(ctx context.Context) (Outcome, error) {
	v, err, shared := r.group.Do("rebuild", func() (any, error) {
		return r.rebuild(ctx)
	})
	if shared {
		r.logger.Debug("joined in-progress rebuild")
	}
	return v.(Outcome), err
}

func (r *Refresher) rebuild(ctx context.Context) (Outcome, error) {
	start := time.Now()
	out := Outcome{Status: StatusFailed}
	if cur, ok := r.manager.Current(); ok {
		out.Current = cur
		out.Previous = &cur
	}

	snap, err := resilience.Do(ctx, "load-snapshot", r.retry, r.loader.Load)
	if err != nil {
		return r.finish(out, start, fmt.Errorf("loading snapshot: %w", err))
	}

	if out.Previous != nil && out.Previous.SnapshotID == snap.ID() {
		out.Status = StatusUnchanged
		return r.finish(out, start, nil)
	}
	if out.Previous != nil && out.Previous.Documents > 0 && snap.Empty() {
		out.Status = StatusRejected
		return r.finish(out, start, ErrEmptySnapshot)
	}

	build, err := resilience.Call(ctx, r.cfg.BuildTimeout, "index-build", func(ctx context.Context) (*Build, error) {
		return r.builder.Build(ctx, snap)
	})
	if err != nil {
		return r.finish(out, start, err)
	}
	gen := build.Generation

	if r.writer != nil {
		path, werr := r.writer.Write(gen.Version(), build.Artifact)
		if werr != nil {
			r.logger.Error("persisting artifact failed", "version", gen.Version(), "error", werr)
		} else {
			out.Artifact = path
			if removed, perr := r.writer.Prune(path); perr != nil {
				r.logger.Warn("pruning artifacts failed", "error", perr)
			} else if len(removed) > 0 {
				r.logger.Info("pruned artifacts", "removed", removed)
			}
		}
	}

	if _, err := r.manager.Publish(gen); err != nil {
		return r.finish(out, start, err)
	}
	out.Current, _ = r.manager.Current()
	out.Status = StatusPublished
	for _, hook := range r.hooks {
		hook(ctx, out.Current, out.Previous)
	}
	return r.finish(out, start, nil)
}

func (r *Refresher) finish(out Outcome, start time.Time, err error) (Outcome, error) {
	elapsed := time.Since(start)
	if r.metrics != nil {
		r.metrics.IndexBuildsTotal.WithLabelValues(out.Status).Inc()
		r.metrics.IndexBuildDuration.Observe(elapsed.Seconds())
		if out.Status == StatusPublished {
			r.metrics.IndexGeneration.Set(float64(out.Current.Seq))
			r.metrics.IndexDocuments.Set(float64(out.Current.Documents))
			r.metrics.IndexArtifactBytes.Set(float64(out.Current.Size))
		}
	}
	if err != nil {
		r.logger.Error("rebuild failed", "status", out.Status, "duration_ms", elapsed.Milliseconds(), "error", err)
		return out, err
	}
	r.logger.Info("rebuild finished",
		"status", out.Status,
		"generation", out.Current.Seq,
		"version", out.Current.Version,
		"duration_ms", elapsed.Milliseconds(),
	)
	return out, nil
}

// Trigger asks the running loop for a rebuild. Requests made while one is
// already pending are coalesced.
func (r *Refresher) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Start rebuilds every RebuildInterval and whenever Trigger is called, until
// ctx is cancelled. Errors are logged and never reach query handling.
func (r *Refresher) Start(ctx context.Context) {
	var tick <-chan time.Time
	if r.cfg.RebuildInterval > 0 {
		ticker := time.NewTicker(r.cfg.RebuildInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	r.logger.Info("refresher started", "interval", r.cfg.RebuildInterval)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("refresher stopping")
			return
		case <-tick:
		case <-r.trigger:
		}
		r.Rebuild(ctx)
	}
}
