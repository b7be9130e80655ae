package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/analytics/aggregator"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/analytics/collector"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/auth/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/indexer/consumer"
	ingesthandler "github.com/Adithya-Monish-Kumar-K/awesome-search/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/searcher/executor"
	searchhandler "github.com/Adithya-Monish-Kumar-K/awesome-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/snapshot"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/tracing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the search HTTP service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cfg)
	},
}

func serve(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	origin := instanceName()
	slog.Info("starting awesome-search",
		"version", version,
		"instance", origin,
		"port", cfg.Server.Port,
		"store", cfg.Store.Driver,
	)

	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, prometheus.DefaultGatherer)
		defer shutdownMetrics(context.Background())
	}

	source, err := catalog.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening document store: %w", err)
	}
	defer source.Close()

	manager := snapshot.NewManager(snapshot.WithOnRetire(countRetired(m)))

	var queryCache *cache.QueryCache
	var redisClient *pkgredis.Client
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis, m)
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	refresherOpts := []indexer.RefresherOption{indexer.WithMetrics(m)}
	if queryCache != nil {
		refresherOpts = append(refresherOpts, indexer.WithPublishHook(
			func(ctx context.Context, current snapshot.Info, previous *snapshot.Info) {
				if previous == nil || previous.Version == current.Version {
					return
				}
				if err := queryCache.InvalidateVersion(ctx, previous.Version); err != nil {
					slog.Warn("cache invalidation failed", "version", previous.Version, "error", err)
				}
			}))
	}
	refresher := indexer.NewRefresher(source, indexer.NewBuilder(0), manager, cfg.Index, refresherOpts...)

	if out, err := refresher.Rebuild(ctx); err != nil {
		slog.Error("initial index build failed; serving 503 until a rebuild succeeds", "error", err)
	} else {
		slog.Info("initial index ready",
			"generation", out.Current.Seq,
			"version", out.Current.Version,
			"documents", out.Current.Documents,
		)
	}
	go refresher.Start(ctx)

	var (
		events    publisher.EventPublisher
		sink      analytics.Sink
		batcher   *collector.BatchCollector
		closeList []func() error
	)
	if cfg.Kafka.Enabled {
		snapshotProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.SnapshotAvailable)
		closeList = append(closeList, snapshotProducer.Close)
		events = snapshotProducer

		analyticsProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
		closeList = append(closeList, analyticsProducer.Close)
		batcher = collector.NewBatchCollector(analyticsProducer, cfg.Analytics.BatchSize, cfg.Analytics.FlushInterval)
		batcher.Start(ctx)
		sink = batcher

		rebuilds := consumer.New(kafka.NewConsumer(
			cfg.Kafka,
			cfg.Kafka.Topics.SnapshotAvailable,
			cfg.Kafka.ConsumerGroup+"-"+origin,
			consumer.HandleMessage(refresher, origin),
		))
		go func() {
			if err := rebuilds.Start(ctx); err != nil {
				slog.Error("rebuild consumer stopped", "error", err)
			}
		}()
		slog.Info("kafka enabled", "brokers", cfg.Kafka.Brokers)
	}

	agg := analytics.NewAggregator()
	searchEvents := analytics.NewCollector(agg, sink, cfg.Analytics.BufferSize)
	searchEvents.Start(ctx)
	var snapshotsDone <-chan struct{}
	if cfg.Analytics.SnapshotInterval > 0 {
		client, done, err := startAnalyticsPersistence(ctx, cfg, agg)
		if err != nil {
			slog.Warn("analytics persistence disabled", "error", err)
		} else {
			defer client.Close()
			snapshotsDone = done
		}
	}

	pub := publisher.New(cfg.Ingestion.MetadataPath, events, refresher, origin)
	if cfg.Ingestion.WebhookSecret == "" {
		slog.Warn("webhook secret not configured; notifications are accepted unsigned")
	}

	checker := health.NewChecker(health.WithVersion(version))
	checker.Register("index", func(ctx context.Context) health.ComponentHealth {
		info, ok := manager.Current()
		if !ok {
			return health.ComponentHealth{Status: health.StatusDown, Message: "no generation published"}
		}
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("generation %d (%s), %d documents", info.Seq, info.Version, info.Documents),
		}
	})
	checker.Register("store", health.PingCheck(true, source.Ping))
	if redisClient != nil {
		checker.Register("redis", health.PingCheck(true, redisClient.Ping))
	}

	engine := executor.New(cfg.Search)
	api := searchhandler.New(manager, engine, searchhandler.Options{
		Cache:     queryCache,
		Collector: searchEvents,
		Metrics:   m,
		Tracer:    tracing.NewTracer(cfg.Tracing.Enabled, cfg.Tracing.SampleRate),
		Metadata:  pub,
		Source:    source.Info,
	})

	mux := http.NewServeMux()
	api.Register(mux)
	mux.HandleFunc("POST /api/webhook", ingesthandler.New(pub, cfg.Ingestion.WebhookSecret).Webhook)
	mux.HandleFunc("GET /api/analytics", analytics.NewHandler(agg).Stats)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	limiter := ratelimit.New(time.Minute)
	limiter.StartCleanup(ctx, 5*time.Minute)
	chain := middleware.Chain(mux,
		middleware.RequestID,
		middleware.Metrics(m),
		middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.CORSOrigins)),
		middleware.RateLimit(limiter, cfg.Server.RateLimit),
		middleware.Timeout(cfg.Server.RequestTimeout),
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}

	searchEvents.Close()
	if snapshotsDone != nil {
		<-snapshotsDone
	}
	if batcher != nil {
		batcher.Close()
		s := batcher.Stats()
		slog.Info("analytics events shipped", "published", s.Published, "dropped", s.Dropped, "failed_flushes", s.FailedFlushes)
	}
	for _, closeFn := range closeList {
		if err := closeFn(); err != nil {
			slog.Warn("closing kafka producer", "error", err)
		}
	}
	slog.Info("search service stopped")
	return nil
}

// startAnalyticsPersistence snapshots aggregated search stats into the
// PostgreSQL database configured under postgres.
func startAnalyticsPersistence(ctx context.Context, cfg *config.Config, agg *analytics.Aggregator) (*postgres.Client, <-chan struct{}, error) {
	client, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, err
	}
	store := aggregator.NewStore(client.DB)
	if err := store.EnsureSchema(ctx); err != nil {
		client.Close()
		return nil, nil, err
	}
	if last, err := store.LatestSnapshot(ctx); err == nil && last != nil {
		slog.Info("previous analytics snapshot", "total_searches", last.TotalSearches, "since", last.Since)
	}
	return client, store.StartPeriodicSave(ctx, agg, cfg.Analytics.SnapshotInterval), nil
}

// instanceName identifies this process in Kafka events and consumer groups.
func instanceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "awesome-search"
	}
	return host + "-" + uuid.NewString()[:8]
}

// countRetired feeds retirements into the metrics. The manager logs them.
func countRetired(m *metrics.Metrics) func(snapshot.Info) {
	return func(snapshot.Info) { m.GenerationsRetired.Inc() }
}
