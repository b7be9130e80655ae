// Package config loads and validates application configuration from YAML files
// with .env and environment-variable overrides. It provides typed structs for
// every subsystem (Server, Store, Postgres, Redis, Kafka, Index, Search,
// Ingestion, etc.).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Index     IndexConfig     `yaml:"index"`
	Search    SearchConfig    `yaml:"search"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	// RateLimit is the number of API requests allowed per client per minute.
	// Zero disables limiting.
	RateLimit   int      `yaml:"rateLimit"`
	CORSOrigins []string `yaml:"corsOrigins"`
}

// StoreConfig selects where the document store snapshot is read from.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// RedisConfig holds Redis connection and query-cache parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	SnapshotAvailable string `yaml:"snapshotAvailable"`
	AnalyticsEvents   string `yaml:"analyticsEvents"`
}

// IndexConfig controls how often generations are rebuilt and where built
// artifacts are kept.
type IndexConfig struct {
	RebuildInterval time.Duration `yaml:"rebuildInterval"`
	BuildTimeout    time.Duration `yaml:"buildTimeout"`
	DataDir         string        `yaml:"dataDir"`
	KeepArtifacts   int           `yaml:"keepArtifacts"`
}

// SearchConfig controls page sizes and snippet length.
type SearchConfig struct {
	DefaultPageSize int `yaml:"defaultPageSize"`
	MaxPageSize     int `yaml:"maxPageSize"`
	ListPageSize    int `yaml:"listPageSize"`
	SnippetTokens   int `yaml:"snippetTokens"`
	TrendingLimit   int `yaml:"trendingLimit"`
}

// IngestionConfig configures the dataset-update webhook.
type IngestionConfig struct {
	WebhookSecret string `yaml:"webhookSecret"`
	MetadataPath  string `yaml:"metadataPath"`
}

// AnalyticsConfig sizes the search-event pipeline. A positive
// SnapshotInterval persists aggregated stats to PostgreSQL.
type AnalyticsConfig struct {
	BufferSize       int           `yaml:"bufferSize"`
	BatchSize        int           `yaml:"batchSize"`
	FlushInterval    time.Duration `yaml:"flushInterval"`
	SnapshotInterval time.Duration `yaml:"snapshotInterval"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls span logging for search requests.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	SampleRate float64 `yaml:"sampleRate"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided), then a .env file in the
// working directory (if present), and applies AWESOME_* environment
// overrides. The result is validated before it is returned.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.Path == "" {
			return errors.New("config: store.path is required for the sqlite driver")
		}
	case DriverPostgres:
	default:
		return fmt.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	if c.Search.DefaultPageSize < 1 || c.Search.MaxPageSize < c.Search.DefaultPageSize {
		return fmt.Errorf("config: search page sizes invalid (default %d, max %d)",
			c.Search.DefaultPageSize, c.Search.MaxPageSize)
	}
	if c.Search.ListPageSize < 1 || c.Search.ListPageSize > c.Search.MaxPageSize {
		return fmt.Errorf("config: search.listPageSize %d must be within 1..%d",
			c.Search.ListPageSize, c.Search.MaxPageSize)
	}
	if c.Search.SnippetTokens < 1 {
		return fmt.Errorf("config: search.snippetTokens must be positive")
	}
	if c.Index.RebuildInterval < 0 || c.Index.BuildTimeout < 0 {
		return errors.New("config: index intervals must not be negative")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("config: kafka.enabled requires at least one broker")
	}
	return nil
}

// defaultConfig returns a Config with defaults suitable for local
// development against ~/.awesome/awesome.db.
func defaultConfig() *Config {
	awesomeDir := filepath.Join(homeDir(), ".awesome")
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  10 * time.Second,
			RateLimit:       600,
			CORSOrigins:     []string{"*"},
		},
		Store: StoreConfig{
			Driver: DriverSQLite,
			Path:   filepath.Join(awesomeDir, "awesome.db"),
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "awesome",
			User:            "awesome",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    4,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Enabled:  false,
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Enabled:       false,
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "awesome-search",
			Topics: KafkaTopics{
				SnapshotAvailable: "awesome.snapshot-available",
				AnalyticsEvents:   "awesome.search-events",
			},
		},
		Index: IndexConfig{
			RebuildInterval: 6 * time.Hour,
			BuildTimeout:    5 * time.Minute,
			KeepArtifacts:   3,
		},
		Search: SearchConfig{
			DefaultPageSize: 20,
			MaxPageSize:     100,
			ListPageSize:    50,
			SnippetTokens:   32,
			TrendingLimit:   10,
		},
		Ingestion: IngestionConfig{
			MetadataPath: filepath.Join(awesomeDir, "db-metadata.json"),
		},
		Analytics: AnalyticsConfig{
			BufferSize:    10000,
			BatchSize:     100,
			FlushInterval: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			SampleRate: 1,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

func homeDir() string {
	if dir, err := os.UserHomeDir(); err == nil {
		return dir
	}
	return "."
}

// applyEnvOverrides reads AWESOME_* environment variables and overrides the
// corresponding config fields. AWESOME_DB_PATH and WEBHOOK_SECRET keep the
// names the dataset tooling already exports.
func applyEnvOverrides(cfg *Config) error {
	ints := []struct {
		key string
		dst *int
	}{
		{"AWESOME_SERVER_PORT", &cfg.Server.Port},
		{"AWESOME_RATE_LIMIT", &cfg.Server.RateLimit},
		{"AWESOME_POSTGRES_PORT", &cfg.Postgres.Port},
		{"AWESOME_METRICS_PORT", &cfg.Metrics.Port},
	}
	for _, o := range ints {
		if v := os.Getenv(o.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("config: %s=%q is not an integer", o.key, v)
			}
			*o.dst = n
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"AWESOME_REDIS_ENABLED", &cfg.Redis.Enabled},
		{"AWESOME_KAFKA_ENABLED", &cfg.Kafka.Enabled},
		{"AWESOME_TRACING_ENABLED", &cfg.Tracing.Enabled},
		{"AWESOME_METRICS_ENABLED", &cfg.Metrics.Enabled},
	}
	for _, o := range bools {
		if v := os.Getenv(o.key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("config: %s=%q is not a boolean", o.key, v)
			}
			*o.dst = b
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"AWESOME_REBUILD_INTERVAL", &cfg.Index.RebuildInterval},
		{"AWESOME_BUILD_TIMEOUT", &cfg.Index.BuildTimeout},
		{"AWESOME_ANALYTICS_SNAPSHOT_INTERVAL", &cfg.Analytics.SnapshotInterval},
	}
	for _, o := range durations {
		if v := os.Getenv(o.key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("config: %s=%q is not a duration", o.key, v)
			}
			*o.dst = d
		}
	}

	strs := []struct {
		key string
		dst *string
	}{
		{"AWESOME_DB_PATH", &cfg.Store.Path},
		{"AWESOME_STORE_DRIVER", &cfg.Store.Driver},
		{"AWESOME_POSTGRES_HOST", &cfg.Postgres.Host},
		{"AWESOME_POSTGRES_DATABASE", &cfg.Postgres.Database},
		{"AWESOME_POSTGRES_USER", &cfg.Postgres.User},
		{"AWESOME_POSTGRES_PASSWORD", &cfg.Postgres.Password},
		{"AWESOME_POSTGRES_SSLMODE", &cfg.Postgres.SSLMode},
		{"AWESOME_REDIS_ADDR", &cfg.Redis.Addr},
		{"AWESOME_REDIS_PASSWORD", &cfg.Redis.Password},
		{"AWESOME_INDEX_DATA_DIR", &cfg.Index.DataDir},
		{"AWESOME_METADATA_PATH", &cfg.Ingestion.MetadataPath},
		{"WEBHOOK_SECRET", &cfg.Ingestion.WebhookSecret},
		{"AWESOME_LOGGING_LEVEL", &cfg.Logging.Level},
		{"AWESOME_LOGGING_FORMAT", &cfg.Logging.Format},
	}
	for _, o := range strs {
		if v := os.Getenv(o.key); v != "" {
			*o.dst = v
		}
	}

	if v := os.Getenv("AWESOME_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("AWESOME_CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = strings.Split(v, ",")
	}
	return nil
}
