// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Index, Popularity, Search, Chat,
// Completion, etc.).
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Redis      RedisConfig      `yaml:"redis"`
	Index      IndexConfig      `yaml:"index"`
	Popularity PopularityConfig `yaml:"popularity"`
	Search     SearchConfig     `yaml:"search"`
	Chat       ChatConfig       `yaml:"chat"`
	Completion CompletionConfig `yaml:"completion"`
	Auth       AuthConfig       `yaml:"auth"`
	Logging    LoggingConfig    `yaml:"logging"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// PostgresConfig holds PostgreSQL connection parameters for the record store.
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

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	BookChanges     string `yaml:"bookChanges"`
	BorrowEvents    string `yaml:"borrowEvents"`
	AnalyticsEvents string `yaml:"analyticsEvents"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// IndexConfig controls the in-memory catalog index and its sync cadence
// against the record store.
type IndexConfig struct {
	Shards       int           `yaml:"shards"`
	SyncInterval time.Duration `yaml:"syncInterval"`
	SyncTimeout  time.Duration `yaml:"syncTimeout"`
}

// PopularityConfig controls the borrow-popularity decay model.
type PopularityConfig struct {
	HalfLife time.Duration `yaml:"halfLife"`
	Shards   int           `yaml:"shards"`
}

// Lambda returns the exponential decay constant per second derived from the
// configured half-life.
func (p PopularityConfig) Lambda() float64 {
	if p.HalfLife <= 0 {
		return 0
	}
	return math.Ln2 / p.HalfLife.Seconds()
}

// SearchConfig controls query pagination limits.
type SearchConfig struct {
	DefaultPageSize int `yaml:"defaultPageSize"`
	MaxPageSize     int `yaml:"maxPageSize"`
}

// ChatConfig controls the retrieval-grounded chat pipeline.
type ChatConfig struct {
	MaxCandidates    int           `yaml:"maxCandidates"`
	MaxQueryTerms    int           `yaml:"maxQueryTerms"`
	MaxTokens        int           `yaml:"maxTokens"`
	TurnTimeout      time.Duration `yaml:"turnTimeout"`
	CompleteTimeout  time.Duration `yaml:"completeTimeout"`
	RequireIdentity  bool          `yaml:"requireIdentity"`
	RequireCitation  bool          `yaml:"requireCitation"`
	RateLimitPerMin  int           `yaml:"rateLimitPerMin"`
	DescriptionChars int           `yaml:"descriptionChars"`
}

// CompletionConfig points at an OpenAI-compatible chat completions endpoint.
type CompletionConfig struct {
	BaseURL   string        `yaml:"baseUrl"`
	APIKeyEnv string        `yaml:"apiKeyEnv"`
	Model     string        `yaml:"model"`
	Timeout   time.Duration `yaml:"timeout"`

	// BreakerFailures consecutive failures open the circuit for BreakerReset.
	BreakerFailures int           `yaml:"breakerFailures"`
	BreakerReset    time.Duration `yaml:"breakerReset"`
}

// AuthConfig controls how identities are resolved for the chat surface.
type AuthConfig struct {
	APIKeys bool `yaml:"apiKeys"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls span logging for chat turns.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
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
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Search.MaxPageSize < 1 {
		return fmt.Errorf("search.maxPageSize must be >= 1, got %d", c.Search.MaxPageSize)
	}
	if c.Search.DefaultPageSize < 1 || c.Search.DefaultPageSize > c.Search.MaxPageSize {
		return fmt.Errorf("search.defaultPageSize must be in [1, %d], got %d", c.Search.MaxPageSize, c.Search.DefaultPageSize)
	}
	if c.Chat.MaxCandidates < 1 || c.Chat.MaxCandidates > c.Search.MaxPageSize {
		return fmt.Errorf("chat.maxCandidates must be in [1, %d], got %d", c.Search.MaxPageSize, c.Chat.MaxCandidates)
	}
	if c.Popularity.HalfLife <= 0 {
		return fmt.Errorf("popularity.halfLife must be positive")
	}
	if c.Index.Shards < 1 || c.Popularity.Shards < 1 {
		return fmt.Errorf("shard counts must be >= 1")
	}
	return nil
}

// defaultConfig returns a Config with defaults suitable for local development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "librarycatalog",
			User:            "librarycatalog",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Enabled:       false,
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "librarycatalog-group",
			Topics: KafkaTopics{
				BookChanges:     "book-changes",
				BorrowEvents:    "borrow-events",
				AnalyticsEvents: "catalog-analytics",
			},
		},
		Redis: RedisConfig{
			Enabled:  false,
			Addr:     "localhost:6379",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Index: IndexConfig{
			Shards:       8,
			SyncInterval: 30 * time.Second,
			SyncTimeout:  20 * time.Second,
		},
		Popularity: PopularityConfig{
			HalfLife: 30 * 24 * time.Hour,
			Shards:   8,
		},
		Search: SearchConfig{
			DefaultPageSize: 20,
			MaxPageSize:     100,
		},
		Chat: ChatConfig{
			MaxCandidates:    8,
			MaxQueryTerms:    8,
			MaxTokens:        512,
			TurnTimeout:      30 * time.Second,
			CompleteTimeout:  20 * time.Second,
			RequireIdentity:  true,
			RequireCitation:  false,
			RateLimitPerMin:  20,
			DescriptionChars: 400,
		},
		Completion: CompletionConfig{
			BaseURL:         "https://api.openai.com/v1",
			APIKeyEnv:       "OPENAI_API_KEY",
			Model:           "gpt-4o-mini",
			Timeout:         20 * time.Second,
			BreakerFailures: 5,
			BreakerReset:    30 * time.Second,
		},
		Auth: AuthConfig{
			APIKeys: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads LC_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LC_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LC_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("LC_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("LC_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("LC_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("LC_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("LC_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("LC_KAFKA_ENABLED"); v != "" {
		cfg.Kafka.Enabled = parseBool(v, cfg.Kafka.Enabled)
	}
	if v := os.Getenv("LC_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("LC_REDIS_ENABLED"); v != "" {
		cfg.Redis.Enabled = parseBool(v, cfg.Redis.Enabled)
	}
	if v := os.Getenv("LC_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("LC_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("LC_POPULARITY_HALF_LIFE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Popularity.HalfLife = d
		}
	}
	if v := os.Getenv("LC_SEARCH_MAX_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Search.MaxPageSize = n
		}
	}
	if v := os.Getenv("LC_CHAT_MAX_CANDIDATES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Chat.MaxCandidates = n
		}
	}
	if v := os.Getenv("LC_CHAT_REQUIRE_CITATION"); v != "" {
		cfg.Chat.RequireCitation = parseBool(v, cfg.Chat.RequireCitation)
	}
	if v := os.Getenv("LC_CHAT_TURN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Chat.TurnTimeout = d
		}
	}
	if v := os.Getenv("LC_COMPLETION_BASE_URL"); v != "" {
		cfg.Completion.BaseURL = v
	}
	if v := os.Getenv("LC_COMPLETION_MODEL"); v != "" {
		cfg.Completion.Model = v
	}
	if v := os.Getenv("LC_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LC_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

func parseBool(v string, fallback bool) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
