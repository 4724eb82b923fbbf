package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(NewConfig),
)

// Config holds all application configuration
type Config struct {
	// Server settings
	ServerPort    int    `env:"SERVER_PORT" envDefault:"3010"`
	ServerAddress string `env:"SERVER_ADDRESS" envDefault:"0.0.0.0"`
	Environment   string `env:"ENVIRONMENT" envDefault:"local"`
	Debug         bool   `env:"DEBUG" envDefault:"false"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`

	// Database settings (the relational engine and the gateway's own metadata)
	Database DatabaseConfig

	// Vector store settings
	Vector VectorConfig

	// Embeddings configuration
	Embeddings EmbeddingsConfig

	// LLM configuration (optional intent-classification tier)
	LLM LLMConfig

	// Query router configuration
	Router RouterConfig

	// Quota gate configuration
	Quota QuotaConfig

	// Synchronizer configuration
	Sync SyncConfig

	// OpenTelemetry configuration
	Otel OtelConfig

	// Run embedded migrations on boot
	MigrateOnBoot bool `env:"MIGRATE_ON_BOOT" envDefault:"true"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host         string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port         int           `env:"POSTGRES_PORT" envDefault:"5432"`
	User         string        `env:"POSTGRES_USER" envDefault:"conceptdb"`
	Password     string        `env:"POSTGRES_PASSWORD" envDefault:""`
	Database     string        `env:"POSTGRES_DB" envDefault:"conceptdb"`
	SSLMode      string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	MaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	MaxIdleTime  time.Duration `env:"DB_MAX_IDLE_TIME" envDefault:"5m"`
	QueryDebug   bool          `env:"DB_QUERY_DEBUG" envDefault:"false"`
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

// VectorConfig holds vector store settings
type VectorConfig struct {
	// Backend: "pgvector" (production) or "memory" (standalone/testing)
	Backend string `env:"VECTOR_BACKEND" envDefault:"pgvector"`

	// Collection is the logical collection name for concept vectors
	Collection string `env:"VECTOR_COLLECTION" envDefault:"concepts"`

	// Dimension is the deployment-wide embedding dimension.
	// All vectors in a deployment must share it.
	Dimension int `env:"VECTOR_DIMENSION" envDefault:"384"`
}

// EmbeddingsConfig holds embedding provider configuration
type EmbeddingsConfig struct {
	// Provider: "genai" (Google Generative AI) or "local" (deterministic
	// feature-hash embedder for standalone deployments)
	Provider string `env:"EMBEDDING_PROVIDER" envDefault:"local"`

	// Embedding model name (genai provider)
	Model string `env:"EMBEDDING_MODEL" envDefault:"text-embedding-004"`

	// Google API Key for Generative AI
	GoogleAPIKey string `env:"GOOGLE_API_KEY" envDefault:""`

	// Disable embeddings network calls (for testing)
	NetworkDisabled bool `env:"EMBEDDINGS_NETWORK_DISABLED" envDefault:"false"`
}

// UseGenAI returns true if the Google Generative AI client should be used
func (e *EmbeddingsConfig) UseGenAI() bool {
	return !e.NetworkDisabled && e.Provider == "genai" && e.GoogleAPIKey != ""
}

// LLMConfig holds the optional LLM intent-classification tier configuration
type LLMConfig struct {
	// Model name for intent classification
	Model string `env:"LLM_INTENT_MODEL" envDefault:"gemini-2.5-flash"`

	// Google API Key (shared with embeddings when both use genai)
	GoogleAPIKey string `env:"GOOGLE_API_KEY" envDefault:""`

	// Deadline for a single intent classification call
	IntentTimeout time.Duration `env:"LLM_INTENT_TIMEOUT" envDefault:"300ms"`

	// ConfidenceMargin the LLM result must beat the deterministic result by
	// before it replaces it
	ConfidenceMargin float64 `env:"LLM_INTENT_CONFIDENCE_MARGIN" envDefault:"0.15"`

	// Disable LLM network calls (for testing)
	NetworkDisabled bool `env:"LLM_NETWORK_DISABLED" envDefault:"false"`
}

// IsEnabled returns true if the LLM tier is configured
func (l *LLMConfig) IsEnabled() bool {
	return !l.NetworkDisabled && l.GoogleAPIKey != ""
}

// RouterConfig holds query-path settings
type RouterConfig struct {
	// ExecuteTimeout is the per-query deadline shared by both branches
	ExecuteTimeout time.Duration `env:"ROUTER_EXECUTE_TIMEOUT" envDefault:"5s"`

	// SearchTimeout is parsed but not read by any component; the concept
	// store bounds a semantic search with its own fixed 2s default
	SearchTimeout time.Duration `env:"ROUTER_SEARCH_TIMEOUT" envDefault:"2s"`

	// CacheTTL for memoized query results
	CacheTTL time.Duration `env:"ROUTER_CACHE_TTL" envDefault:"60s"`

	// CacheSize caps the number of memoized results
	CacheSize int `env:"ROUTER_CACHE_SIZE" envDefault:"4096"`

	// SemanticK is the default k for semantic searches issued by the router
	SemanticK int `env:"ROUTER_SEMANTIC_K" envDefault:"10"`

	// SemanticThreshold is the default similarity floor
	SemanticThreshold float64 `env:"ROUTER_SEMANTIC_THRESHOLD" envDefault:"0.7"`
}

// QuotaConfig holds quota gate settings
type QuotaConfig struct {
	// Strict rejects tenants without a quota row; otherwise the default
	// plan below is applied
	Strict bool `env:"QUOTA_STRICT" envDefault:"false"`

	DefaultMaxConcepts       int64 `env:"QUOTA_DEFAULT_MAX_CONCEPTS" envDefault:"100000"`
	DefaultQueriesPerMonth   int64 `env:"QUOTA_DEFAULT_QUERIES_PER_MONTH" envDefault:"100000"`
	DefaultAPICallsPerMonth  int64 `env:"QUOTA_DEFAULT_API_CALLS_PER_MONTH" envDefault:"100000"`
	DefaultStorageBytes      int64 `env:"QUOTA_DEFAULT_STORAGE_BYTES" envDefault:"1073741824"`
	DefaultQueriesPerMinute  int   `env:"QUOTA_DEFAULT_QUERIES_PER_MINUTE" envDefault:"60"`
	DefaultAPICallsPerSecond int   `env:"QUOTA_DEFAULT_API_CALLS_PER_SECOND" envDefault:"10"`
	DefaultMaxPhase          int   `env:"QUOTA_DEFAULT_MAX_PHASE" envDefault:"4"`
	PersistUsage             bool  `env:"QUOTA_PERSIST_USAGE" envDefault:"true"`
}

// SyncConfig holds synchronizer settings
type SyncConfig struct {
	// Enabled controls whether the periodic forward sync runs
	Enabled bool `env:"SYNC_ENABLED" envDefault:"true"`

	// Interval between forward sync runs
	Interval time.Duration `env:"SYNC_INTERVAL" envDefault:"60s"`

	// BatchSize is the soft cap per committed batch
	BatchSize int `env:"SYNC_BATCH_SIZE" envDefault:"500"`

	// CommitTimeout bounds a single batch commit
	CommitTimeout time.Duration `env:"SYNC_COMMIT_TIMEOUT" envDefault:"10s"`

	// RulesPath points at the YAML mapping-rules file; sync is inert without it
	RulesPath string `env:"SYNC_RULES_PATH" envDefault:""`

	// ErrorRateThreshold is the per-window failure ratio that halves the batch size
	ErrorRateThreshold float64 `env:"SYNC_ERROR_RATE_THRESHOLD" envDefault:"0.2"`

	// CleanWindows is the number of consecutive clean windows before the
	// batch size doubles back up
	CleanWindows int `env:"SYNC_CLEAN_WINDOWS" envDefault:"5"`
}

// NewConfig loads configuration from environment variables
func NewConfig(log *slog.Logger) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	log.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.ServerPort),
		slog.String("db_host", cfg.Database.Host),
		slog.String("vector_backend", cfg.Vector.Backend),
		slog.Int("vector_dimension", cfg.Vector.Dimension),
	)

	return cfg, nil
}
