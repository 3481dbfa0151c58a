package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Broker         BrokerConfig
	Logging        LoggingConfig
	Ingest         IngestConfig
	RateLimit      RateLimitConfig
	Filtering      FilteringConfig
	Routing        RoutingConfig
	Delivery       DeliveryConfig
	Retry          RetrySweepConfig
	Management     ManagementConfig
	CircuitBreaker CircuitBreakerConfig
	Tracing        TracingConfig
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration `mapstructure:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig
	Redis         RedisConfig
	MongoDB       MongoDBConfig
	RunMigrations bool `mapstructure:"run_migrations"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type BrokerConfig struct {
	Type  string      `mapstructure:"type"` // "kafka" or "memory"
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers           []string    `mapstructure:"brokers"`
	GroupID           string      `mapstructure:"group_id"`
	DeliveriesTopic   string      `mapstructure:"deliveries_topic"`
	ConfigUpdateTopic string      `mapstructure:"config_update_topic"`
	DLQTopic          string      `mapstructure:"dlq_topic"`
	Retry             RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// IngestConfig shapes the webhook ingestion surface.
type IngestConfig struct {
	// Sources maps a webhook source key to its shared HMAC secret.
	Sources map[string]SourceConfig `mapstructure:"sources"`
	// RequireSignature rejects requests from sources with no configured secret.
	RequireSignature bool `mapstructure:"require_signature"`
	// MaxBodyBytes caps inbound payload size.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
}

type SourceConfig struct {
	Secret          string `mapstructure:"secret"`
	SignatureHeader string `mapstructure:"signature_header"`
}

// RateLimitConfig is the admission-control policy for inbound webhooks.
// Overrides is keyed "source" or "source:identifier"; identifier-level wins.
type RateLimitConfig struct {
	Algorithm     string                   `mapstructure:"algorithm"` // "fixed_window", "sliding_window", "token_bucket"
	DefaultLimit  int                      `mapstructure:"default_limit"`
	WindowSeconds int                      `mapstructure:"window_seconds"`
	BucketSize    int                      `mapstructure:"bucket_size"`
	RefillRate    float64                  `mapstructure:"refill_rate"`
	Overrides     map[string]LimitOverride `mapstructure:"overrides"`
}

type LimitOverride struct {
	Limit         int `mapstructure:"limit"`
	WindowSeconds int `mapstructure:"window_seconds"`
}

type FilteringConfig struct {
	Reload   ReloadConfig   `mapstructure:"reload"`
	Fallback FallbackConfig `mapstructure:"fallback"`
}

type RoutingConfig struct {
	Reload ReloadConfig `mapstructure:"reload"`
}

type FallbackConfig struct {
	OnError string `mapstructure:"on_error"` // "allow" (default, fail-open) or "deny"
}

type ReloadConfig struct {
	IntervalSeconds       int `mapstructure:"interval_seconds"`
	JitterMaxMilliseconds int `mapstructure:"jitter_max_milliseconds"`
}

type DeliveryConfig struct {
	// Agents maps a target agent id to its push endpoint and signing secret.
	Agents map[string]AgentConfig `mapstructure:"agents"`
	// TimeoutSeconds bounds a single delivery attempt.
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

type AgentConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Secret   string `mapstructure:"secret"`
	// Filters restricts which events the agent receives; empty accepts all.
	Filters []AgentFilterConfig `mapstructure:"filters"`
}

type AgentFilterConfig struct {
	Source    string `mapstructure:"source"`
	EventType string `mapstructure:"event_type"`
}

type RetrySweepConfig struct {
	SweepIntervalSeconds int `mapstructure:"sweep_interval_seconds"`
}

type ManagementConfig struct {
	RateLimit AdminRateLimitConfig `mapstructure:"rate_limit"`
}

type AdminRateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
