package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

type Config struct {
	Environment string           `yaml:"environment" default:"development" validate:"required,oneof=development staging production test"`
	Server      ServerConfig     `yaml:"server"`
	Log         LogConfig        `yaml:"log"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Breaker     BreakerConfig    `yaml:"breaker"`
	Retry       RetryConfig      `yaml:"retry"`
	QuoteCache  QuoteCacheConfig `yaml:"quote_cache"`
	Aggregator  AggregatorConfig `yaml:"aggregator"`
	Health      HealthConfig     `yaml:"health"`
	Sources     []SourceConfig   `yaml:"sources" validate:"required,min=1,dive"`
	Redis       RedisConfig      `yaml:"redis"`
	Kafka       KafkaConfig      `yaml:"kafka"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            int           `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	SlowThreshold   time.Duration `yaml:"slow_threshold" default:"1s"`
	CORS            bool          `yaml:"cors" default:"true"`
	WSPingInterval  time.Duration `yaml:"ws_ping_interval" default:"30s"`
}

type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error fatal panic"`
	Format string `yaml:"format" default:"json" validate:"oneof=json console"`
	Output string `yaml:"output" default:"stdout"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled" default:"true"`
}

type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" default:"5" validate:"gt=0"`
	ResetTimeout     time.Duration `yaml:"reset_timeout" default:"30s" validate:"gt=0"`
	SuccessThreshold int           `yaml:"success_threshold" default:"2" validate:"gt=0"`
}

type RetryConfig struct {
	MaxRetries        int           `yaml:"max_retries" default:"3" validate:"gte=0"`
	InitialDelay      time.Duration `yaml:"initial_delay" default:"1s" validate:"gte=0"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" default:"2" validate:"gte=1"`
	MaxDelay          time.Duration `yaml:"max_delay" default:"30s" validate:"gte=0"`
	Jitter            bool          `yaml:"jitter" default:"true"`
}

type PairConfig struct {
	Input  string `yaml:"input" validate:"required"`
	Output string `yaml:"output" validate:"required,nefield=Input"`
}

type QuoteCacheConfig struct {
	TTL                 time.Duration `yaml:"ttl" default:"2s" validate:"gt=0"`
	MaxSize             int           `yaml:"max_size" default:"100" validate:"gt=0"`
	PredictionThreshold int           `yaml:"prediction_threshold" default:"3" validate:"gt=0"`
	PredictionRefresh   time.Duration `yaml:"prediction_refresh" default:"1500ms" validate:"gt=0"`
	SnapshotInterval    time.Duration `yaml:"snapshot_interval" default:"10s" validate:"gt=0"`
	HotPairs            []PairConfig  `yaml:"hot_pairs" validate:"dive"`
	HotAmounts          []string      `yaml:"hot_amounts" validate:"dive,numeric"`
}

type AggregatorConfig struct {
	FetchTimeout time.Duration `yaml:"fetch_timeout" default:"5s" validate:"gt=0"`
}

type HealthConfig struct {
	CheckInterval    time.Duration `yaml:"check_interval" default:"10s" validate:"gt=0"`
	Timeout          time.Duration `yaml:"timeout" default:"5s" validate:"gt=0"`
	LatencyThreshold time.Duration `yaml:"latency_threshold" default:"2s" validate:"gt=0"`
	ErrorThreshold   float64       `yaml:"error_threshold" default:"0.1" validate:"gt=0,lte=1"`
	Publish          bool          `yaml:"publish"`
}

type RateLimitConfig struct {
	Capacity        float64 `yaml:"capacity" validate:"gte=0"`
	RefillPerSecond float64 `yaml:"refill_per_second" validate:"gte=0"`
}

type ProbeConfig struct {
	Input  string `yaml:"input" validate:"required"`
	Output string `yaml:"output" validate:"required,nefield=Input"`
	Amount string `yaml:"amount" default:"1" validate:"numeric"`
}

type SourceConfig struct {
	Name      string            `yaml:"name" validate:"required"`
	URL       string            `yaml:"url" validate:"required,url"`
	Priority  int               `yaml:"priority"`
	Enabled   bool              `yaml:"enabled" default:"true"`
	Critical  bool              `yaml:"critical"`
	FeeBps    int               `yaml:"fee_bps" validate:"gte=0,lt=10000"`
	Timeout   time.Duration     `yaml:"timeout" default:"5s"`
	Headers   map[string]string `yaml:"headers"`
	RateLimit RateLimitConfig   `yaml:"rate_limit"`
	Probe     ProbeConfig       `yaml:"probe"`
}

// UnmarshalYAML fills defaults before decoding so explicit zero values in
// the file win over struct tag defaults.
func (s *SourceConfig) UnmarshalYAML(node *yaml.Node) error {
	if err := defaults.Set(s); err != nil {
		return err
	}
	type plain SourceConfig
	return node.Decode((*plain)(s))
}

type RedisConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr" default:"localhost:6379"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db" validate:"gte=0"`
	PoolSize     int           `yaml:"pool_size" default:"10"`
	MinIdleConns int           `yaml:"min_idle_conns" default:"2"`
	PoolTimeout  time.Duration `yaml:"pool_timeout" default:"4s"`
	Prefix       string        `yaml:"prefix" default:"swapquote"`
	SnapshotTTL  time.Duration `yaml:"snapshot_ttl" default:"24h"`
	Critical     bool          `yaml:"critical"`
}

type KafkaConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers"`
	HealthTopic  string        `yaml:"health_topic" default:"swapquote.health"`
	RequiredAcks int           `yaml:"required_acks" default:"-1"`
	Compression  string        `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
	MaxAttempts  int           `yaml:"max_attempts" default:"3"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"5s"`
	BatchTimeout time.Duration `yaml:"batch_timeout" default:"10ms"`
	Async        bool          `yaml:"async"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	c, err := Parse(b)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Validate required fields
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables
	if v := os.Getenv("SWAPQUOTE_ENV"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Validate checks struct tags plus rules that span fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(c.Sources))
	for _, s := range c.Sources {
		if _, ok := seen[s.Name]; ok {
			return fmt.Errorf("sources: duplicate name %q", s.Name)
		}
		seen[s.Name] = struct{}{}
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Health.Publish && !c.Kafka.Enabled {
		return errors.New("health.publish requires kafka.enabled")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return errors.New("redis.addr is required when redis is enabled")
	}
	return nil
}
