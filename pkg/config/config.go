// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Counter, Handoff, Postgres, Kafka, Redis, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Strategy names accepted by CounterConfig.Strategy.
const (
	StrategySequential = "sequential"
	StrategyThreaded   = "threaded"
	StrategyProcess    = "process"
)

// Capacity policies accepted by CounterConfig.OnCapacity.
const (
	CapacityDrop = "drop"
	CapacityFail = "fail"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Counter  CounterConfig  `yaml:"counter"`
	Handoff  HandoffConfig  `yaml:"handoff"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// RateLimit is the number of count requests one client may start per
	// minute. Zero disables the limit.
	RateLimit int `yaml:"rateLimit"`
	// MaxWorkers caps the worker count a request may ask for.
	MaxWorkers int `yaml:"maxWorkers"`
}

// CounterConfig holds the knobs of the term counting pipeline.
type CounterConfig struct {
	Strategy       string        `yaml:"strategy"`
	Workers        int           `yaml:"workers"`
	GlobalCapacity int           `yaml:"globalCapacity"`
	MaxTermLen     int           `yaml:"maxTermLen"`
	TopK           int           `yaml:"topK"`
	OnCapacity     string        `yaml:"onCapacity"`
	WorkerTimeout  time.Duration `yaml:"workerTimeout"`
	InputRoot      string        `yaml:"inputRoot"`
}

// LocalCapacity returns the per-partition table ceiling. Zero means unbounded.
func (c CounterConfig) LocalCapacity() int {
	if c.GlobalCapacity <= 0 || c.Workers <= 0 {
		return 0
	}
	local := c.GlobalCapacity / c.Workers
	if local < 1 {
		local = 1
	}
	return local
}

// HandoffConfig controls where worker processes leave their partition tables.
type HandoffConfig struct {
	Dir string `yaml:"dir"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
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
	RunCompleted string `yaml:"runCompleted"`
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

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls span logging for counting runs.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsConfig controls the Prometheus metrics server. Textfile, when set,
// is where the CLI writes its metrics on exit.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Port     int    `yaml:"port"`
	Textfile string `yaml:"textfile"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values, or an error if the result does not validate.
func Load(path string) (*Config, error) {
	cfg := Default()
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

// Default returns a Config with the defaults used for local runs. The counter
// defaults reproduce the reference setup: 8 workers, 49-byte terms, top 10.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
			RateLimit:       30,
			MaxWorkers:      64,
		},
		Counter: CounterConfig{
			Strategy:       StrategyThreaded,
			Workers:        8,
			GlobalCapacity: 17_500_000,
			MaxTermLen:     49,
			TopK:           10,
			OnCapacity:     CapacityDrop,
		},
		Handoff: HandoffConfig{
			Dir: os.TempDir(),
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "termfreq",
			User:            "termfreq",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "termfreq-recorder",
			Topics: KafkaTopics{
				RunCompleted: "termfreq.run-completed",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Port: 9090,
		},
	}
}

// Validate checks the counter settings the pipeline depends on.
func (c *Config) Validate() error {
	switch c.Counter.Strategy {
	case StrategySequential, StrategyThreaded, StrategyProcess:
	default:
		return fmt.Errorf("invalid counter.strategy %q", c.Counter.Strategy)
	}
	switch c.Counter.OnCapacity {
	case CapacityDrop, CapacityFail:
	default:
		return fmt.Errorf("invalid counter.onCapacity %q", c.Counter.OnCapacity)
	}
	if c.Counter.Workers < 1 {
		return fmt.Errorf("counter.workers must be >= 1, got %d", c.Counter.Workers)
	}
	if c.Counter.MaxTermLen < 1 {
		return fmt.Errorf("counter.maxTermLen must be >= 1, got %d", c.Counter.MaxTermLen)
	}
	if c.Counter.TopK < 0 {
		return fmt.Errorf("counter.topK must be >= 0, got %d", c.Counter.TopK)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rateLimit must be >= 0, got %d", c.Server.RateLimit)
	}
	if c.Counter.GlobalCapacity < 0 {
		return fmt.Errorf("counter.globalCapacity must be >= 0, got %d", c.Counter.GlobalCapacity)
	}
	return nil
}

// applyEnvOverrides reads TF_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TF_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("TF_SERVER_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.RateLimit = n
		}
	}
	if v := os.Getenv("TF_COUNTER_STRATEGY"); v != "" {
		cfg.Counter.Strategy = v
	}
	if v := os.Getenv("TF_COUNTER_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Counter.Workers = n
		}
	}
	if v := os.Getenv("TF_COUNTER_GLOBAL_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Counter.GlobalCapacity = n
		}
	}
	if v := os.Getenv("TF_COUNTER_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Counter.TopK = n
		}
	}
	if v := os.Getenv("TF_COUNTER_ON_CAPACITY"); v != "" {
		cfg.Counter.OnCapacity = v
	}
	if v := os.Getenv("TF_COUNTER_WORKER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Counter.WorkerTimeout = d
		}
	}
	if v := os.Getenv("TF_COUNTER_INPUT_ROOT"); v != "" {
		cfg.Counter.InputRoot = v
	}
	if v := os.Getenv("TF_HANDOFF_DIR"); v != "" {
		cfg.Handoff.Dir = v
	}
	if v := os.Getenv("TF_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("TF_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("TF_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("TF_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("TF_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("TF_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("TF_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("TF_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("TF_METRICS_TEXTFILE"); v != "" {
		cfg.Metrics.Textfile = v
	}
	if v := os.Getenv("TF_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TF_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
