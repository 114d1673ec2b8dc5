package config

import (
	"encoding/json"
	"os"
	"strconv"
	"time"
)

// PostgresConfig holds database connection settings.
type PostgresConfig struct {
	DSN string `json:"dsn"`
}

// RedisConfig holds optional Redis settings for the distributed notifier.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// BusConfig holds producer-side defaults.
type BusConfig struct {
	DefaultMaxAttempts  int   `json:"default_max_attempts"`
	BackoffSchedule     []int `json:"backoff_schedule"` // seconds per attempt
	RetryResetsAttempts bool  `json:"retry_resets_attempts"`
}

// WorkerConfig holds per-domain worker settings.
type WorkerConfig struct {
	Concurrency       int           `json:"concurrency"`
	VisibilityTimeout time.Duration `json:"visibility_timeout"`
	PollInterval      time.Duration `json:"poll_interval"`
	BatchSize         int           `json:"batch_size"`
	UseNotify         bool          `json:"use_notify"`
	GracePeriod       time.Duration `json:"grace_period"`
}

// BatchConfig holds batch creation settings.
type BatchConfig struct {
	DefaultChunkSize int `json:"default_chunk_size"`
}

// QueueConfig controls queue name construction.
type QueueConfig struct {
	CommandSuffix string `json:"queue_suffix"`
	ReplySuffix   string `json:"reply_suffix"`
}

// DaemonConfig holds daemon-specific settings.
type DaemonConfig struct {
	HTTPAddr string `json:"http_addr"`
	LogLevel string `json:"log_level"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool    `json:"enabled"`
	Exporter    string  `json:"exporter"`
	Endpoint    string  `json:"endpoint"`
	ServiceName string  `json:"service_name"`
	SampleRate  float64 `json:"sample_rate"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Namespace string `json:"namespace"`
}

// Config is the central configuration struct embedding all component configs.
type Config struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
	Bus      BusConfig      `json:"bus"`
	Worker   WorkerConfig   `json:"worker"`
	Batch    BatchConfig    `json:"batch"`
	Queue    QueueConfig    `json:"queue"`
	Daemon   DaemonConfig   `json:"daemon"`
	Tracing  TracingConfig  `json:"tracing"`
	Metrics  MetricsConfig  `json:"metrics"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Postgres: PostgresConfig{
			DSN: "",
		},
		Redis: RedisConfig{
			Addr:     "",
			Password: "",
			DB:       0,
		},
		Bus: BusConfig{
			DefaultMaxAttempts:  3,
			BackoffSchedule:     []int{1, 5, 30, 120},
			RetryResetsAttempts: true,
		},
		Worker: WorkerConfig{
			Concurrency:       8,
			VisibilityTimeout: 30 * time.Second,
			PollInterval:      500 * time.Millisecond,
			BatchSize:         10,
			UseNotify:         true,
			GracePeriod:       20 * time.Second,
		},
		Batch: BatchConfig{
			DefaultChunkSize: 1000,
		},
		Queue: QueueConfig{
			CommandSuffix: "commands",
			ReplySuffix:   "replies",
		},
		Daemon: DaemonConfig{
			HTTPAddr: ":9040",
			LogLevel: "info",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    "otlp-http",
			Endpoint:    "localhost:4318",
			ServiceName: "courier",
			SampleRate:  1.0,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "courier",
		},
	}
}

// LoadFromFile loads configuration from a JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("COURIER_PG_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("COURIER_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("COURIER_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("COURIER_HTTP_ADDR"); v != "" {
		cfg.Daemon.HTTPAddr = v
	}
	if v := os.Getenv("COURIER_LOG_LEVEL"); v != "" {
		cfg.Daemon.LogLevel = v
	}
	if v := os.Getenv("COURIER_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Bus.DefaultMaxAttempts = n
		}
	}
	if v := os.Getenv("COURIER_WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Worker.Concurrency = n
		}
	}
	if v := os.Getenv("COURIER_QUEUE_SUFFIX"); v != "" {
		cfg.Queue.CommandSuffix = v
	}
	if v := os.Getenv("COURIER_REPLY_SUFFIX"); v != "" {
		cfg.Queue.ReplySuffix = v
	}
	if v := os.Getenv("COURIER_OTLP_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = v
		cfg.Tracing.Enabled = true
	}
}

// BackoffDurations converts the configured backoff schedule to durations.
func (c *BusConfig) BackoffDurations() []time.Duration {
	out := make([]time.Duration, 0, len(c.BackoffSchedule))
	for _, s := range c.BackoffSchedule {
		out = append(out, time.Duration(s)*time.Second)
	}
	return out
}
