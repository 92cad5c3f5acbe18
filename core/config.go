package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the ingestion daemon.
// It supports three-layer configuration priority:
//  1. Default values (lowest priority)
//  2. Environment variables (medium priority)
//  3. Functional options (highest priority)
//
// An optional YAML file can be loaded between layers 1 and 2 with
// LoadConfigFile.
//
// Example usage:
//
//	cfg, err := core.NewConfig(
//	    core.WithName("sentinel"),
//	    core.WithPort(8080),
//	)
type Config struct {
	Name    string `json:"name" yaml:"name" env:"SENTINEL_NAME"`
	Port    int    `json:"port" yaml:"port" env:"SENTINEL_PORT"`
	Address string `json:"address" yaml:"address" env:"SENTINEL_ADDRESS"`

	// Secret signs agent bearer tokens. Required when an agent connector
	// is configured.
	Secret string `json:"-" yaml:"secret" env:"SENTINEL_SECRET"`

	HTTP      HTTPConfig      `json:"http" yaml:"http"`
	Queue     QueueConfig     `json:"queue" yaml:"queue"`
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler"`
	Monitor   MonitorConfig   `json:"monitor" yaml:"monitor"`
	Memory    MemoryConfig    `json:"memory" yaml:"memory"`
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`

	// Seed is an optional YAML file of connector records loaded into the
	// store at bootstrap when the store is empty.
	Seed string `json:"seed" yaml:"seed" env:"SENTINEL_SEED"`
}

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout" env:"SENTINEL_HTTP_READ_TIMEOUT"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout" env:"SENTINEL_HTTP_WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `json:"idle_timeout" yaml:"idle_timeout" env:"SENTINEL_HTTP_IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" env:"SENTINEL_HTTP_SHUTDOWN_TIMEOUT"`
}

// QueueConfig contains job queue and worker pool configuration.
type QueueConfig struct {
	MaxSize         int           `json:"max_size" yaml:"max_size" env:"SENTINEL_QUEUE_MAX_SIZE"`
	Concurrency     int           `json:"concurrency" yaml:"concurrency" env:"SENTINEL_QUEUE_CONCURRENCY"`
	RetryDelayBase  time.Duration `json:"retry_delay_base" yaml:"retry_delay_base" env:"SENTINEL_QUEUE_RETRY_DELAY"`
	IdleSleep       time.Duration `json:"idle_sleep" yaml:"idle_sleep" env:"SENTINEL_QUEUE_IDLE_SLEEP"`
	CleanupInterval time.Duration `json:"cleanup_interval" yaml:"cleanup_interval" env:"SENTINEL_QUEUE_CLEANUP_INTERVAL"`
	RetainFor       time.Duration `json:"retain_for" yaml:"retain_for" env:"SENTINEL_QUEUE_RETAIN_FOR"`
	JobTimeout      time.Duration `json:"job_timeout" yaml:"job_timeout" env:"SENTINEL_QUEUE_JOB_TIMEOUT"`
}

// SchedulerConfig contains the polling scheduler configuration.
type SchedulerConfig struct {
	TickInterval time.Duration `json:"tick_interval" yaml:"tick_interval" env:"SENTINEL_SCHED_TICK"`
}

// MonitorConfig contains realtime monitor configuration.
type MonitorConfig struct {
	CollectInterval   time.Duration `json:"collect_interval" yaml:"collect_interval" env:"SENTINEL_MONITOR_INTERVAL"`
	HistorySize       int           `json:"history_size" yaml:"history_size" env:"SENTINEL_MONITOR_HISTORY"`
	KeepAliveInterval time.Duration `json:"keepalive_interval" yaml:"keepalive_interval" env:"SENTINEL_MONITOR_KEEPALIVE"`
}

// MemoryConfig contains state storage configuration. Supports in-memory
// storage (default) or Redis for the agent session cache.
type MemoryConfig struct {
	Provider   string        `json:"provider" yaml:"provider" env:"SENTINEL_MEMORY_PROVIDER"`
	RedisURL   string        `json:"redis_url" yaml:"redis_url" env:"SENTINEL_REDIS_URL,REDIS_URL"`
	DefaultTTL time.Duration `json:"default_ttl" yaml:"default_ttl" env:"SENTINEL_MEMORY_DEFAULT_TTL"`
}

// TelemetryConfig contains observability configuration. The endpoint should
// be an OTLP gRPC receiver address; when empty and tracing is enabled,
// spans go to stdout.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled" env:"SENTINEL_TELEMETRY_ENABLED"`
	Endpoint    string `json:"endpoint" yaml:"endpoint" env:"SENTINEL_TELEMETRY_ENDPOINT,OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName string `json:"service_name" yaml:"service_name" env:"SENTINEL_TELEMETRY_SERVICE_NAME,OTEL_SERVICE_NAME"`
	Insecure    bool   `json:"insecure" yaml:"insecure" env:"SENTINEL_TELEMETRY_INSECURE"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" env:"SENTINEL_LOG_LEVEL"`
	Format string `json:"format" yaml:"format" env:"SENTINEL_LOG_FORMAT"`
}

// Option is a functional option for configuring the daemon. Options are
// applied in order and can return an error if the configuration is invalid.
type Option func(*Config) error

// DefaultConfig returns a configuration with the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Name: "sentinel",
		Port: 8080,
		HTTP: HTTPConfig{
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Queue: QueueConfig{
			MaxSize:         10000,
			Concurrency:     5,
			RetryDelayBase:  5 * time.Second,
			IdleSleep:       1 * time.Second,
			CleanupInterval: 1 * time.Hour,
			RetainFor:       24 * time.Hour,
			JobTimeout:      5 * time.Minute,
		},
		Scheduler: SchedulerConfig{
			TickInterval: 10 * time.Second,
		},
		Monitor: MonitorConfig{
			CollectInterval:   10 * time.Second,
			HistorySize:       100,
			KeepAliveInterval: 30 * time.Second,
		},
		Memory: MemoryConfig{
			Provider:   "inmemory",
			DefaultTTL: 1 * time.Hour,
		},
		Telemetry: TelemetryConfig{
			Enabled:  false,
			Insecure: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// NewConfig builds a Config from defaults, environment variables, and the
// supplied options, in that order.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()
	cfg.applyEnv()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile overlays a YAML file onto cfg. Missing file is an error;
// the caller decides whether the file is optional.
func (c *Config) LoadConfigFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range: %w", c.Port, ErrConfigInvalid)
	}
	if c.Queue.MaxSize <= 0 {
		return fmt.Errorf("queue max size must be positive: %w", ErrConfigInvalid)
	}
	if c.Queue.Concurrency <= 0 {
		return fmt.Errorf("queue concurrency must be positive: %w", ErrConfigInvalid)
	}
	if c.Memory.Provider != "inmemory" && c.Memory.Provider != "redis" {
		return fmt.Errorf("unknown memory provider %q: %w", c.Memory.Provider, ErrConfigInvalid)
	}
	if c.Memory.Provider == "redis" && c.Memory.RedisURL == "" {
		return fmt.Errorf("redis memory provider requires redis_url: %w", ErrConfigInvalid)
	}
	return nil
}

// applyEnv overlays environment variables onto the config. Only the
// commonly tuned knobs are exposed; everything else is file or option
// driven.
func (c *Config) applyEnv() {
	setString(&c.Name, "SENTINEL_NAME")
	setInt(&c.Port, "SENTINEL_PORT")
	setString(&c.Address, "SENTINEL_ADDRESS")
	setString(&c.Secret, "SENTINEL_SECRET")
	setString(&c.Seed, "SENTINEL_SEED")
	setInt(&c.Queue.MaxSize, "SENTINEL_QUEUE_MAX_SIZE")
	setInt(&c.Queue.Concurrency, "SENTINEL_QUEUE_CONCURRENCY")
	setDuration(&c.Queue.RetryDelayBase, "SENTINEL_QUEUE_RETRY_DELAY")
	setDuration(&c.Scheduler.TickInterval, "SENTINEL_SCHED_TICK")
	setDuration(&c.Monitor.CollectInterval, "SENTINEL_MONITOR_INTERVAL")
	setString(&c.Memory.Provider, "SENTINEL_MEMORY_PROVIDER")
	setString(&c.Memory.RedisURL, "SENTINEL_REDIS_URL", "REDIS_URL")
	setBool(&c.Telemetry.Enabled, "SENTINEL_TELEMETRY_ENABLED")
	setString(&c.Telemetry.Endpoint, "SENTINEL_TELEMETRY_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&c.Telemetry.ServiceName, "SENTINEL_TELEMETRY_SERVICE_NAME", "OTEL_SERVICE_NAME")
	setString(&c.Logging.Level, "SENTINEL_LOG_LEVEL")
	setString(&c.Logging.Format, "SENTINEL_LOG_FORMAT")
}

func lookupFirst(keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := os.LookupEnv(k); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

func setString(dst *string, keys ...string) {
	if v, ok := lookupFirst(keys...); ok {
		*dst = v
	}
}

func setInt(dst *int, keys ...string) {
	if v, ok := lookupFirst(keys...); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, keys ...string) {
	if v, ok := lookupFirst(keys...); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, keys ...string) {
	if v, ok := lookupFirst(keys...); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// Functional options.

// WithName sets the daemon name used in logs and telemetry.
func WithName(name string) Option {
	return func(c *Config) error {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("name cannot be empty: %w", ErrConfigInvalid)
		}
		c.Name = name
		return nil
	}
}

// WithPort sets the HTTP port.
func WithPort(port int) Option {
	return func(c *Config) error {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("port %d out of range: %w", port, ErrConfigInvalid)
		}
		c.Port = port
		return nil
	}
}

// WithSecret sets the token signing secret.
func WithSecret(secret string) Option {
	return func(c *Config) error {
		c.Secret = secret
		return nil
	}
}

// WithConfigFile loads a YAML config file as an option layer.
func WithConfigFile(path string) Option {
	return func(c *Config) error {
		return c.LoadConfigFile(path)
	}
}

// WithQueueSize overrides the queue bound.
func WithQueueSize(n int) Option {
	return func(c *Config) error {
		if n <= 0 {
			return fmt.Errorf("queue size must be positive: %w", ErrConfigInvalid)
		}
		c.Queue.MaxSize = n
		return nil
	}
}

// WithConcurrency overrides the worker count.
func WithConcurrency(n int) Option {
	return func(c *Config) error {
		if n <= 0 {
			return fmt.Errorf("concurrency must be positive: %w", ErrConfigInvalid)
		}
		c.Queue.Concurrency = n
		return nil
	}
}
