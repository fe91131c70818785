package config

import (
	"time"

	"github.com/sharpline/sharpline/pkg/engine"
	"github.com/sharpline/sharpline/pkg/telemetry"
)

// EnvPrefix is prepended to every environment variable the config reads.
const EnvPrefix = "SHARPLINE_"

// Config is the complete sharpline configuration.
type Config struct {
	// Engine holds planner limits and run history sizing.
	Engine EngineConfig `json:"engine" yaml:"engine" toml:"engine"`

	// Store configures the SQLite run history and odds snapshots.
	Store StoreConfig `json:"store" yaml:"store" toml:"store"`

	// Server configures the HTTP API.
	Server ServerConfig `json:"server" yaml:"server" toml:"server"`

	// Redis configures event forwarding to Redis Streams.
	Redis RedisConfig `json:"redis" yaml:"redis" toml:"redis"`

	// Policy configures plan admission.
	Policy PolicyConfig `json:"policy" yaml:"policy" toml:"policy"`

	// Telemetry configures logging, tracing and metrics.
	Telemetry TelemetrySettings `json:"telemetry" yaml:"telemetry" toml:"telemetry"`

	// Strategies overrides descriptor fields by strategy ID.
	Strategies map[string]StrategyOverride `json:"strategies,omitempty" yaml:"strategies,omitempty" toml:"strategies,omitempty" validate:"dive"`
}

// EngineConfig holds orchestration limits.
type EngineConfig struct {
	MaxConcurrent       int     `json:"max_concurrent" yaml:"max_concurrent" toml:"max_concurrent" env:"ENGINE_MAX_CONCURRENT" validate:"min=1"`
	GlobalMaxConcurrent int     `json:"global_max_concurrent" yaml:"global_max_concurrent" toml:"global_max_concurrent" env:"ENGINE_GLOBAL_MAX_CONCURRENT" validate:"min=1,gtefield=MaxConcurrent"`
	TimeoutSeconds      float64 `json:"timeout_seconds" yaml:"timeout_seconds" toml:"timeout_seconds" env:"ENGINE_TIMEOUT_SECONDS" validate:"gt=0"`
	HistoryLimit        int     `json:"history_limit" yaml:"history_limit" toml:"history_limit" env:"ENGINE_HISTORY_LIMIT" validate:"min=1"`
	PerformanceWindow   int     `json:"performance_window" yaml:"performance_window" toml:"performance_window" env:"ENGINE_PERFORMANCE_WINDOW" validate:"min=1"`
	Sequential          bool    `json:"sequential" yaml:"sequential" toml:"sequential" env:"ENGINE_SEQUENTIAL"`
	Preload             bool    `json:"preload" yaml:"preload" toml:"preload" env:"ENGINE_PRELOAD"`
}

// StoreConfig configures the SQLite store.
type StoreConfig struct {
	// Path is the database file. ":memory:" keeps everything in process.
	Path string `json:"path" yaml:"path" toml:"path" env:"STORE_PATH" validate:"required"`

	// Retention is the number of runs kept after each save. Zero keeps everything.
	Retention int `json:"retention" yaml:"retention" toml:"retention" env:"STORE_RETENTION" validate:"min=0"`

	// Persist saves every finished run when set.
	Persist bool `json:"persist" yaml:"persist" toml:"persist" env:"STORE_PERSIST"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Address             string  `json:"address" yaml:"address" toml:"address" env:"SERVER_ADDRESS" validate:"required"`
	ReadTimeoutSeconds  float64 `json:"read_timeout_seconds" yaml:"read_timeout_seconds" toml:"read_timeout_seconds" env:"SERVER_READ_TIMEOUT_SECONDS" validate:"gt=0"`
	WriteTimeoutSeconds float64 `json:"write_timeout_seconds" yaml:"write_timeout_seconds" toml:"write_timeout_seconds" env:"SERVER_WRITE_TIMEOUT_SECONDS" validate:"gt=0"`
	MaxBatchSize        int     `json:"max_batch_size" yaml:"max_batch_size" toml:"max_batch_size" env:"SERVER_MAX_BATCH_SIZE" validate:"min=1"`
}

// RedisConfig configures the Redis Streams forwarder.
type RedisConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled" toml:"enabled" env:"REDIS_ENABLED"`
	Address      string `json:"address" yaml:"address" toml:"address" env:"REDIS_ADDRESS" validate:"required_if=Enabled true"`
	Password     string `json:"password,omitempty" yaml:"password,omitempty" toml:"password,omitempty" env:"REDIS_PASSWORD"`
	DB           int    `json:"db" yaml:"db" toml:"db" env:"REDIS_DB" validate:"min=0"`
	StreamPrefix string `json:"stream_prefix" yaml:"stream_prefix" toml:"stream_prefix" env:"REDIS_STREAM_PREFIX" validate:"required"`
	MaxLen       int64  `json:"max_len" yaml:"max_len" toml:"max_len" env:"REDIS_MAX_LEN" validate:"min=0"`
}

// PolicyConfig configures plan admission.
type PolicyConfig struct {
	Enabled        bool     `json:"enabled" yaml:"enabled" toml:"enabled" env:"POLICY_ENABLED"`
	Paths          []string `json:"paths,omitempty" yaml:"paths,omitempty" toml:"paths,omitempty" env:"POLICY_PATHS" envSeparator:","`
	Watch          bool     `json:"watch" yaml:"watch" toml:"watch" env:"POLICY_WATCH"`
	DisableBuiltin bool     `json:"disable_builtin" yaml:"disable_builtin" toml:"disable_builtin" env:"POLICY_DISABLE_BUILTIN"`
}

// TelemetrySettings is the user-facing subset of telemetry.Config.
type TelemetrySettings struct {
	ServiceName     string  `json:"service_name" yaml:"service_name" toml:"service_name" env:"TELEMETRY_SERVICE_NAME" validate:"required"`
	Environment     string  `json:"environment" yaml:"environment" toml:"environment" env:"TELEMETRY_ENVIRONMENT"`
	LogLevel        string  `json:"log_level" yaml:"log_level" toml:"log_level" env:"LOG_LEVEL" validate:"oneof=trace debug info warn error fatal"`
	LogFormat       string  `json:"log_format" yaml:"log_format" toml:"log_format" env:"LOG_FORMAT" validate:"oneof=console json"`
	TracingEnabled  bool    `json:"tracing_enabled" yaml:"tracing_enabled" toml:"tracing_enabled" env:"TRACING_ENABLED"`
	TracingExporter string  `json:"tracing_exporter" yaml:"tracing_exporter" toml:"tracing_exporter" env:"TRACING_EXPORTER" validate:"oneof=otlp stdout none"`
	TracingEndpoint string  `json:"tracing_endpoint,omitempty" yaml:"tracing_endpoint,omitempty" toml:"tracing_endpoint,omitempty" env:"TRACING_ENDPOINT" validate:"required_if=TracingExporter otlp"`
	SamplingRate    float64 `json:"sampling_rate" yaml:"sampling_rate" toml:"sampling_rate" env:"TRACING_SAMPLING_RATE" validate:"min=0,max=1"`
	MetricsEnabled  bool    `json:"metrics_enabled" yaml:"metrics_enabled" toml:"metrics_enabled" env:"METRICS_ENABLED"`
	MetricsAddress  string  `json:"metrics_address" yaml:"metrics_address" toml:"metrics_address" env:"METRICS_ADDRESS" validate:"required_if=MetricsEnabled true"`
}

// StrategyOverride changes one descriptor when the table is built.
type StrategyOverride struct {
	// Disabled removes the strategy from the table.
	Disabled bool `json:"disabled,omitempty" yaml:"disabled,omitempty" toml:"disabled,omitempty"`

	// Priority replaces the descriptor priority.
	Priority string `json:"priority,omitempty" yaml:"priority,omitempty" toml:"priority,omitempty" validate:"omitempty,oneof=critical high normal low CRITICAL HIGH NORMAL LOW"`

	// Config is merged over the descriptor config.
	Config map[string]interface{} `json:"config,omitempty" yaml:"config,omitempty" toml:"config,omitempty"`
}

// ValidationError describes a configuration problem with its location when known.
type ValidationError struct {
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
	Path     string `json:"path,omitempty"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			MaxConcurrent:       engine.DefaultMaxConcurrent,
			GlobalMaxConcurrent: engine.DefaultGlobalMaxConcurrent,
			TimeoutSeconds:      engine.DefaultStrategyTimeout.Seconds(),
			HistoryLimit:        engine.DefaultHistoryLimit,
			PerformanceWindow:   engine.DefaultPerformanceWindow,
		},
		Store: StoreConfig{
			Path:      "sharpline.db",
			Retention: 1000,
			Persist:   true,
		},
		Server: ServerConfig{
			Address:             ":8080",
			ReadTimeoutSeconds:  30,
			WriteTimeoutSeconds: 120,
			MaxBatchSize:        10000,
		},
		Redis: RedisConfig{
			Address:      "localhost:6379",
			StreamPrefix: "sharpline:events",
			MaxLen:       10000,
		},
		Policy: PolicyConfig{
			Enabled: true,
		},
		Telemetry: TelemetrySettings{
			ServiceName:     "sharpline",
			Environment:     "development",
			LogLevel:        "info",
			LogFormat:       "console",
			TracingExporter: "none",
			SamplingRate:    1.0,
			MetricsAddress:  ":9090",
		},
	}
}

// StrategyTimeout is the default per-strategy deadline.
func (c *Config) StrategyTimeout() time.Duration {
	return time.Duration(c.Engine.TimeoutSeconds * float64(time.Second))
}

// PlannerConfig returns the planner limits.
func (c *Config) PlannerConfig() engine.PlannerConfig {
	return engine.PlannerConfig{
		DefaultMaxConcurrent: c.Engine.MaxConcurrent,
		GlobalMaxConcurrent:  c.Engine.GlobalMaxConcurrent,
		DefaultTimeout:       c.StrategyTimeout(),
	}
}

// TelemetryConfig expands the telemetry settings into a full telemetry.Config.
func (c *Config) TelemetryConfig() *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	t := c.Telemetry
	cfg.ServiceName = t.ServiceName
	if t.Environment != "" {
		cfg.Environment = t.Environment
	}
	cfg.Logging.Level = t.LogLevel
	cfg.Logging.Format = t.LogFormat
	cfg.Tracing.Enabled = t.TracingEnabled
	cfg.Tracing.Exporter = t.TracingExporter
	cfg.Tracing.Endpoint = t.TracingEndpoint
	cfg.Tracing.SamplingRate = t.SamplingRate
	cfg.Metrics.Enabled = t.MetricsEnabled
	cfg.Metrics.ListenAddress = t.MetricsAddress
	return cfg
}
