package telemetry

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Config holds the settings of every telemetry component.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig
}

type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error or fatal.
	Level string

	// Format is console or json.
	Format string

	// Output is stdout, stderr or a file path.
	Output string

	EnableCaller bool

	// With sampling on, SamplingInitial lines per second pass and after that
	// one in SamplingThereafter.
	EnableSampling     bool
	SamplingInitial    int
	SamplingThereafter int

	// TimeFormat is rfc3339, unix, unixms or unixmicro.
	TimeFormat string
}

type TracingConfig struct {
	Enabled bool

	// Exporter is otlp, stdout or none.
	Exporter string

	// Endpoint is the OTLP gRPC collector, host:port.
	Endpoint string

	SamplingRate       float64
	MaxExportBatchSize int
	ExportTimeout      time.Duration
	Headers            map[string]string
	Insecure           bool
}

type MetricsConfig struct {
	Enabled bool

	// ListenAddress and Path are used by the standalone metrics server.
	ListenAddress string
	Path          string

	Namespace string

	// DefaultHistogramBuckets are latency buckets in seconds.
	DefaultHistogramBuckets []float64
}

type EventsConfig struct {
	Enabled bool

	// BufferSize bounds the queue in front of the async dispatcher.
	BufferSize int

	// The dispatcher delivers a batch when MaxBatchSize events are queued or
	// FlushInterval has passed.
	FlushInterval time.Duration
	MaxBatchSize  int

	// EnableAsync moves delivery onto a background goroutine. When false,
	// Publish calls subscribers before returning.
	EnableAsync bool
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "sharpline",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:              "info",
			Format:             "console",
			Output:             "stderr",
			SamplingInitial:    100,
			SamplingThereafter: 100,
			TimeFormat:         "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:           "none",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Headers:            map[string]string{},
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			ListenAddress: ":9090",
			Path:          "/metrics",
			Namespace:     "sharpline",
			DefaultHistogramBuckets: []float64{
				0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
			},
		},
		Events: EventsConfig{
			Enabled:       true,
			BufferSize:    1000,
			FlushInterval: 5 * time.Second,
			MaxBatchSize:  100,
			EnableAsync:   true,
		},
	}
}

// ProductionConfig logs json with sampling and exports a tenth of all traces over OTLP.
func ProductionConfig() *Config {
	cfg := DefaultConfig()
	cfg.Environment = "production"
	cfg.Logging.Format = "json"
	cfg.Logging.EnableSampling = true
	cfg.Logging.TimeFormat = "unix"
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.SamplingRate = 0.1
	cfg.Tracing.Insecure = false
	return cfg
}

var (
	logLevels     = []string{"trace", "debug", "info", "warn", "error", "fatal"}
	logFormats    = []string{"console", "json"}
	spanExporters = []string{"otlp", "stdout", "none"}
)

// Validate reports every problem in c at once.
func (c *Config) Validate() error {
	var errs []error
	if c.ServiceName == "" {
		errs = append(errs, errors.New("service name is required"))
	}
	if c.ServiceVersion == "" {
		errs = append(errs, errors.New("service version is required"))
	}
	if !slices.Contains(logLevels, c.Logging.Level) {
		errs = append(errs, fmt.Errorf("log level %q is not one of %v", c.Logging.Level, logLevels))
	}
	if !slices.Contains(logFormats, c.Logging.Format) {
		errs = append(errs, fmt.Errorf("log format %q is not one of %v", c.Logging.Format, logFormats))
	}
	if c.Tracing.Enabled && !slices.Contains(spanExporters, c.Tracing.Exporter) {
		errs = append(errs, fmt.Errorf("trace exporter %q is not one of %v", c.Tracing.Exporter, spanExporters))
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		errs = append(errs, fmt.Errorf("trace sampling rate %g is outside [0, 1]", c.Tracing.SamplingRate))
	}
	if c.Metrics.Enabled && c.Metrics.ListenAddress == "" {
		errs = append(errs, errors.New("metrics listen address is required"))
	}
	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("event buffer size must be positive, got %d", c.Events.BufferSize))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid telemetry config: %w", errors.Join(errs...))
	}
	return nil
}
