package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics holds the Prometheus series of the engine in a private registry.
// A nil *Metrics and a disabled instance are both no-ops.
type Metrics struct {
	config   MetricsConfig
	registry *prometheus.Registry

	srvMu  sync.Mutex
	server *http.Server
	addr   string

	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	runSignals    prometheus.Histogram
	activeRuns    prometheus.Gauge

	strategyRuns     *prometheus.CounterVec
	strategyDuration *prometheus.HistogramVec
	strategySignals  *prometheus.CounterVec
	strategyLoads    *prometheus.CounterVec
	runningNow       prometheus.Gauge

	errorsByClass    *prometheus.CounterVec
	errorsByCode     *prometheus.CounterVec
	policyViolations *prometheus.CounterVec
}

func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	ns := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: name, Help: help}, labels)
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: name, Help: help})
	}
	latency := func(name, help string, labels ...string) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: name, Help: help, Buckets: buckets}, labels)
	}

	m := &Metrics{
		config:   cfg,
		registry: prometheus.NewRegistry(),

		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "orchestrations_started_total",
			Help:      "Orchestration runs started.",
		}),
		runsCompleted: counter("orchestrations_completed_total", "Orchestration runs finished, by status.", "status"),
		runDuration:   latency("orchestration_duration_seconds", "Wall time of an orchestration run.", "status"),
		runSignals: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "orchestration_signals",
			Help:      "Signals produced per orchestration run.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		activeRuns: gauge("active_orchestrations", "Orchestration runs in progress."),

		strategyRuns:     counter("strategy_executions_total", "Strategy executions, by outcome.", "strategy", "status"),
		strategyDuration: latency("strategy_duration_seconds", "Wall time of one strategy execution.", "strategy"),
		strategySignals:  counter("strategy_signals_total", "Signals emitted, by strategy and signal type.", "strategy", "signal_type"),
		strategyLoads:    counter("strategy_loads_total", "Strategy construction attempts.", "strategy", "result"),
		runningNow:       gauge("running_strategies", "Strategies currently executing."),

		errorsByClass:    counter("errors_by_class_total", "Strategy errors, by transient or permanent class.", "class"),
		errorsByCode:     counter("errors_by_code_total", "Strategy errors, by error code.", "code"),
		policyViolations: counter("policy_violations_total", "Plan policy findings.", "policy", "severity"),
	}

	m.registry.MustRegister(
		m.runsStarted, m.runsCompleted, m.runDuration, m.runSignals, m.activeRuns,
		m.strategyRuns, m.strategyDuration, m.strategySignals, m.strategyLoads, m.runningNow,
		m.errorsByClass, m.errorsByCode, m.policyViolations,
	)
	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// RecordOrchestrationStarted counts a run and raises the active gauge until
// RecordOrchestrationCompleted is called for it.
func (m *Metrics) RecordOrchestrationStarted() {
	if !m.enabled() {
		return
	}
	m.runsStarted.Inc()
	m.activeRuns.Inc()
}

func (m *Metrics) RecordOrchestrationCompleted(status string, duration time.Duration, signals int) {
	if !m.enabled() {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.runSignals.Observe(float64(signals))
	m.activeRuns.Dec()
}

func (m *Metrics) RecordStrategyExecution(strategy, status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.strategyRuns.WithLabelValues(strategy, status).Inc()
	m.strategyDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

func (m *Metrics) RecordSignals(strategy, signalType string, count int) {
	if !m.enabled() || count <= 0 {
		return
	}
	m.strategySignals.WithLabelValues(strategy, signalType).Add(float64(count))
}

func (m *Metrics) RecordStrategyLoad(strategy string, ok bool) {
	if !m.enabled() {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.strategyLoads.WithLabelValues(strategy, result).Inc()
}

func (m *Metrics) StrategyStarted() {
	if m.enabled() {
		m.runningNow.Inc()
	}
}

func (m *Metrics) StrategyFinished() {
	if m.enabled() {
		m.runningNow.Dec()
	}
}

// RecordError counts a strategy error. The code series is skipped when code is empty.
func (m *Metrics) RecordError(class, code string) {
	if !m.enabled() {
		return
	}
	m.errorsByClass.WithLabelValues(class).Inc()
	if code != "" {
		m.errorsByCode.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) RecordPolicyViolation(policy, severity string) {
	if m.enabled() {
		m.policyViolations.WithLabelValues(policy, severity).Inc()
	}
}

// Registry returns the private registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format. Disabled
// metrics answer 404.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// StartMetricsServer listens on ListenAddress and serves Handler on Path in the
// background. Listen errors are returned; Serve errors after that are logged to stderr.
// A second call while the server is running is a no-op.
func (m *Metrics) StartMetricsServer() error {
	if !m.enabled() {
		return nil
	}

	m.srvMu.Lock()
	defer m.srvMu.Unlock()
	if m.server != nil {
		return nil
	}

	ln, err := net.Listen("tcp", m.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	m.server = srv
	m.addr = ln.Addr().String()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
			logger.Error().Err(err).Str("addr", ln.Addr().String()).Msg("metrics server stopped")
		}
	}()
	return nil
}

// Addr returns the address the metrics server is bound to, or "" when it is not running.
func (m *Metrics) Addr() string {
	if m == nil {
		return ""
	}
	m.srvMu.Lock()
	defer m.srvMu.Unlock()
	return m.addr
}

// Shutdown stops the metrics server started by StartMetricsServer, waiting for
// in-flight scrapes until ctx is done.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	m.srvMu.Lock()
	srv := m.server
	m.server, m.addr = nil, ""
	m.srvMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
