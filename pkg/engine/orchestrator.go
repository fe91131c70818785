package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/sharpline/sharpline/pkg/telemetry"
)

// OrchestratorOptions wires optional collaborators into an Orchestrator.
type OrchestratorOptions struct {
	// Sequential disables concurrent execution within waves.
	Sequential bool

	// Preload resolves strategies matching PreloadFilter during Start.
	Preload       bool
	PreloadFilter ResolveFilter

	Publisher EventPublisher
	Sink      HistorySink
	Logger    *telemetry.Logger
	Metrics   *telemetry.Metrics
	Tracer    *telemetry.Tracer
}

// Orchestrator executes plans wave by wave with bounded concurrency and per-strategy timeouts.
type Orchestrator struct {
	factory  *Factory
	planner  *Planner
	registry *RunRegistry
	opts     OrchestratorOptions
	logger   *telemetry.Logger

	mu       sync.RWMutex
	started  bool
	inflight sync.WaitGroup
}

// NewOrchestrator wires dependencies. It performs no work until Start is called.
func NewOrchestrator(factory *Factory, planner *Planner, registry *RunRegistry, opts OrchestratorOptions) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	if registry == nil {
		registry = NewRunRegistry(0, 0)
	}
	return &Orchestrator{
		factory:  factory,
		planner:  planner,
		registry: registry,
		opts:     opts,
		logger:   logger.NewComponentLogger("orchestrator"),
	}
}

// Start prepares the orchestrator for runs, preloading strategies when configured.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started {
		return nil
	}
	if o.opts.Preload {
		loaded := o.factory.ResolveAll(ctx, o.opts.PreloadFilter)
		stats := o.factory.Stats()
		o.logger.WithFields(map[string]interface{}{
			"loaded":     len(loaded),
			"registered": stats.Registered,
			"failed":     stats.Failed,
		}).Info("strategies preloaded")
	}
	o.started = true
	return nil
}

// Shutdown rejects new runs and waits for in-flight runs to finish or ctx to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.started = false
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("orchestrator shutdown: %w", ctx.Err())
	}
}

// Factory returns the strategy factory.
func (o *Orchestrator) Factory() *Factory { return o.factory }

// Planner returns the execution planner.
func (o *Orchestrator) Planner() *Planner { return o.planner }

// Registry returns the run registry.
func (o *Orchestrator) Registry() *RunRegistry { return o.registry }

// Status returns the run registry status.
func (o *Orchestrator) Status() RegistryStatus {
	return o.registry.Status()
}

// MigrationReport summarizes lifecycle progress across the descriptor table.
func (o *Orchestrator) MigrationReport() MigrationReport {
	return BuildMigrationReport(o.factory.Table(), o.factory.Stats())
}

// Plan resolves a selector and builds a plan without running it.
func (o *Orchestrator) Plan(ctx context.Context, selector Selector, ec ExecutionContext) (*ExecutionPlan, error) {
	ids, err := selector.Resolve(o.factory.Table())
	if err != nil {
		return nil, err
	}
	return o.planner.BuildPlan(ctx, ids, ec)
}

// Execute resolves selector, builds a plan and runs it against batch.
// Unknown strategies and other structural errors are returned before any work starts.
func (o *Orchestrator) Execute(ctx context.Context, selector Selector, batch []Record, ec ExecutionContext) (*OrchestrationResult, error) {
	if !o.isStarted() {
		return nil, notStartedError()
	}
	plan, err := o.Plan(ctx, selector, ec)
	if err != nil {
		o.opts.Metrics.RecordError(string(errorClass(err)), ErrorCode(err))
		return nil, err
	}
	return o.Run(ctx, plan, batch)
}

func (o *Orchestrator) isStarted() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.started
}

func notStartedError() error {
	return NewPlanError(ErrCodeNotStarted, "orchestrator not started", nil)
}

// Run executes plan. Waves run strictly in order. Strategies within a wave run concurrently
// up to plan.MaxConcurrent unless the wave has a single member or sequential mode is set.
// Strategy failures are recorded per strategy and never abort the run.
func (o *Orchestrator) Run(ctx context.Context, plan *ExecutionPlan, batch []Record) (*OrchestrationResult, error) {
	o.mu.RLock()
	if !o.started {
		o.mu.RUnlock()
		return nil, notStartedError()
	}
	o.inflight.Add(1)
	o.mu.RUnlock()
	defer o.inflight.Done()

	if err := o.planner.ValidatePlan(plan); err != nil {
		return nil, err
	}

	result := &OrchestrationResult{
		ID:              uuid.New().String(),
		PlanID:          plan.ID,
		Status:          OrchestrationStatusRunning,
		TotalStrategies: plan.TotalStrategies(),
		Records:         make(map[string]*StrategyExecutionRecord, plan.TotalStrategies()),
		StartedAt:       time.Now(),
	}
	logger := o.logger.WithRunID(result.ID).WithPlanID(plan.ID)

	o.registry.Begin(result)
	o.opts.Metrics.RecordOrchestrationStarted()
	o.publish(EventTypeOrchestrationStarted, result, "", fmt.Sprintf("Orchestration %s started", result.ID),
		map[string]interface{}{
			"total_strategies": result.TotalStrategies,
			"waves":            len(plan.Waves),
			"max_concurrent":   plan.MaxConcurrent,
			"timeout_seconds":  plan.Timeout.Seconds(),
		})

	ctx, span := o.opts.Tracer.StartOrchestrationSpan(ctx, result.ID, plan.ID, result.TotalStrategies)
	defer span.End()

	logger.WithFields(map[string]interface{}{
		"strategies":     result.TotalStrategies,
		"waves":          len(plan.Waves),
		"max_concurrent": plan.MaxConcurrent,
		"timeout":        plan.Timeout.String(),
	}).Info("orchestration started")

	for i, wave := range plan.Waves {
		o.runWave(ctx, result, plan, i, wave, batch)
	}

	o.finalize(ctx, result, plan)

	telemetry.SetAttributes(span,
		telemetry.AttrRunStatus.String(string(result.Status)),
		telemetry.AttrSignalCount.Int(result.TotalSignals),
	)
	telemetry.RecordSuccess(span)

	logger.WithFields(map[string]interface{}{
		"successful":    result.Successful,
		"failed":        result.Failed,
		"total_signals": result.TotalSignals,
		"duration":      result.Duration.String(),
	}).Info("orchestration completed")

	return result, nil
}

// runWave pre-creates PENDING records for the wave and dispatches its strategies.
func (o *Orchestrator) runWave(ctx context.Context, result *OrchestrationResult, plan *ExecutionPlan, index int, wave Wave, batch []Record) {
	result.mu.Lock()
	for _, id := range wave.StrategyIDs {
		result.Records[id] = &StrategyExecutionRecord{
			StrategyID:  id,
			ExecutionID: uuid.New().String(),
			Status:      ExecutionStatusPending,
		}
	}
	result.mu.Unlock()

	ctx, span := o.opts.Tracer.StartWaveSpan(ctx, string(wave.Priority), len(wave.StrategyIDs))
	defer span.End()

	o.publish(EventTypeWaveStarted, result, "", fmt.Sprintf("Wave %d (%s) started", index+1, wave.Priority),
		map[string]interface{}{"priority": string(wave.Priority), "strategies": wave.StrategyIDs})

	if len(wave.StrategyIDs) == 1 || o.opts.Sequential {
		for _, id := range wave.StrategyIDs {
			o.runStrategy(ctx, result, plan, id, batch)
		}
	} else {
		sem := semaphore.NewWeighted(int64(plan.MaxConcurrent))
		var wg sync.WaitGroup

		for _, id := range wave.StrategyIDs {
			if err := sem.Acquire(ctx, 1); err != nil {
				o.finishRecord(result, id, nil, cancelledOutcome(err), nil)
				continue
			}
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				defer sem.Release(1)
				o.runStrategy(ctx, result, plan, id, batch)
			}(id)
		}
		wg.Wait()
	}

	o.publish(EventTypeWaveCompleted, result, "", fmt.Sprintf("Wave %d (%s) completed", index+1, wave.Priority),
		map[string]interface{}{"priority": string(wave.Priority)})
}

// outcome is the terminal state of one strategy execution.
type outcome struct {
	status  ExecutionStatus
	signals []Signal
	err     *EngineError
}

func cancelledOutcome(cause error) outcome {
	return outcome{
		status: ExecutionStatusFailed,
		err:    NewPermanentError(fmt.Sprintf("cancelled: %v", cause), nil).WithCode(ErrCodeExecution),
	}
}

type processResult struct {
	signals []Signal
	err     error
}

// runStrategy executes one strategy under the plan deadline. It returns once the record is
// terminal. A strategy that ignores cancellation keeps running in its own goroutine and its
// late result is discarded.
func (o *Orchestrator) runStrategy(ctx context.Context, result *OrchestrationResult, plan *ExecutionPlan, id string, batch []Record) {
	if err := ctx.Err(); err != nil {
		o.finishRecord(result, id, nil, cancelledOutcome(err), nil)
		return
	}

	proc, err := o.factory.Resolve(ctx, id)
	if err != nil {
		o.finishRecord(result, id, nil, outcome{
			status: ExecutionStatusFailed,
			err: NewPermanentError(fmt.Sprintf("%s not available", id), err).
				WithCode(ErrCodeLoadFailed).
				ForStrategy(id),
		}, nil)
		return
	}

	var executionID string
	startedAt := time.Now()
	result.updateRecord(id, func(rec *StrategyExecutionRecord) {
		rec.Status = ExecutionStatusRunning
		rec.StartedAt = startedAt
		executionID = rec.ExecutionID
	})
	o.opts.Metrics.StrategyStarted()
	defer o.opts.Metrics.StrategyFinished()

	o.publish(EventTypeStrategyStarted, result, id, fmt.Sprintf("Strategy %s started", id), nil)

	sctx, span := o.opts.Tracer.StartStrategySpan(ctx, id, executionID)
	defer span.End()
	sctx = o.logger.WithRunID(result.ID).WithStrategyID(id).WithContext(sctx)

	tctx, cancel := context.WithTimeout(sctx, plan.Timeout)
	defer cancel()

	done := make(chan processResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- processResult{err: fmt.Errorf("strategy panicked: %v", r)}
			}
		}()
		signals, err := proc.Process(tctx, batch, plan.Context)
		done <- processResult{signals: signals, err: err}
	}()

	var out outcome
	select {
	case res := <-done:
		out = o.classify(ctx, tctx, plan, id, res)
	case <-tctx.Done():
		select {
		case res := <-done:
			out = o.classify(ctx, tctx, plan, id, res)
		default:
			out = o.expired(ctx, plan, id)
		}
	}

	if out.status == ExecutionStatusCompleted {
		out.signals = stampSignals(out.signals, id, proc.SignalType())
	}
	o.finishRecord(result, id, proc, out, span)
}

// classify maps a Process return to a terminal outcome.
func (o *Orchestrator) classify(parent, tctx context.Context, plan *ExecutionPlan, id string, res processResult) outcome {
	if res.err == nil {
		return outcome{status: ExecutionStatusCompleted, signals: res.signals}
	}
	if tctx.Err() != nil && (errors.Is(res.err, context.DeadlineExceeded) || errors.Is(res.err, context.Canceled)) {
		return o.expired(parent, plan, id)
	}
	return outcome{status: ExecutionStatusFailed, err: NewExecutionError(id, res.err)}
}

// expired distinguishes a strategy deadline from cancellation of the whole run.
func (o *Orchestrator) expired(parent context.Context, plan *ExecutionPlan, id string) outcome {
	if err := parent.Err(); err != nil {
		return cancelledOutcome(err)
	}
	return outcome{
		status: ExecutionStatusTimeout,
		err:    NewTimeoutError(id, timeoutMessage(plan.Timeout)),
	}
}

func timeoutMessage(d time.Duration) string {
	return fmt.Sprintf("timed out after %s seconds", strconv.FormatFloat(d.Seconds(), 'f', -1, 64))
}

// errorText is the message stored on a record: the strategy's own error for failures,
// the engine message otherwise.
func errorText(e *EngineError) string {
	if e == nil {
		return ""
	}
	if e.Code == ErrCodeExecution && e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// finishRecord stores the terminal outcome and emits metrics, events and span status.
func (o *Orchestrator) finishRecord(result *OrchestrationResult, id string, proc Processor, out outcome, span trace.Span) {
	now := time.Now()
	var duration time.Duration
	result.updateRecord(id, func(rec *StrategyExecutionRecord) {
		if rec.StartedAt.IsZero() {
			rec.StartedAt = now
		}
		rec.Status = out.status
		rec.Signals = out.signals
		rec.SignalCount = len(out.signals)
		rec.Error = errorText(out.err)
		rec.CompletedAt = &now
		rec.Duration = now.Sub(rec.StartedAt)
		duration = rec.Duration
	})

	logger := o.logger.WithRunID(result.ID).WithStrategyID(id).WithField("duration", duration.String())
	o.opts.Metrics.RecordStrategyExecution(id, string(out.status), duration)

	switch out.status {
	case ExecutionStatusCompleted:
		signalType := ""
		if proc != nil {
			signalType = proc.SignalType()
		}
		o.opts.Metrics.RecordSignals(id, signalType, len(out.signals))
		o.publish(EventTypeStrategyCompleted, result, id,
			fmt.Sprintf("Strategy %s completed with %d signals", id, len(out.signals)),
			map[string]interface{}{"signal_count": len(out.signals), "duration": duration.Seconds()})
		logger.WithField("signals", len(out.signals)).Info("strategy completed")
		if span != nil {
			telemetry.RecordSuccess(span)
		}
	case ExecutionStatusTimeout:
		o.opts.Metrics.RecordError(string(out.err.Class), out.err.Code)
		o.publish(EventTypeStrategyTimeout, result, id, fmt.Sprintf("Strategy %s %s", id, out.err.Message),
			map[string]interface{}{"duration": duration.Seconds()})
		logger.Warn(out.err.Message)
		if span != nil {
			telemetry.RecordError(span, out.err)
		}
	default:
		o.opts.Metrics.RecordError(string(out.err.Class), out.err.Code)
		o.publish(EventTypeStrategyFailed, result, id, fmt.Sprintf("Strategy %s failed: %s", id, errorText(out.err)),
			map[string]interface{}{"error": errorText(out.err), "code": out.err.Code})
		logger.WithError(out.err).Warn("strategy failed")
		if span != nil {
			telemetry.RecordError(span, out.err)
		}
	}
}

// finalize computes the aggregate counters, moves the run to history and persists it.
func (o *Orchestrator) finalize(ctx context.Context, result *OrchestrationResult, plan *ExecutionPlan) {
	now := time.Now()

	result.mu.Lock()
	successful, signals := 0, 0
	var errs []string
	for _, id := range plan.StrategyIDs() {
		rec, ok := result.Records[id]
		if !ok {
			continue
		}
		signals += rec.SignalCount
		if rec.Status == ExecutionStatusCompleted {
			successful++
		} else if rec.Error != "" {
			errs = append(errs, fmt.Sprintf("%s: %s", id, rec.Error))
		}
	}
	result.Successful = successful
	result.Failed = result.TotalStrategies - successful
	result.TotalSignals = signals
	result.Errors = errs
	result.Status = OrchestrationStatusCompleted
	result.CompletedAt = &now
	result.Duration = now.Sub(result.StartedAt)
	result.mu.Unlock()

	o.registry.Complete(result)
	o.opts.Metrics.RecordOrchestrationCompleted(string(result.Status), result.Duration, result.TotalSignals)

	if o.opts.Sink != nil {
		if err := o.opts.Sink.SaveOrchestration(context.WithoutCancel(ctx), result.Snapshot()); err != nil {
			o.logger.WithRunID(result.ID).WithError(err).Error("failed to persist orchestration")
		}
	}

	o.publish(EventTypeOrchestrationCompleted, result, "",
		fmt.Sprintf("Orchestration %s completed: %d/%d successful", result.ID, result.Successful, result.TotalStrategies),
		map[string]interface{}{
			"successful":    result.Successful,
			"failed":        result.Failed,
			"total_signals": result.TotalSignals,
			"duration":      result.Duration.Seconds(),
		})
}

// publish sends an orchestration event when a publisher is wired.
func (o *Orchestrator) publish(eventType EventType, result *OrchestrationResult, strategyID, message string, data map[string]interface{}) {
	if o.opts.Publisher == nil {
		return
	}
	err := o.opts.Publisher.Publish(telemetry.Event{
		Type:       string(eventType),
		Source:     "orchestrator",
		RunID:      result.ID,
		PlanID:     result.PlanID,
		StrategyID: strategyID,
		Message:    message,
		Level:      eventType.Severity(),
		Data:       data,
	})
	if err != nil {
		o.logger.WithError(err).Debug("event dropped")
	}
}

// stampSignals fills identity fields a strategy left empty.
func stampSignals(signals []Signal, strategyID, signalType string) []Signal {
	now := time.Now()
	for i := range signals {
		s := &signals[i]
		if s.ID == "" {
			s.ID = uuid.New().String()
		}
		if s.StrategyID == "" {
			s.StrategyID = strategyID
		}
		if s.SignalType == "" {
			s.SignalType = signalType
		}
		if s.DetectedAt.IsZero() {
			s.DetectedAt = now
		}
	}
	return signals
}

func errorClass(err error) ErrorClass {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class
	}
	return ErrorClassPermanent
}
