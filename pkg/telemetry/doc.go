// Package telemetry provides observability instrumentation for the sharpline engine.
//
// It combines structured logging (zerolog), distributed tracing (OpenTelemetry),
// metrics (Prometheus) and an asynchronous event publisher.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// # Structured Logging
//
//	logger := tel.Logger.NewComponentLogger("orchestrator")
//	logger.WithRunID(runID).WithStrategyID("sharp_action").Info("strategy completed")
//
// # Tracing
//
// Each orchestration gets a root span, each wave and strategy a child span:
//
//	ctx, span := tel.Tracer.StartOrchestrationSpan(ctx, runID, planID, total)
//	defer span.End()
//
// A nil *Tracer produces no-op spans, so components can be wired without tracing.
//
// # Metrics
//
//	tel.Metrics.RecordOrchestrationStarted()
//	tel.Metrics.RecordStrategyExecution("arbitrage", "completed", elapsed)
//	tel.Metrics.RecordOrchestrationCompleted("completed", elapsed, signals)
//
// Metrics live in a private registry exposed through Handler. A nil or disabled
// *Metrics is a no-op.
//
// # Event Publishing
//
//	id := tel.Events.Subscribe(func(event telemetry.Event) {
//	    fmt.Println(event.Type, event.Message)
//	}, telemetry.FilterByRunID(runID))
//	defer tel.Events.Unsubscribe(id)
//
// Event filters: FilterByLevel, FilterByType, FilterByRunID, FilterByStrategyID, All.
package telemetry
