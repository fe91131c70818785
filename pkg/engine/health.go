package engine

import (
	"context"
	"fmt"
)

// OrchestratorHealth aggregates the health of the engine and every loaded strategy.
type OrchestratorHealth struct {
	Healthy    bool                    `json:"healthy"`
	Started    bool                    `json:"started"`
	ActiveRuns int                     `json:"active_runs"`
	Strategies map[string]HealthStatus `json:"strategies"`
	Message    string                  `json:"message,omitempty"`
}

// HealthCheck queries every loaded processor. The orchestrator is healthy when it has been
// started and no loaded strategy reports unhealthy.
func (o *Orchestrator) HealthCheck(ctx context.Context) OrchestratorHealth {
	health := OrchestratorHealth{
		Started:    o.isStarted(),
		ActiveRuns: len(o.registry.Active()),
		Strategies: make(map[string]HealthStatus),
	}

	unhealthy := 0
	for _, id := range o.factory.LoadedIDs() {
		proc, err := o.factory.Resolve(ctx, id)
		if err != nil {
			continue
		}
		status := checkProcessor(ctx, proc)
		if !status.Healthy {
			unhealthy++
		}
		health.Strategies[id] = status
	}

	health.Healthy = health.Started && unhealthy == 0
	switch {
	case !health.Started:
		health.Message = "orchestrator not started"
	case unhealthy > 0:
		health.Message = fmt.Sprintf("%d strategies unhealthy", unhealthy)
	}
	return health
}

func checkProcessor(ctx context.Context, proc Processor) (status HealthStatus) {
	defer func() {
		if r := recover(); r != nil {
			status = HealthStatus{Healthy: false, Message: fmt.Sprintf("health check panicked: %v", r)}
		}
	}()
	return proc.HealthCheck(ctx)
}
