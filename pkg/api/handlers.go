package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sharpline/sharpline/pkg/engine"
	"github.com/sharpline/sharpline/pkg/stores"
)

// ExecuteRequest is the body of POST /api/v1/executions. The selector field must
// be present; an empty list runs nothing and completes with zero counts.
type ExecuteRequest struct {
	Selector []string               `json:"selector" binding:"required"`
	Records  []engine.Record        `json:"records"`
	Context  map[string]interface{} `json:"context"`
}

// PlanRequest is the body of POST /api/v1/plans.
type PlanRequest struct {
	Selector []string               `json:"selector" binding:"required"`
	Context  map[string]interface{} `json:"context"`
}

// StrategyInfo is a descriptor plus whether an instance is loaded.
type StrategyInfo struct {
	engine.Descriptor
	Loaded bool `json:"loaded"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// statusForCode maps engine error codes to HTTP statuses.
func statusForCode(code string) int {
	switch code {
	case engine.ErrCodeValidation:
		return http.StatusBadRequest
	case engine.ErrCodeUnknownStrategy, engine.ErrCodePlanInvalid:
		return http.StatusUnprocessableEntity
	case engine.ErrCodePolicyDenied:
		return http.StatusForbidden
	case engine.ErrCodeNotStarted:
		return http.StatusServiceUnavailable
	case engine.ErrCodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	detail := ErrorDetail{Code: engine.ErrCodeInternal, Message: err.Error()}

	var engErr *engine.EngineError
	if errors.As(err, &engErr) {
		detail.Message = engErr.Message
		detail.Details = engErr.Details
		if engErr.Code != "" {
			detail.Code = engErr.Code
		}
	}

	status := statusForCode(detail.Code)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithField("path", c.Request.URL.Path).Error("request failed")
	}
	c.JSON(status, ErrorResponse{Error: detail})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: ErrorDetail{Code: engine.ErrCodeValidation, Message: message},
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	health := s.orch.HealthCheck(ctx)
	healthy := health.Healthy
	checks := gin.H{}

	if s.store != nil {
		if err := s.store.HealthCheck(ctx); err != nil {
			checks["store"] = err.Error()
			healthy = false
		} else {
			checks["store"] = "ok"
		}
	}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
		} else {
			checks[name] = "ok"
		}
	}

	status := http.StatusOK
	state := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "unhealthy"
	}
	c.JSON(status, gin.H{
		"status":       state,
		"timestamp":    time.Now().UTC(),
		"orchestrator": health,
		"checks":       checks,
	})
}

func (s *Server) handleListStrategies(c *gin.Context) {
	factory := s.orch.Factory()
	loaded := make(map[string]bool)
	for _, id := range factory.LoadedIDs() {
		loaded[id] = true
	}

	descriptors := factory.Table().All()
	out := make([]StrategyInfo, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, StrategyInfo{Descriptor: d, Loaded: loaded[d.ID]})
	}
	c.JSON(http.StatusOK, gin.H{
		"strategies": out,
		"total":      len(out),
		"categories": factory.Table().Categories(),
	})
}

func (s *Server) handleStrategyStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.orch.Factory().Stats())
}

func (s *Server) handleBuildPlan(c *gin.Context) {
	var req PlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	ec, err := engine.ExecutionContextFromMap(req.Context)
	if err != nil {
		s.writeError(c, err)
		return
	}

	plan, err := s.orch.Plan(c.Request.Context(), engine.Selector(req.Selector), ec)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

func (s *Server) handleExecute(c *gin.Context) {
	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if len(req.Records) > s.maxBatch {
		badRequest(c, fmt.Sprintf("batch of %d records exceeds the limit of %d", len(req.Records), s.maxBatch))
		return
	}

	ec, err := engine.ExecutionContextFromMap(req.Context)
	if err != nil {
		s.writeError(c, err)
		return
	}

	result, err := s.orch.Execute(c.Request.Context(), engine.Selector(req.Selector), req.Records, ec)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result.Snapshot())
}

func (s *Server) handleListExecutions(c *gin.Context) {
	limit, err := queryInt(c, "limit", 20)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	active := s.orch.Registry().Active()
	activeOut := make([]*stores.RunSummary, 0, len(active))
	for _, r := range active {
		activeOut = append(activeOut, stores.Summarize(r))
	}

	var runs []*stores.RunSummary
	source := "memory"
	if s.store != nil && c.Query("source") != "memory" {
		source = "store"
		runs, err = s.store.ListOrchestrations(c.Request.Context(), limit, offset)
		if err != nil {
			s.writeError(c, err)
			return
		}
	} else {
		history := s.orch.Registry().History(0)
		runs = []*stores.RunSummary{}
		for i := offset; i < len(history) && (limit <= 0 || len(runs) < limit); i++ {
			runs = append(runs, stores.Summarize(history[i]))
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"active": activeOut,
		"runs":   runs,
		"source": source,
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) handleGetExecution(c *gin.Context) {
	id := c.Param("id")

	if result, ok := s.orch.Registry().Get(id); ok {
		c.JSON(http.StatusOK, result)
		return
	}

	if s.store != nil {
		result, err := s.store.GetOrchestration(c.Request.Context(), id)
		if err == nil {
			c.JSON(http.StatusOK, result)
			return
		}
		if !errors.Is(err, stores.ErrNotFound) {
			s.writeError(c, err)
			return
		}
	}

	c.JSON(http.StatusNotFound, ErrorResponse{
		Error: ErrorDetail{Code: engine.ErrCodeNotFound, Message: "orchestration not found: " + id},
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.orch.Status())
}

func (s *Server) handleMigrationReport(c *gin.Context) {
	c.JSON(http.StatusOK, s.orch.MigrationReport())
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return v, nil
}
