package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass says whether a failure is worth retrying on a later run.
type ErrorClass string

const (
	// ErrorClassTransient covers strategy deadlines and repository hiccups.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassPermanent covers unknown identifiers, constructor failures and bad plans.
	ErrorClassPermanent ErrorClass = "permanent"
)

// EngineError is the error type returned across the engine API. Callers branch on
// Code; Class drives retry accounting.
type EngineError struct {
	Class   ErrorClass `json:"class"`
	Code    string     `json:"code,omitempty"`
	Message string     `json:"message"`

	// StrategyID names the strategy or constructor key involved, if any.
	StrategyID string `json:"strategy_id,omitempty"`

	// Op is the engine step that failed: plan, build_plan, resolve or process.
	Op string `json:"op,omitempty"`

	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

func (e *EngineError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Class, e.Message)
	if e.StrategyID != "" {
		fmt.Fprintf(&b, " (strategy=%s", e.StrategyID)
		if e.Op != "" {
			fmt.Fprintf(&b, " op=%s", e.Op)
		}
		b.WriteByte(')')
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *EngineError) Unwrap() error { return e.Err }

// Is matches another *EngineError with the same class and code, so callers can
// compare against a template value.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	return ok && e.Class == t.Class && e.Code == t.Code
}

func newEngineError(class ErrorClass, message string, err error) *EngineError {
	return &EngineError{Class: class, Message: message, Err: err}
}

func NewTransientError(message string, err error) *EngineError {
	return newEngineError(ErrorClassTransient, message, err)
}

func NewPermanentError(message string, err error) *EngineError {
	return newEngineError(ErrorClassPermanent, message, err)
}

// The With and For setters modify e in place and return it for chaining.

func (e *EngineError) ForStrategy(id string) *EngineError {
	e.StrategyID = id
	return e
}

func (e *EngineError) WithOp(op string) *EngineError {
	e.Op = op
	return e
}

func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = map[string]interface{}{}
	}
	e.Details[key] = value
	return e
}

func classOf(err error) (ErrorClass, bool) {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class, true
	}
	return "", false
}

// IsTransient reports whether the first EngineError in the chain is transient.
func IsTransient(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassTransient
}

func IsPermanent(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassPermanent
}

// ErrorCode returns the code of the first EngineError in the chain, or "".
func ErrorCode(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Common error codes.
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeUnknownStrategy = "UNKNOWN_STRATEGY"
	ErrCodeLoadFailed      = "LOAD_FAILED"
	ErrCodeExecution       = "EXECUTION_FAILED"
	ErrCodeTimeout         = "TIMEOUT"
	ErrCodePlanInvalid     = "PLAN_INVALID"
	ErrCodePolicyDenied    = "POLICY_DENIED"
	ErrCodeNotStarted      = "NOT_STARTED"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeAlreadyExists   = "ALREADY_EXISTS"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

// detailUnknown is the Details key listing unresolvable strategy IDs.
const detailUnknown = "unknown"

// NewUnknownStrategyError reports every identifier missing from the descriptor table.
func NewUnknownStrategyError(ids []string) *EngineError {
	unknown := append([]string(nil), ids...)
	return NewPermanentError(fmt.Sprintf("unknown strategies: %v", unknown), nil).
		WithCode(ErrCodeUnknownStrategy).
		WithOp("build_plan").
		WithDetail(detailUnknown, unknown)
}

// NewLoadError wraps a constructor failure for a single strategy.
func NewLoadError(strategyID string, err error) *EngineError {
	return NewPermanentError("failed to load strategy", err).
		WithCode(ErrCodeLoadFailed).
		ForStrategy(strategyID).
		WithOp("resolve")
}

// NewExecutionError wraps a failure raised by a strategy's Process call.
func NewExecutionError(strategyID string, err error) *EngineError {
	return NewPermanentError("strategy execution failed", err).
		WithCode(ErrCodeExecution).
		ForStrategy(strategyID).
		WithOp("process")
}

// NewTimeoutError reports a strategy that exceeded its deadline.
func NewTimeoutError(strategyID string, message string) *EngineError {
	return NewTransientError(message, nil).
		WithCode(ErrCodeTimeout).
		ForStrategy(strategyID).
		WithOp("process")
}

// NewPlanError reports a structural problem that prevents an orchestration from starting.
func NewPlanError(code, message string, err error) *EngineError {
	return NewPermanentError(message, err).
		WithCode(code).
		WithOp("plan")
}

// IsUnknownStrategy reports whether err is an unknown-strategy error.
func IsUnknownStrategy(err error) bool {
	return ErrorCode(err) == ErrCodeUnknownStrategy
}

// UnknownStrategyIDs returns the identifiers carried by an unknown-strategy error.
func UnknownStrategyIDs(err error) []string {
	var e *EngineError
	if !errors.As(err, &e) || e.Code != ErrCodeUnknownStrategy {
		return nil
	}
	ids, _ := e.Details[detailUnknown].([]string)
	return ids
}

// IsLoadError reports whether err is a strategy load failure.
func IsLoadError(err error) bool {
	return ErrorCode(err) == ErrCodeLoadFailed
}

// IsTimeout reports whether err is a strategy timeout.
func IsTimeout(err error) bool {
	return ErrorCode(err) == ErrCodeTimeout
}

// IsPlanError reports whether err prevented an orchestration from starting.
func IsPlanError(err error) bool {
	switch ErrorCode(err) {
	case ErrCodePlanInvalid, ErrCodeValidation, ErrCodePolicyDenied, ErrCodeNotStarted:
		return true
	default:
		return false
	}
}
