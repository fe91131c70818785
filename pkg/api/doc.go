// Package api exposes the orchestrator over HTTP with gin.
//
// Routes:
//
//	GET  /health                       orchestrator, store and dependency health
//	GET  /metrics                      Prometheus metrics
//	GET  /api/v1/strategies            descriptor table with loaded flags
//	GET  /api/v1/strategies/stats      factory statistics
//	POST /api/v1/plans                 build a plan without running it
//	POST /api/v1/executions            execute {selector, records, context}
//	GET  /api/v1/executions            active runs and history
//	GET  /api/v1/executions/:id        one run from memory or the store
//	GET  /api/v1/status                run registry status
//	GET  /api/v1/migration-report      lifecycle migration report
//	GET  /api/v1/events/ws             live events over WebSocket
//
// Engine error codes map to HTTP statuses: VALIDATION_ERROR is 400,
// UNKNOWN_STRATEGY and PLAN_INVALID are 422, POLICY_DENIED is 403 and
// NOT_STARTED is 503.
package api
