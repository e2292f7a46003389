package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency.

var (
	// Task errors
	ErrTaskNotFound = errors.New("task not found")
	ErrBadState     = errors.New("task state does not allow this operation")
	ErrValidation   = errors.New("validation failed")

	// Plan errors
	ErrBadPlan    = errors.New("planner output unusable")
	ErrCyclicPlan = errors.New("subtask graph contains a cycle")

	// Capability errors
	ErrUnknownCapability = errors.New("unknown capability")

	// Dispatch errors
	ErrWorkerBusy        = errors.New("worker is busy")
	ErrWorkerNotFound    = errors.New("worker not registered or expired")
	ErrNoWorkerAvailable = errors.New("no live available worker matches")

	// Result errors
	ErrDuplicateResult = errors.New("result already recorded for this subtask")

	// Queue errors
	ErrQueueEmpty    = errors.New("queue empty")
	ErrQueueClosed   = errors.New("queue closed")
	ErrPoisonMessage = errors.New("malformed queue item dropped")

	// Store errors
	ErrStoreUnavailable = errors.New("store unavailable")
)
