// Package coord implements the coordination store: two FIFO queues (work
// and results), the worker registry with TTL expiry, per-task in-flight
// sets, and a small shared KV space.
//
// Two drivers implement domain.CoordStore:
//   - Memory: single-process, for tests and single-node dev
//   - Redis: the deployment path, one instance shared by orchestrator
//     and workers
//
// Queue handoff is atomic (one item to one consumer per dequeue) and
// delivery is at-least-once: consumers must be idempotent.
package coord

import "time"

// Key layout shared by drivers. The memory driver keeps the same names so
// logs and tests read identically against either backend.
const (
	workQueueKey     = "work_queue"
	resultQueueKey   = "result_queue"
	workersActiveKey = "workers_active"
	workerKeyPrefix  = "worker:"
	inflightPrefix   = "task:"
	inflightSuffix   = ":inflight"
	stateKeyPrefix   = "state:"
)

// inflightTTL bounds how long an abandoned task's in-flight set survives.
// Normal completion clears the set explicitly.
const inflightTTL = 24 * time.Hour

func workerKey(id string) string { return workerKeyPrefix + id }

func inflightKey(taskID string) string { return inflightPrefix + taskID + inflightSuffix }

func stateKey(key string) string { return stateKeyPrefix + key }
