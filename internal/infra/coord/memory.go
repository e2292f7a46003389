package coord

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/domain"
)

// ─── In-Memory Driver ───────────────────────────────────────────────────────

// Memory is a single-process CoordStore. It mirrors the redis driver's
// semantics (JSON payloads on the queues, TTL-expired worker entries,
// at-least-once handoff) so the orchestrator cannot tell them apart.
type Memory struct {
	work    *memQueue
	results *memQueue

	mu       sync.Mutex
	workers  map[string]*workerEntry
	inflight map[string]inflightSet
	kv       map[string]kvEntry
	closed   bool

	// Injectable clock
	now func() time.Time
}

type workerEntry struct {
	w         domain.Worker
	expiresAt time.Time
}

type inflightSet struct {
	ids       map[string]bool
	expiresAt time.Time
}

type kvEntry struct {
	value     string
	expiresAt time.Time // zero = no expiry
}

// NewMemory creates an empty in-memory coordination store.
func NewMemory() *Memory {
	return &Memory{
		work:     newMemQueue(),
		results:  newMemQueue(),
		workers:  make(map[string]*workerEntry),
		inflight: make(map[string]inflightSet),
		kv:       make(map[string]kvEntry),
		now:      time.Now,
	}
}

// ─── Queues ─────────────────────────────────────────────────────────────────

// memQueue is an unbounded FIFO of JSON payloads with a blocking,
// timeout-bounded pop. Enqueue never blocks.
type memQueue struct {
	mu     sync.Mutex
	items  [][]byte
	wake   chan struct{} // closed and replaced on every push (broadcast)
	closed bool
}

func newMemQueue() *memQueue {
	return &memQueue{wake: make(chan struct{})}
}

func (q *memQueue) push(b []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return domain.ErrQueueClosed
	}
	q.items = append(q.items, b)
	close(q.wake)
	q.wake = make(chan struct{})
	return nil
}

func (q *memQueue) pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			b := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return b, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, domain.ErrQueueClosed
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-wake:
		case <-deadline.C:
			return nil, domain.ErrQueueEmpty
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *memQueue) depth() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items))
}

func (q *memQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.wake)
	q.wake = make(chan struct{})
}

// EnqueueWork appends a work item to the work queue.
func (m *Memory) EnqueueWork(ctx context.Context, item *domain.WorkItem) error {
	b, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return m.work.push(b)
}

// DequeueWork blocks up to timeout for the next work item. A payload that
// no longer decodes is dropped and reported as ErrPoisonMessage.
func (m *Memory) DequeueWork(ctx context.Context, timeout time.Duration) (*domain.WorkItem, error) {
	b, err := m.work.pop(ctx, timeout)
	if err != nil {
		return nil, err
	}
	var item domain.WorkItem
	if err := json.Unmarshal(b, &item); err != nil {
		return nil, domain.ErrPoisonMessage
	}
	return &item, nil
}

// WorkQueueDepth reports the number of queued work items.
func (m *Memory) WorkQueueDepth(ctx context.Context) (int64, error) {
	return m.work.depth(), nil
}

// EnqueueResult appends a subtask result to the result queue.
func (m *Memory) EnqueueResult(ctx context.Context, r *domain.SubTaskResult) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return m.results.push(b)
}

// DequeueResult blocks up to timeout for the next result.
func (m *Memory) DequeueResult(ctx context.Context, timeout time.Duration) (*domain.SubTaskResult, error) {
	b, err := m.results.pop(ctx, timeout)
	if err != nil {
		return nil, err
	}
	var r domain.SubTaskResult
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, domain.ErrPoisonMessage
	}
	return &r, nil
}

// ResultQueueDepth reports the number of queued results.
func (m *Memory) ResultQueueDepth(ctx context.Context) (int64, error) {
	return m.results.depth(), nil
}

// ─── Worker Registry ────────────────────────────────────────────────────────

// RegisterWorker inserts or replaces a worker entry with a fresh TTL.
func (m *Memory) RegisterWorker(ctx context.Context, w *domain.Worker, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return domain.ErrStoreUnavailable
	}
	m.workers[w.ID] = &workerEntry{w: *w, expiresAt: m.now().Add(ttl)}
	return nil
}

// UpdateWorkerStatus replaces the worker's status and extends its TTL.
// Unknown workers are registered; heartbeats double as registration after
// a store restart.
func (m *Memory) UpdateWorkerStatus(ctx context.Context, w *domain.Worker, ttl time.Duration) error {
	return m.RegisterWorker(ctx, w, ttl)
}

// SetWorkerAvailability flips only the busy flag and current subtask. The
// TTL is left alone: liveness stays owned by the worker's heartbeat.
func (m *Memory) SetWorkerAvailability(ctx context.Context, workerID string, available bool, currentSubTaskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.workers[workerID]
	if !ok || m.now().After(e.expiresAt) {
		return domain.ErrWorkerNotFound
	}
	e.w.Available = available
	e.w.CurrentSubTaskID = currentSubTaskID
	return nil
}

// DeregisterWorker removes a worker entry.
func (m *Memory) DeregisterWorker(ctx context.Context, workerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.workers, workerID)
	return nil
}

// ActiveWorkers returns unexpired workers. Expired entries are removed on
// the way through, matching the redis driver's lazy cleanup.
func (m *Memory) ActiveWorkers(ctx context.Context) ([]domain.Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	out := make([]domain.Worker, 0, len(m.workers))
	for id, e := range m.workers {
		if now.After(e.expiresAt) {
			delete(m.workers, id)
			continue
		}
		out = append(out, e.w)
	}
	return out, nil
}

// ─── In-Flight Sets ─────────────────────────────────────────────────────────

// AddInflight records subtask ids as queued or executing for a task.
func (m *Memory) AddInflight(ctx context.Context, taskID string, subtaskIDs ...string) error {
	if len(subtaskIDs) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.inflight[taskID]
	if !ok || m.now().After(s.expiresAt) {
		s = inflightSet{ids: make(map[string]bool)}
	}
	for _, id := range subtaskIDs {
		s.ids[id] = true
	}
	s.expiresAt = m.now().Add(inflightTTL)
	m.inflight[taskID] = s
	return nil
}

// RemoveInflight clears subtask ids from a task's in-flight set.
func (m *Memory) RemoveInflight(ctx context.Context, taskID string, subtaskIDs ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.inflight[taskID]
	if !ok {
		return nil
	}
	for _, id := range subtaskIDs {
		delete(s.ids, id)
	}
	return nil
}

// InflightSubTasks returns the task's in-flight subtask ids.
func (m *Memory) InflightSubTasks(ctx context.Context, taskID string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.inflight[taskID]
	if !ok || m.now().After(s.expiresAt) {
		return map[string]bool{}, nil
	}
	out := make(map[string]bool, len(s.ids))
	for id := range s.ids {
		out[id] = true
	}
	return out, nil
}

// ClearInflight drops the task's entire in-flight set.
func (m *Memory) ClearInflight(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inflight, taskID)
	return nil
}

// ─── Shared KV ──────────────────────────────────────────────────────────────

// SetState stores an opaque value; ttl <= 0 means no expiry.
func (m *Memory) SetState(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := kvEntry{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.kv[stateKey(key)] = e
	return nil
}

// GetState fetches a value; the second return is false when the key is
// missing or expired.
func (m *Memory) GetState(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.kv[stateKey(key)]
	if !ok {
		return "", false, nil
	}
	if !e.expiresAt.IsZero() && m.now().After(e.expiresAt) {
		delete(m.kv, stateKey(key))
		return "", false, nil
	}
	return e.value, true, nil
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

// Ping reports whether the store accepts operations.
func (m *Memory) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return domain.ErrStoreUnavailable
	}
	return nil
}

// Close wakes blocked consumers with ErrQueueClosed and rejects further
// operations.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.work.close()
	m.results.close()
	return nil
}

// joinCapabilities renders a capability set in the wire form shared with
// the redis driver (comma-joined, order preserved).
func joinCapabilities(caps []domain.Capability) string {
	parts := make([]string, len(caps))
	for i, c := range caps {
		parts[i] = string(c)
	}
	return strings.Join(parts, ",")
}

// splitCapabilities parses the comma-joined wire form, dropping unknown
// entries rather than failing the whole worker record.
func splitCapabilities(s string) []domain.Capability {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]domain.Capability, 0, len(parts))
	for _, p := range parts {
		c := domain.Capability(strings.TrimSpace(p))
		if c.Valid() {
			out = append(out, c)
		}
	}
	return out
}
