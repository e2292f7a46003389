package coord

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/domain"
)

// ─── Redis Driver ───────────────────────────────────────────────────────────

// Redis is the deployment CoordStore: one instance shared by the
// orchestrator and every worker. Queues are lists (RPUSH/BLPOP), the
// registry is a set of ids plus one status hash per worker with a TTL,
// in-flight sets and KV state are plain keys.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to the given redis URL and verifies the connection.
func NewRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return &Redis{client: client}, nil
}

// ─── Queues ─────────────────────────────────────────────────────────────────

// EnqueueWork appends a work item to the work queue.
func (r *Redis) EnqueueWork(ctx context.Context, item *domain.WorkItem) error {
	b, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return errors.Wrap(r.client.RPush(ctx, workQueueKey, b).Err(), "enqueue work")
}

// DequeueWork blocks up to timeout for the next work item. A payload that
// no longer decodes is dropped and reported as ErrPoisonMessage.
func (r *Redis) DequeueWork(ctx context.Context, timeout time.Duration) (*domain.WorkItem, error) {
	b, err := r.blpop(ctx, workQueueKey, timeout)
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
func (r *Redis) WorkQueueDepth(ctx context.Context) (int64, error) {
	n, err := r.client.LLen(ctx, workQueueKey).Result()
	return n, errors.Wrap(err, "work queue depth")
}

// EnqueueResult appends a subtask result to the result queue.
func (r *Redis) EnqueueResult(ctx context.Context, res *domain.SubTaskResult) error {
	b, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return errors.Wrap(r.client.RPush(ctx, resultQueueKey, b).Err(), "enqueue result")
}

// DequeueResult blocks up to timeout for the next result.
func (r *Redis) DequeueResult(ctx context.Context, timeout time.Duration) (*domain.SubTaskResult, error) {
	b, err := r.blpop(ctx, resultQueueKey, timeout)
	if err != nil {
		return nil, err
	}
	var res domain.SubTaskResult
	if err := json.Unmarshal(b, &res); err != nil {
		return nil, domain.ErrPoisonMessage
	}
	return &res, nil
}

// ResultQueueDepth reports the number of queued results.
func (r *Redis) ResultQueueDepth(ctx context.Context) (int64, error) {
	n, err := r.client.LLen(ctx, resultQueueKey).Result()
	return n, errors.Wrap(err, "result queue depth")
}

// blpop pops the head of a list, mapping the redis timeout sentinel to
// ErrQueueEmpty. BLPOP with 0 blocks forever, so the timeout is floored.
func (r *Redis) blpop(ctx context.Context, key string, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = time.Second
	}
	vals, err := r.client.BLPop(ctx, timeout, key).Result()
	if err == redis.Nil {
		return nil, domain.ErrQueueEmpty
	}
	if err != nil {
		return nil, errors.Wrapf(err, "blpop %s", key)
	}
	// BLPOP returns [key, value].
	if len(vals) != 2 {
		return nil, domain.ErrPoisonMessage
	}
	return []byte(vals[1]), nil
}

// ─── Worker Registry ────────────────────────────────────────────────────────

// RegisterWorker adds the worker to the active set and writes its status
// hash with a fresh TTL.
func (r *Redis) RegisterWorker(ctx context.Context, w *domain.Worker, ttl time.Duration) error {
	key := workerKey(w.ID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, workersActiveKey, w.ID)
		pipe.HSet(ctx, key, workerFields(w))
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	return errors.Wrap(err, "register worker")
}

// UpdateWorkerStatus rewrites the status hash and extends the TTL. It also
// re-adds the id to the active set; a heartbeat doubles as registration
// after a redis restart.
func (r *Redis) UpdateWorkerStatus(ctx context.Context, w *domain.Worker, ttl time.Duration) error {
	return r.RegisterWorker(ctx, w, ttl)
}

// SetWorkerAvailability flips only the busy flag and current subtask.
// Writing hash fields leaves the key's TTL alone, so liveness stays owned
// by the worker's heartbeat.
func (r *Redis) SetWorkerAvailability(ctx context.Context, workerID string, available bool, currentSubTaskID string) error {
	key := workerKey(workerID)
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return errors.Wrap(err, "check worker")
	}
	if n == 0 {
		return domain.ErrWorkerNotFound
	}
	err = r.client.HSet(ctx, key, map[string]interface{}{
		"available":          strconv.FormatBool(available),
		"current_subtask_id": currentSubTaskID,
	}).Err()
	return errors.Wrap(err, "set worker availability")
}

// DeregisterWorker removes the worker's hash and set membership.
func (r *Redis) DeregisterWorker(ctx context.Context, workerID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, workersActiveKey, workerID)
		pipe.Del(ctx, workerKey(workerID))
		return nil
	})
	return errors.Wrap(err, "deregister worker")
}

// ActiveWorkers returns every worker whose status hash has not expired.
// Ids whose hash is gone are pruned from the active set on the way
// through.
func (r *Redis) ActiveWorkers(ctx context.Context) ([]domain.Worker, error) {
	ids, err := r.client.SMembers(ctx, workersActiveKey).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list active workers")
	}

	out := make([]domain.Worker, 0, len(ids))
	for _, id := range ids {
		fields, err := r.client.HGetAll(ctx, workerKey(id)).Result()
		if err != nil {
			return nil, errors.Wrapf(err, "read worker %s", id)
		}
		if len(fields) == 0 {
			// TTL expired: prune the stale set entry.
			r.client.SRem(ctx, workersActiveKey, id)
			continue
		}
		w, err := parseWorkerFields(fields)
		if err != nil {
			// Unparsable hash: skip rather than fail the snapshot.
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

func workerFields(w *domain.Worker) map[string]interface{} {
	return map[string]interface{}{
		"id":                 w.ID,
		"endpoint":           w.Endpoint,
		"capabilities":       joinCapabilities(w.Capabilities),
		"available":          strconv.FormatBool(w.Available),
		"current_subtask_id": w.CurrentSubTaskID,
		"cpu_pct":            strconv.FormatFloat(w.CPUPct, 'f', -1, 64),
		"mem_pct":            strconv.FormatFloat(w.MemPct, 'f', -1, 64),
		"completed_count":    strconv.FormatInt(w.CompletedCount, 10),
		"last_heartbeat":     w.LastHeartbeatAt.UTC().Format(time.RFC3339Nano),
	}
}

func parseWorkerFields(fields map[string]string) (domain.Worker, error) {
	w := domain.Worker{
		ID:               fields["id"],
		Endpoint:         fields["endpoint"],
		Capabilities:     splitCapabilities(fields["capabilities"]),
		Available:        fields["available"] == "true",
		CurrentSubTaskID: fields["current_subtask_id"],
	}
	if w.ID == "" {
		return w, errors.New("worker hash missing id")
	}
	w.CPUPct, _ = strconv.ParseFloat(fields["cpu_pct"], 64)
	w.MemPct, _ = strconv.ParseFloat(fields["mem_pct"], 64)
	w.CompletedCount, _ = strconv.ParseInt(fields["completed_count"], 10, 64)
	if ts := fields["last_heartbeat"]; ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return w, errors.Wrap(err, "parse last_heartbeat")
		}
		w.LastHeartbeatAt = t
	}
	return w, nil
}

// ─── In-Flight Sets ─────────────────────────────────────────────────────────

// AddInflight records subtask ids as queued or executing for a task.
func (r *Redis) AddInflight(ctx context.Context, taskID string, subtaskIDs ...string) error {
	if len(subtaskIDs) == 0 {
		return nil
	}
	key := inflightKey(taskID)
	members := make([]interface{}, len(subtaskIDs))
	for i, id := range subtaskIDs {
		members[i] = id
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, key, members...)
		pipe.Expire(ctx, key, inflightTTL)
		return nil
	})
	return errors.Wrap(err, "add inflight")
}

// RemoveInflight clears subtask ids from a task's in-flight set.
func (r *Redis) RemoveInflight(ctx context.Context, taskID string, subtaskIDs ...string) error {
	if len(subtaskIDs) == 0 {
		return nil
	}
	members := make([]interface{}, len(subtaskIDs))
	for i, id := range subtaskIDs {
		members[i] = id
	}
	err := r.client.SRem(ctx, inflightKey(taskID), members...).Err()
	return errors.Wrap(err, "remove inflight")
}

// InflightSubTasks returns the task's in-flight subtask ids.
func (r *Redis) InflightSubTasks(ctx context.Context, taskID string) (map[string]bool, error) {
	ids, err := r.client.SMembers(ctx, inflightKey(taskID)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "read inflight")
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

// ClearInflight drops the task's entire in-flight set.
func (r *Redis) ClearInflight(ctx context.Context, taskID string) error {
	return errors.Wrap(r.client.Del(ctx, inflightKey(taskID)).Err(), "clear inflight")
}

// ─── Shared KV ──────────────────────────────────────────────────────────────

// SetState stores an opaque value; ttl <= 0 means no expiry.
func (r *Redis) SetState(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return errors.Wrap(r.client.Set(ctx, stateKey(key), value, ttl).Err(), "set state")
}

// GetState fetches a value; the second return is false when the key is
// missing or expired.
func (r *Redis) GetState(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, stateKey(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "get state")
	}
	return v, true, nil
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

// Ping verifies the connection.
func (r *Redis) Ping(ctx context.Context) error {
	return errors.Wrap(r.client.Ping(ctx).Err(), "ping redis")
}

// Close releases the client's connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
