package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/domain"
	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/infra/metrics"
	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/log"
)

// DispatcherConfig controls the dispatch loop.
type DispatcherConfig struct {
	DequeueTimeout  time.Duration // blocking dequeue bound
	DispatchTimeout time.Duration // worker execute POST bound
	BackoffInitial  time.Duration // first pause after a failed placement
	BackoffMax      time.Duration // exponential cap
}

// DefaultDispatcherConfig returns production defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		DequeueTimeout:  time.Second,
		DispatchTimeout: 5 * time.Second,
		BackoffInitial:  100 * time.Millisecond,
		BackoffMax:      2 * time.Second,
	}
}

// Dispatcher pulls work items and offers each to one matching worker
// over HTTP. Items that cannot be placed go back to the queue tail with
// backoff; nothing is ever dropped except work for cancelled tasks.
type Dispatcher struct {
	coord    domain.CoordStore
	store    domain.DurableStore
	registry *Registry
	client   *http.Client
	cfg      DispatcherConfig
	logger   *logrus.Entry
}

// NewDispatcher creates a dispatch loop sharing the core's stores and
// registry. Run several for parallel dispatch; atomic queue handoff
// keeps them disjoint.
func (c *Core) NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	def := DefaultDispatcherConfig()
	if cfg.DequeueTimeout <= 0 {
		cfg.DequeueTimeout = def.DequeueTimeout
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = def.DispatchTimeout
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = def.BackoffInitial
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		cfg.BackoffMax = def.BackoffMax
	}
	return &Dispatcher{
		coord:    c.coord,
		store:    c.store,
		registry: c.registry,
		client:   &http.Client{},
		cfg:      cfg,
		logger:   log.WithComponent("dispatcher"),
	}
}

// Run consumes the work queue until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	backoff := d.cfg.BackoffInitial
	for {
		if ctx.Err() != nil {
			return
		}

		item, err := d.coord.DequeueWork(ctx, d.cfg.DequeueTimeout)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrQueueEmpty):
			case errors.Is(err, domain.ErrQueueClosed):
				return
			case errors.Is(err, domain.ErrPoisonMessage):
				metrics.PoisonMessages.WithLabelValues("work").Inc()
				d.logger.WithError(err).Error("dropping poison work item")
			case ctx.Err() != nil:
				return
			default:
				d.logger.WithError(err).Error("work dequeue failed")
				sleepCtx(ctx, time.Second)
			}
			continue
		}

		if d.cancelled(ctx, item) {
			continue
		}

		if d.dispatch(ctx, item) {
			backoff = d.cfg.BackoffInitial
			continue
		}

		// Placement failed: back to the tail, then back off so an
		// empty registry does not spin the loop.
		if err := d.coord.EnqueueWork(ctx, item); err != nil {
			d.logger.WithError(err).WithField("subtask_id", item.SubTask.ID).Error("re-enqueue failed")
		}
		sleepCtx(ctx, backoff)
		backoff *= 2
		if backoff > d.cfg.BackoffMax {
			backoff = d.cfg.BackoffMax
		}
	}
}

// cancelled drops items whose parent task was cancelled and releases
// their inflight entries so the set mirrors the queue.
func (d *Dispatcher) cancelled(ctx context.Context, item *domain.WorkItem) bool {
	task, err := d.store.GetTask(ctx, item.TaskID)
	if err != nil {
		// Unreadable task: dispatch anyway, the result path sorts it out.
		return false
	}
	if task.State != domain.TaskCancelled {
		return false
	}
	_ = d.coord.RemoveInflight(ctx, item.TaskID, item.SubTask.ID)
	d.logger.WithFields(logrus.Fields{
		"task_id":    item.TaskID,
		"subtask_id": item.SubTask.ID,
	}).Info("dropping work for cancelled task")
	return true
}

// dispatch selects one matching worker uniformly at random and offers
// the item. Returns true only when a worker accepted it.
func (d *Dispatcher) dispatch(ctx context.Context, item *domain.WorkItem) bool {
	candidates, err := d.registry.Available(ctx, item.SubTask.RequiredCapabilities)
	if err != nil {
		d.logger.WithError(err).Error("worker snapshot failed")
		metrics.DispatchRetries.WithLabelValues("registry_error").Inc()
		return false
	}
	if len(candidates) == 0 {
		metrics.DispatchRetries.WithLabelValues("no_worker").Inc()
		return false
	}

	// Random pick spreads load across workers with overlapping
	// capability sets; first-match would pin everything to one worker.
	w := candidates[rand.Intn(len(candidates))]

	start := time.Now()
	accepted, err := d.post(ctx, &w, item)
	metrics.DispatchLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		d.logger.WithError(err).WithFields(logrus.Fields{
			"worker_id":  w.ID,
			"subtask_id": item.SubTask.ID,
		}).Warn("worker unreachable, re-enqueueing")
		metrics.DispatchRetries.WithLabelValues("unreachable").Inc()
		return false
	}
	if !accepted {
		d.logger.WithFields(logrus.Fields{
			"worker_id":  w.ID,
			"subtask_id": item.SubTask.ID,
		}).Warn("worker busy, re-enqueueing")
		metrics.DispatchRetries.WithLabelValues("busy").Inc()
		return false
	}

	if err := d.coord.SetWorkerAvailability(ctx, w.ID, false, item.SubTask.ID); err != nil {
		d.logger.WithError(err).WithField("worker_id", w.ID).Debug("busy mark failed")
	}
	metrics.SubTasksDispatched.Inc()
	d.logger.WithFields(logrus.Fields{
		"task_id":    item.TaskID,
		"subtask_id": item.SubTask.ID,
		"worker_id":  w.ID,
	}).Info("subtask dispatched")
	return true
}

// post sends the execute call. True means accepted; false with nil
// error means the worker reported busy.
func (d *Dispatcher) post(ctx context.Context, w *domain.Worker, item *domain.WorkItem) (bool, error) {
	body, err := json.Marshal(item)
	if err != nil {
		return false, fmt.Errorf("marshal work item: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.DispatchTimeout)
	defer cancel()

	url := strings.TrimSuffix(w.Endpoint, "/") + "/execute"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted:
		return true, nil
	case http.StatusServiceUnavailable:
		return false, nil
	default:
		return false, fmt.Errorf("worker %s returned %d", w.ID, resp.StatusCode)
	}
}

// sleepCtx waits d or until ctx is cancelled, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
