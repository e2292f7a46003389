// Package worker is the reference agent runtime: a small HTTP service
// that accepts one subtask at a time, executes it through a pluggable
// Executor, and reports results and heartbeats to the CoordStore. The
// orchestrator never talks to a worker except through POST /execute.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/domain"
	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/infra/metrics"
	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/infra/resource"
	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/log"
)

// registrationTTL is how long a status hash lives without a heartbeat.
// Three missed beats at the default cadence and the worker disappears
// from snapshots.
const registrationTTL = 60 * time.Second

// DefaultHeartbeatInterval is the status refresh cadence.
const DefaultHeartbeatInterval = 10 * time.Second

// Config describes one worker process.
type Config struct {
	ID           string
	ListenAddr   string // host:port the HTTP service binds
	AdvertiseURL string // endpoint registered for dispatch; derived from ListenAddr when empty
	Capabilities []domain.Capability

	HeartbeatInterval time.Duration
}

// Service is the worker runtime. One subtask executes at a time; a
// second offer gets 503 and the dispatcher re-enqueues it elsewhere.
type Service struct {
	cfg      Config
	coord    domain.CoordStore
	executor Executor
	sampler  *resource.Sampler
	logger   *logrus.Entry

	mu        sync.Mutex
	busy      bool
	current   string // subtask id while busy
	completed int64
}

// NewService wires a worker. The executor decides what "executing a
// subtask" means; everything else here is protocol.
func NewService(cfg Config, coord domain.CoordStore, executor Executor) (*Service, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("worker: id is required")
	}
	if cfg.ListenAddr == "" {
		return nil, fmt.Errorf("worker: listen address is required")
	}
	if len(cfg.Capabilities) == 0 {
		return nil, fmt.Errorf("worker: at least one capability is required")
	}
	for _, c := range cfg.Capabilities {
		if !c.Valid() {
			return nil, fmt.Errorf("%w: %q", domain.ErrUnknownCapability, c)
		}
	}
	if cfg.AdvertiseURL == "" {
		host, port, err := net.SplitHostPort(cfg.ListenAddr)
		if err != nil {
			return nil, fmt.Errorf("worker: bad listen address %q: %v", cfg.ListenAddr, err)
		}
		if host == "" || host == "0.0.0.0" || host == "::" {
			host = "127.0.0.1"
		}
		cfg.AdvertiseURL = fmt.Sprintf("http://%s", net.JoinHostPort(host, port))
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	return &Service{
		cfg:      cfg,
		coord:    coord,
		executor: executor,
		sampler:  resource.NewSampler(),
		logger:   log.WithComponent("worker").WithField("worker_id", cfg.ID),
	}, nil
}

// Handler returns the worker's HTTP surface.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Post("/execute", s.handleExecute)
	return r
}

// Run registers the worker, serves HTTP, and heartbeats until ctx is
// cancelled. On the way out it deregisters; the TTL covers crashes.
func (s *Service) Run(ctx context.Context) error {
	w := s.snapshot()
	if err := s.coord.RegisterWorker(ctx, &w, registrationTTL); err != nil {
		return fmt.Errorf("worker register: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"listen":   s.cfg.ListenAddr,
		"endpoint": s.cfg.AdvertiseURL,
	}).Info("worker registered")

	srv := &http.Server{Addr: s.cfg.ListenAddr, Handler: s.Handler()}
	errc := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()
	go s.heartbeatLoop(ctx)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errc:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	if err := s.coord.DeregisterWorker(shutdownCtx, s.cfg.ID); err != nil {
		s.logger.WithError(err).Warn("deregister failed, TTL will expire the record")
	} else {
		s.logger.Info("worker deregistered")
	}
	return runErr
}

// snapshot builds the current status document.
func (s *Service) snapshot() domain.Worker {
	u := s.sampler.Sample()
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.Worker{
		ID:               s.cfg.ID,
		Endpoint:         s.cfg.AdvertiseURL,
		Capabilities:     s.cfg.Capabilities,
		Available:        !s.busy,
		CurrentSubTaskID: s.current,
		CPUPct:           u.CPUPct,
		MemPct:           u.MemPct,
		CompletedCount:   s.completed,
		LastHeartbeatAt:  time.Now().UTC(),
	}
}

// tryAcquire flips the service busy for the given subtask. False means
// a subtask is already running.
func (s *Service) tryAcquire(subtaskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return false
	}
	s.busy = true
	s.current = subtaskID
	return true
}

// release frees the slot, counting a completed execution.
func (s *Service) release(completed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	s.current = ""
	if completed {
		s.completed++
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	busy, current := s.busy, s.current
	s.mu.Unlock()

	body := map[string]any{
		"status":    "healthy",
		"worker_id": s.cfg.ID,
		"available": !busy,
	}
	if current != "" {
		body["current_subtask"] = current
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshot())
}

// handleExecute accepts a work item if the slot is free. The response
// is sent before execution starts; results travel via the result queue
// rather than this connection.
func (s *Service) handleExecute(w http.ResponseWriter, r *http.Request) {
	var item domain.WorkItem
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed work item"})
		return
	}
	if item.TaskID == "" || item.SubTask.ID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "work item missing ids"})
		return
	}

	if !s.tryAcquire(item.SubTask.ID) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":    "busy",
			"worker_id": s.cfg.ID,
		})
		return
	}

	go s.execute(context.Background(), &item)

	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "accepted",
		"worker_id": s.cfg.ID,
	})
}

// execute runs the item and pushes the result. The context is detached
// from the HTTP request on purpose: the dispatcher's connection closes
// as soon as the offer is accepted.
func (s *Service) execute(ctx context.Context, item *domain.WorkItem) {
	s.logger.WithFields(logrus.Fields{
		"task_id":    item.TaskID,
		"subtask_id": item.SubTask.ID,
	}).Info("executing subtask")

	start := time.Now()
	output, err := s.executor.Execute(ctx, item)
	elapsed := time.Since(start).Seconds()
	if elapsed <= 0 {
		elapsed = 0.001
	}

	result := &domain.SubTaskResult{
		TaskID:               item.TaskID,
		SubTaskID:            item.SubTask.ID,
		WorkerID:             s.cfg.ID,
		ExecutionTimeSeconds: elapsed,
		CreatedAt:            time.Now().UTC(),
	}
	if err != nil {
		result.Outcome = domain.OutcomeFailed
		result.Error = err.Error()
		s.logger.WithError(err).WithField("subtask_id", item.SubTask.ID).Warn("execution failed")
	} else {
		result.Outcome = domain.OutcomeCompleted
		result.Output = output
	}

	metrics.SubTasksExecuted.WithLabelValues(string(result.Outcome)).Inc()
	metrics.ExecutionTime.Observe(elapsed)

	s.enqueueResult(ctx, result)
	s.release(err == nil)

	s.logger.WithFields(logrus.Fields{
		"subtask_id": item.SubTask.ID,
		"outcome":    result.Outcome,
		"seconds":    fmt.Sprintf("%.2f", elapsed),
	}).Info("subtask finished")
}

// enqueueResult pushes with indefinite retry. Dropping a result would
// stall the task forever; the queue coming back is the only way out.
func (s *Service) enqueueResult(ctx context.Context, r *domain.SubTaskResult) {
	for {
		err := s.coord.EnqueueResult(ctx, r)
		if err == nil {
			return
		}
		s.logger.WithError(err).WithField("subtask_id", r.SubTaskID).Error("result enqueue failed, retrying")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
