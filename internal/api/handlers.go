package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/domain"
)

// submitRequest is the POST /tasks body.
type submitRequest struct {
	Description    string `json:"description"`
	SubmitterID    string `json:"submitter_id"`
	AttachmentsRef string `json:"attachments_ref"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: malformed request body", domain.ErrValidation))
		return
	}
	if req.SubmitterID == "" {
		req.SubmitterID = "default_user"
	}

	out, err := s.core.Submit(r.Context(), req.Description, req.SubmitterID, req.AttachmentsRef)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"task_id":                 out.TaskID,
		"status":                  "created",
		"subtasks_count":          out.SubTasksCount,
		"initial_subtasks_queued": out.InitialQueued,
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, results, err := s.core.GetTask(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"task":            task,
		"subtask_results": results,
	})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, fmt.Errorf("%w: bad limit %q", domain.ErrValidation, raw))
			return
		}
		limit = n
	}

	tasks, err := s.core.ListTasks(r.Context(), r.URL.Query().Get("submitter_id"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks": tasks,
		"count": len(tasks),
	})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	requeued, err := s.core.Retry(r.Context(), taskID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"task_id":  taskID,
		"status":   string(domain.TaskRunning),
		"requeued": requeued,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if err := s.core.Cancel(r.Context(), taskID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"task_id": taskID,
		"status":  string(domain.TaskCancelled),
	})
}

func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := s.core.Workers(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workers": workers})
}

func (s *Server) handleAvailableWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := s.core.AvailableWorkers(r.Context(), r.URL.Query().Get("capability"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	ids := make([]string, len(workers))
	for i := range workers {
		ids[i] = workers[i].ID
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"available": ids,
		"count":     len(ids),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.checker == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
		return
	}
	status, code := "healthy", http.StatusOK
	if !s.checker.IsHealthy() {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status": status,
		"checks": s.checker.Statuses(),
	})
}
