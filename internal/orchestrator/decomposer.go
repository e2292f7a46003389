// Package orchestrator contains the control plane: task submission,
// decomposition into a validated DAG, capability-matched dispatch,
// result processing with DAG advancement, and the registry view of
// worker presence. Everything is constructor-injected through Core;
// there is no package-level state.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/domain"
	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/infra/metrics"
	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/log"
	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/planner"
)

// Decomposer wraps the planner and turns its untrusted output into a
// validated subtask DAG. Planning never fails a submission: planner
// errors, unparsable output, and cyclic plans all degrade to a
// single-subtask fallback.
type Decomposer struct {
	planner domain.Planner
	logger  *logrus.Entry
}

// NewDecomposer wires a planner implementation.
func NewDecomposer(p domain.Planner) *Decomposer {
	return &Decomposer{planner: p, logger: log.WithComponent("decomposer")}
}

// Decompose plans the description and builds the DAG. The returned
// subtasks carry fresh ids, valid capability sets, clamped priorities,
// and intra-task dependencies only.
func (d *Decomposer) Decompose(ctx context.Context, description string) ([]domain.SubTask, *domain.DAG, error) {
	steps, err := d.planner.Plan(ctx, description)
	if err != nil {
		d.logger.WithError(err).Warn("planner failed, falling back to single subtask")
		metrics.PlannerFallbacks.WithLabelValues("planner_error").Inc()
		steps = []domain.PlanStep{planner.FallbackStep(description)}
	}

	subtasks, dag, err := buildSubTasks(steps)
	if err != nil {
		d.logger.WithError(err).Warn("plan rejected, falling back to single subtask")
		metrics.PlannerFallbacks.WithLabelValues(fallbackReason(err)).Inc()
		subtasks, dag, err = buildSubTasks([]domain.PlanStep{planner.FallbackStep(description)})
		if err != nil {
			return nil, nil, err
		}
	}
	return subtasks, dag, nil
}

func fallbackReason(err error) string {
	if errors.Is(err, domain.ErrCyclicPlan) {
		return "cyclic_plan"
	}
	return "bad_plan"
}

// buildSubTasks normalizes raw plan records and validates the graph.
// Records with out-of-bounds descriptions are dropped. Unknown
// capability strings are dropped; a subtask left with an empty set gets
// the conservative default. Dependency indices are rewritten to minted
// ids, skipping self, duplicate, out-of-range, and dropped-record
// references.
func buildSubTasks(steps []domain.PlanStep) ([]domain.SubTask, *domain.DAG, error) {
	ids := make([]string, len(steps))
	kept := make([]int, 0, len(steps))
	subtasks := make([]domain.SubTask, 0, len(steps))

	for i, step := range steps {
		desc := strings.TrimSpace(step.Description)
		if l := len(desc); l < domain.MinSubTaskDescription || l > domain.MaxSubTaskDescription {
			continue
		}

		var caps []domain.Capability
		seen := make(map[domain.Capability]bool)
		for _, raw := range step.RequiredCapabilities {
			c := domain.Capability(strings.ToLower(strings.TrimSpace(raw)))
			if !c.Valid() || seen[c] {
				continue
			}
			seen[c] = true
			caps = append(caps, c)
		}
		if len(caps) == 0 {
			caps = []domain.Capability{domain.FallbackCapability}
		}

		ids[i] = domain.NewSubTaskID()
		kept = append(kept, i)
		subtasks = append(subtasks, domain.SubTask{
			ID:                       ids[i],
			Description:              desc,
			RequiredCapabilities:     caps,
			Priority:                 domain.ClampPriority(step.Priority),
			EstimatedDurationSeconds: step.EstimatedDuration,
		})
	}

	if len(subtasks) == 0 {
		return nil, nil, fmt.Errorf("%w: no usable plan records", domain.ErrBadPlan)
	}

	for si, i := range kept {
		var deps []string
		seenDep := make(map[string]bool)
		for _, idx := range steps[i].Dependencies {
			if idx < 0 || idx >= len(steps) || idx == i {
				continue
			}
			depID := ids[idx]
			if depID == "" || seenDep[depID] {
				continue
			}
			seenDep[depID] = true
			deps = append(deps, depID)
		}
		subtasks[si].Dependencies = deps
	}

	dag, err := domain.NewDAG(subtasks)
	if err != nil {
		return nil, nil, err
	}
	return subtasks, dag, nil
}
