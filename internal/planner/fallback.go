package planner

import (
	"context"

	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/domain"
)

// Fallback plans locally: one step covering the whole description. It
// keeps the system usable without an API key and serves as the degraded
// path when the model is unreachable.
type Fallback struct{}

var _ domain.Planner = Fallback{}

func (Fallback) Plan(_ context.Context, description string) ([]domain.PlanStep, error) {
	return []domain.PlanStep{FallbackStep(description)}, nil
}
