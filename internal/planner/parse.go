package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/domain"
)

// planRecord is the wire shape of one plan entry. Priority is a pointer
// so an absent field defaults to 5 while an explicit 0 survives.
type planRecord struct {
	Description          string   `json:"description"`
	RequiredCapabilities []string `json:"required_capabilities"`
	Dependencies         []int    `json:"dependencies"`
	Priority             *int     `json:"priority"`
	EstimatedDuration    int      `json:"estimated_duration"`
}

// ParsePlan extracts the first JSON array from model output and decodes
// it. Models wrap arrays in prose or markdown fences often enough that
// cutting from the first '[' to the last ']' is the reliable move.
func ParsePlan(text string) ([]domain.PlanStep, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("%w: no JSON array in planner output (%d chars)", domain.ErrBadPlan, len(text))
	}

	var records []planRecord
	if err := json.Unmarshal([]byte(text[start:end+1]), &records); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrBadPlan, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: empty plan", domain.ErrBadPlan)
	}

	steps := make([]domain.PlanStep, len(records))
	for i, r := range records {
		priority := domain.DefaultPriority
		if r.Priority != nil {
			priority = *r.Priority
		}
		steps[i] = domain.PlanStep{
			Description:          strings.TrimSpace(r.Description),
			RequiredCapabilities: r.RequiredCapabilities,
			Dependencies:         r.Dependencies,
			Priority:             priority,
			EstimatedDuration:    r.EstimatedDuration,
		}
	}
	return steps, nil
}
