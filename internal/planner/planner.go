// Package planner turns a task description into raw subtask plan records.
//
// Two implementations ship. Anthropic asks the Claude Messages API for a
// JSON decomposition; Fallback answers locally with a single conservative
// step and needs no credentials. Either way the output is untrusted: the
// decomposer validates, clamps, and rebuilds everything before any of it
// reaches a queue.
package planner

import (
	"fmt"
	"strings"
	"time"

	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/domain"
)

// Provider names accepted by the [planner] config section.
const (
	ProviderAnthropic = "anthropic"
	ProviderFallback  = "fallback"
)

// DefaultTimeout bounds a single planning call end to end.
const DefaultTimeout = 30 * time.Second

// maxPlanTokens caps the model reply. Plans are small; even a ten-step
// decomposition fits comfortably.
const maxPlanTokens = 2048

const promptTemplate = `Analyze and decompose this task into subtasks suitable for parallel execution by AI agents.

Task: %s

Available agent capabilities:
%s

For each subtask, specify:
1. description (clear, specific, actionable)
2. required_capabilities (array of 1-3 capabilities from the list above)
3. dependencies (array of 0-based subtask indices that must complete first, empty array if none)
4. priority (0-10, higher = more urgent, default 5)
5. estimated_duration (estimated seconds, or null if unknown)

Respond with a JSON array ONLY. Example format:
[
  {
    "description": "Fetch data from API endpoint",
    "required_capabilities": ["api_integration"],
    "dependencies": [],
    "priority": 7,
    "estimated_duration": 10
  },
  {
    "description": "Analyze fetched data statistically",
    "required_capabilities": ["data_analysis"],
    "dependencies": [0],
    "priority": 5,
    "estimated_duration": 15
  }
]

Important:
- For simple tasks, return a single subtask
- Dependencies are 0-based indices in the response array
- Only use capabilities from the available list
- Keep descriptions concise but actionable
- Respond with ONLY the JSON array, no explanation`

// buildPrompt renders the decomposition request: field-by-field
// instructions, a worked example, and a demand for bare JSON.
func buildPrompt(description string) string {
	return fmt.Sprintf(promptTemplate, description, strings.Join(domain.CapabilityStrings(), ", "))
}

// FallbackStep is the single-step plan used whenever planning fails or
// produces nothing usable: the whole description as one subtask under
// the conservative default capability.
func FallbackStep(description string) domain.PlanStep {
	if len(description) > domain.MaxSubTaskDescription {
		description = description[:domain.MaxSubTaskDescription]
	}
	return domain.PlanStep{
		Description:          description,
		RequiredCapabilities: []string{string(domain.FallbackCapability)},
		Priority:             domain.DefaultPriority,
	}
}
