package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/domain"
	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/planner"
)

// Executor runs one subtask and returns its output payload. An error
// turns into a failed result; the payload becomes the completed output.
type Executor interface {
	Execute(ctx context.Context, item *domain.WorkItem) (json.RawMessage, error)
}

// primaryCapability picks the capability an executor should act as.
func primaryCapability(st *domain.SubTask) domain.Capability {
	if len(st.RequiredCapabilities) > 0 {
		return st.RequiredCapabilities[0]
	}
	return domain.FallbackCapability
}

// ─── Local Executor ──────────────────────────────────────────────────────────

// Local executes subtasks deterministically without network access.
// The data_analysis path computes basic statistics over numeric input;
// every other capability produces a structured echo of the request.
// It exists so the full pipeline round-trips in dev and in tests.
type Local struct {
	workerID string
}

// NewLocal creates the deterministic executor.
func NewLocal(workerID string) *Local {
	return &Local{workerID: workerID}
}

func (l *Local) Execute(_ context.Context, item *domain.WorkItem) (json.RawMessage, error) {
	capability := primaryCapability(&item.SubTask)

	if capability == domain.CapDataAnalysis {
		if out, ok := l.analyze(item); ok {
			return out, nil
		}
	}

	out := map[string]any{
		"success":        true,
		"capability":     capability,
		"summary":        fmt.Sprintf("Completed by %s", l.workerID),
		"description":    item.SubTask.Description,
		"upstream_count": len(item.UpstreamContext),
	}
	return json.Marshal(out)
}

// analyze computes count/min/max/mean over input_data.values. Missing
// or non-numeric input falls through to the echo path.
func (l *Local) analyze(item *domain.WorkItem) (json.RawMessage, bool) {
	var input struct {
		Values []float64 `json:"values"`
	}
	if len(item.SubTask.InputData) == 0 {
		return nil, false
	}
	if err := json.Unmarshal(item.SubTask.InputData, &input); err != nil || len(input.Values) == 0 {
		return nil, false
	}

	min, max, sum := input.Values[0], input.Values[0], 0.0
	for _, v := range input.Values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += v
	}
	out, err := json.Marshal(map[string]any{
		"success":    true,
		"capability": domain.CapDataAnalysis,
		"summary":    fmt.Sprintf("Completed by %s", l.workerID),
		"count":      len(input.Values),
		"min":        min,
		"max":        max,
		"mean":       sum / float64(len(input.Values)),
	})
	if err != nil {
		return nil, false
	}
	return out, true
}

// ─── LLM Executor ─────────────────────────────────────────────────────────────

const (
	llmMaxTokens      = 4096
	defaultLLMTimeout = 120 * time.Second
)

// executePrompt shapes the model call for one subtask. Upstream outputs
// are inlined so dependent steps can build on earlier results.
const executePrompt = `You are an AI agent with the following capabilities:
%s

Execute this task:
%s

Context from previous tasks:
%s

Respond with a concise result. Do not restate the task.`

// LLM executes subtasks by asking a Claude model to do the work. It
// shares the planner's client construction, including the Bedrock path.
type LLM struct {
	client   anthropic.Client
	model    anthropic.Model
	workerID string
	timeout  time.Duration
}

// NewLLM builds the model-backed executor from planner config.
func NewLLM(cfg planner.Config, workerID string) (*LLM, error) {
	client, model, err := planner.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultLLMTimeout
	}
	return &LLM{client: client, model: model, workerID: workerID, timeout: timeout}, nil
}

func (e *LLM) Execute(ctx context.Context, item *domain.WorkItem) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       e.model,
		MaxTokens:   llmMaxTokens,
		Temperature: anthropic.Float(0),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildExecutePrompt(item))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("model call: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += variant.Text
		}
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("model returned no text")
	}

	return json.Marshal(map[string]any{
		"success": true,
		"result":  text,
		"summary": fmt.Sprintf("Completed by %s", e.workerID),
	})
}

func buildExecutePrompt(item *domain.WorkItem) string {
	caps := make([]string, len(item.SubTask.RequiredCapabilities))
	for i, c := range item.SubTask.RequiredCapabilities {
		caps[i] = string(c)
	}

	context := "None"
	if len(item.UpstreamContext) > 0 {
		parts := make([]string, 0, len(item.UpstreamContext))
		for id, out := range item.UpstreamContext {
			parts = append(parts, fmt.Sprintf("%s: %s", id, out))
		}
		context = strings.Join(parts, "\n")
	}

	return fmt.Sprintf(executePrompt, strings.Join(caps, ", "), item.SubTask.Description, context)
}
