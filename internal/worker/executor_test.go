package worker

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/domain"
)

func TestLocalExecutor_AnalyzesNumericInput(t *testing.T) {
	l := NewLocal("worker_local")
	item := &domain.WorkItem{
		TaskID: "task_0000000000000001",
		SubTask: domain.SubTask{
			ID:                   "subtask_000000000001",
			Description:          "Compute statistics over the samples",
			RequiredCapabilities: []domain.Capability{domain.CapDataAnalysis},
			InputData:            json.RawMessage(`{"values":[2,4,6,8]}`),
		},
	}

	out, err := l.Execute(context.Background(), item)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var got struct {
		Success bool    `json:"success"`
		Count   int     `json:"count"`
		Min     float64 `json:"min"`
		Max     float64 `json:"max"`
		Mean    float64 `json:"mean"`
	}
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("unmarshal output: %v", err)
	}
	if !got.Success || got.Count != 4 || got.Min != 2 || got.Max != 8 || got.Mean != 5 {
		t.Errorf("stats = %+v, want count=4 min=2 max=8 mean=5", got)
	}
}

func TestLocalExecutor_EchoesWithoutNumericInput(t *testing.T) {
	l := NewLocal("worker_local")
	item := &domain.WorkItem{
		TaskID: "task_0000000000000001",
		SubTask: domain.SubTask{
			ID:                   "subtask_000000000001",
			Description:          "Scrape the product catalog pages",
			RequiredCapabilities: []domain.Capability{domain.CapWebScraping},
		},
		UpstreamContext: map[string]json.RawMessage{
			"subtask_0000000000aa": json.RawMessage(`{"x":1}`),
		},
	}

	out, err := l.Execute(context.Background(), item)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var got struct {
		Success       bool   `json:"success"`
		Capability    string `json:"capability"`
		Summary       string `json:"summary"`
		UpstreamCount int    `json:"upstream_count"`
	}
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("unmarshal output: %v", err)
	}
	if !got.Success || got.Capability != "web_scraping" {
		t.Errorf("echo = %+v", got)
	}
	if got.UpstreamCount != 1 {
		t.Errorf("upstream_count = %d, want 1", got.UpstreamCount)
	}
	if !strings.Contains(got.Summary, "worker_local") {
		t.Errorf("summary %q does not name the worker", got.Summary)
	}
}

func TestLocalExecutor_DataAnalysisWithoutValuesFallsToEcho(t *testing.T) {
	l := NewLocal("worker_local")
	item := &domain.WorkItem{
		TaskID: "task_0000000000000001",
		SubTask: domain.SubTask{
			ID:                   "subtask_000000000001",
			Description:          "Analyze the quarterly revenue trend",
			RequiredCapabilities: []domain.Capability{domain.CapDataAnalysis},
			InputData:            json.RawMessage(`{"note":"no numbers here"}`),
		},
	}
	out, err := l.Execute(context.Background(), item)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, hasStats := got["mean"]; hasStats {
		t.Error("echo output unexpectedly carries stats fields")
	}
}

func TestBuildExecutePrompt(t *testing.T) {
	item := &domain.WorkItem{
		TaskID: "task_0000000000000001",
		SubTask: domain.SubTask{
			ID:                   "subtask_000000000001",
			Description:          "Summarize the scraped articles",
			RequiredCapabilities: []domain.Capability{domain.CapDataAnalysis, domain.CapCodeGeneration},
		},
		UpstreamContext: map[string]json.RawMessage{
			"subtask_0000000000aa": json.RawMessage(`{"articles":3}`),
		},
	}

	prompt := buildExecutePrompt(item)
	for _, want := range []string{
		"data_analysis, code_generation",
		"Summarize the scraped articles",
		`subtask_0000000000aa: {"articles":3}`,
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}

	item.UpstreamContext = nil
	if !strings.Contains(buildExecutePrompt(item), "Context from previous tasks:\nNone") {
		t.Error("empty upstream context should read None")
	}
}

func TestPrimaryCapability_Default(t *testing.T) {
	st := &domain.SubTask{}
	if got := primaryCapability(st); got != domain.FallbackCapability {
		t.Errorf("primaryCapability = %s, want fallback", got)
	}
}
