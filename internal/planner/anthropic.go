package planner

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/sirupsen/logrus"

	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/domain"
	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/log"
)

const defaultModel = anthropic.Model("claude-sonnet-4-5-20250929")

// Config controls how the Anthropic planner reaches the API.
type Config struct {
	// Model is the Claude model name. Empty picks a current Sonnet.
	Model string
	// APIKey overrides the ANTHROPIC_API_KEY environment variable.
	APIKey string
	// Timeout bounds each planning call. Zero means DefaultTimeout.
	Timeout time.Duration
	// UseBedrock routes calls through AWS Bedrock instead of the
	// direct API. Credentials come from the standard AWS chain.
	UseBedrock bool
	AWSRegion  string
	AWSProfile string
}

// Anthropic plans with the Claude Messages API.
type Anthropic struct {
	client  anthropic.Client
	model   anthropic.Model
	timeout time.Duration
	logger  *logrus.Entry
}

var _ domain.Planner = (*Anthropic)(nil)

// NewClient builds a Messages API client from the shared config. With
// UseBedrock set it loads the default AWS config; otherwise it requires
// an API key from Config or the environment. The worker's LLM executor
// reuses it so auth setup lives in one place.
func NewClient(cfg Config) (anthropic.Client, anthropic.Model, error) {
	var opts []option.RequestOption

	if cfg.UseBedrock {
		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(context.Background(), loadOpts...))
	} else {
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		if key == "" {
			return anthropic.Client{}, "", fmt.Errorf("anthropic: ANTHROPIC_API_KEY is not set")
		}
		opts = append(opts, option.WithAPIKey(key))
	}

	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	if cfg.UseBedrock {
		model = bedrockModel(model)
	}

	return anthropic.NewClient(opts...), model, nil
}

// NewAnthropic builds the planner over a fresh API client.
func NewAnthropic(cfg Config) (*Anthropic, error) {
	client, model, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Anthropic{
		client:  client,
		model:   model,
		timeout: timeout,
		logger:  log.WithComponent("planner"),
	}, nil
}

// Plan asks the model for a decomposition and parses the reply into raw
// plan records. Temperature is pinned to zero so the same description
// plans the same way.
func (a *Anthropic) Plan(ctx context.Context, description string) ([]domain.PlanStep, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       a.model,
		MaxTokens:   maxPlanTokens,
		Temperature: anthropic.Float(0),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(description))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("planner call: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += variant.Text
		}
	}

	steps, err := ParsePlan(text)
	if err != nil {
		return nil, err
	}

	a.logger.WithFields(logrus.Fields{
		"steps":      len(steps),
		"tokens_in":  resp.Usage.InputTokens,
		"tokens_out": resp.Usage.OutputTokens,
	}).Debug("plan received")
	return steps, nil
}

// bedrockModel converts an Anthropic model name to the cross-region
// Bedrock inference profile form. Unknown names pass through untouched
// so explicit Bedrock ids keep working.
func bedrockModel(model anthropic.Model) anthropic.Model {
	profiles := map[anthropic.Model]anthropic.Model{
		"claude-sonnet-4-5-20250929": "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		"claude-sonnet-4-5":          "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		"claude-haiku-4-5-20251001":  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
		"claude-opus-4-5-20251101":   "us.anthropic.claude-opus-4-5-20251101-v1:0",
	}
	if p, ok := profiles[model]; ok {
		return p
	}
	return model
}
