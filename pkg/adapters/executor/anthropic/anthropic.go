package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/aescanero/scaleout/pkg/domain"
)

// Payload is the job payload understood by the Claude executor
type Payload struct {
	Prompt    string `json:"prompt"`
	System    string `json:"system,omitempty"`
	Model     string `json:"model,omitempty"`
	MaxTokens int64  `json:"max_tokens,omitempty"`
}

// Result is written to Job.Result
type Result struct {
	Text         string `json:"text"`
	Model        string `json:"model"`
	StopReason   string `json:"stop_reason,omitempty"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
}

// Config configures the executor
type Config struct {
	APIKey           string
	DefaultModel     string
	DefaultMaxTokens int64
	// Options are extra client options, e.g. a base URL
	Options []option.RequestOption
}

// Executor sends job prompts to the Messages API
type Executor struct {
	client anthropic.Client
	cfg    Config
	logger *zap.Logger
}

// NewExecutor creates a Claude executor
func NewExecutor(cfg Config, logger *zap.Logger) (*Executor, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("executor/anthropic: API key is required")
	}
	if cfg.DefaultModel == "" {
		return nil, fmt.Errorf("executor/anthropic: default model is required")
	}
	if cfg.DefaultMaxTokens <= 0 {
		cfg.DefaultMaxTokens = 1024
	}

	opts := append([]option.RequestOption{option.WithAPIKey(cfg.APIKey)}, cfg.Options...)
	return &Executor{
		client: anthropic.NewClient(opts...),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Perform sends the prompt and stores the reply text in job.Result
func (e *Executor) Perform(ctx context.Context, job *domain.Job) error {
	var p Payload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("executor/anthropic: decode payload: %w", err)
	}
	if strings.TrimSpace(p.Prompt) == "" {
		return fmt.Errorf("executor/anthropic: payload has no prompt")
	}

	model := p.Model
	if model == "" {
		model = e.cfg.DefaultModel
	}
	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = e.cfg.DefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(p.Prompt)),
		},
	}
	if p.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: p.System}}
	}

	msg, err := e.client.Messages.New(ctx, params)
	if err != nil {
		return fmt.Errorf("executor/anthropic: create message: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	result, err := json.Marshal(Result{
		Text:         text.String(),
		Model:        string(msg.Model),
		StopReason:   string(msg.StopReason),
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	})
	if err != nil {
		return fmt.Errorf("executor/anthropic: encode result: %w", err)
	}
	job.Result = result

	e.logger.Info("message completed",
		zap.String("model", string(msg.Model)),
		zap.Int64("input_tokens", msg.Usage.InputTokens),
		zap.Int64("output_tokens", msg.Usage.OutputTokens))
	return nil
}
