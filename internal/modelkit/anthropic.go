package modelkit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	// APIKey authenticates against the Anthropic API (required).
	APIKey string
	// BaseURL overrides the default API base URL.
	BaseURL string
	// MaxRetries bounds retry attempts for transient failures. Default: 3.
	MaxRetries int
	// RetryDelay is the base delay for exponential backoff. Default: 1s.
	RetryDelay time.Duration
	// DefaultModel is used when a GenerateInput leaves Model empty.
	DefaultModel string
	// MaxTokens bounds a single response's generated tokens. Default: 4096.
	MaxTokens int
}

// AnthropicProvider is the real Provider implementation backed by Claude
// models, issuing one non-streaming Messages.New call per Generate.
type AnthropicProvider struct {
	client       anthropic.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
	maxTokens    int
}

// NewAnthropicProvider validates config, applies defaults, and returns a
// ready-to-use AnthropicProvider.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("modelkit: anthropic API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
		maxTokens:    cfg.MaxTokens,
	}, nil
}

func (p *AnthropicProvider) Name() string       { return "anthropic" }
func (p *AnthropicProvider) SupportsTools() bool { return true }

// Generate issues a single Messages.New call, retrying transient failures
// with exponential backoff, and converts the response into a GenerateOutput.
func (p *AnthropicProvider) Generate(ctx context.Context, in GenerateInput) (*GenerateOutput, error) {
	params, err := p.buildParams(in)
	if err != nil {
		return nil, err
	}

	var (
		resp     *anthropic.Message
		lastErr  error
	)
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := p.retryDelay * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
		resp, lastErr = p.client.Messages.New(ctx, params)
		if lastErr == nil {
			break
		}
		if !isRetryableError(lastErr) {
			break
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("modelkit: anthropic generate: %w", lastErr)
	}

	return p.convertResponse(in, resp), nil
}

func (p *AnthropicProvider) buildParams(in GenerateInput) (anthropic.MessageNewParams, error) {
	model := in.Model
	if model == "" {
		model = p.defaultModel
	}

	messages, err := convertMessages(in.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(p.maxTokens),
		Messages:  messages,
	}
	if in.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: in.System}}
	}
	if len(in.Tools) > 0 {
		tools, err := convertTools(in.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	return params, nil
}

func convertMessages(messages []Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		for _, part := range msg.Content {
			switch part.Type {
			case PartText:
				if part.Text != "" {
					content = append(content, anthropic.NewTextBlock(part.Text))
				}
			case PartToolUse:
				var input map[string]any
				if len(part.ToolInput) > 0 {
					if err := json.Unmarshal(part.ToolInput, &input); err != nil {
						return nil, fmt.Errorf("modelkit: invalid tool_use input: %w", err)
					}
				}
				content = append(content, anthropic.NewToolUseBlock(part.ToolCallID, input, part.ToolName))
			}
		}
		if msg.ToolCallID != "" {
			content = append(content, anthropic.NewToolResultBlock(msg.ToolCallID, flattenText(msg.Content), false))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func flattenText(parts []ContentPart) string {
	var b strings.Builder
	for _, part := range parts {
		if part.Type == PartText {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

func convertTools(tools []ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.Schema, &schema); err != nil {
			return nil, fmt.Errorf("modelkit: invalid tool schema for %s: %w", t.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("modelkit: invalid tool schema for %s", t.Name)
		}
		param.OfTool.Description = anthropic.String(t.Description)
		result = append(result, param)
	}
	return result, nil
}

func (p *AnthropicProvider) convertResponse(in GenerateInput, resp *anthropic.Message) *GenerateOutput {
	out := &GenerateOutput{
		Usage: Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
		},
	}

	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: json.RawMessage(block.Input),
			})
		}
	}
	out.Text = text.String()

	switch resp.StopReason {
	case "tool_use":
		out.FinishReason = FinishToolUse
	case "max_tokens":
		out.FinishReason = FinishMaxTokens
	default:
		out.FinishReason = FinishStop
	}

	out.CostUSD = EstimateCostUSD(p.Name(), in.Model, out.Usage)
	return out
}

// isRetryableError classifies transient failures (rate limits, 5xx, timeouts,
// connection resets) as retryable; everything else fails fast.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, needle := range []string{
		"rate_limit", "429", "too many requests",
		"500", "502", "503", "504",
		"internal server error", "bad gateway", "service unavailable", "gateway timeout",
		"timeout", "deadline exceeded",
		"connection reset", "connection refused", "no such host",
	} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
