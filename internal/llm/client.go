package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"drawbridge/internal/metrics"
)

// Config holds settings for the underlying chat-completions endpoint.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxAttempts int
	Timeout     time.Duration
}

// Client wraps one model endpoint with the three call shapes the agent needs:
// plain completion, enum-constrained decision, and tool-augmented completion.
// Clients are built once at startup and shared across requests; WithTools
// derives capability-bound variants without mutating the receiver.
type Client struct {
	api      openai.Client
	model    string
	attempts int
	tools    []openai.ChatCompletionToolParam
	logger   *zap.Logger
}

// NewClient builds a client for the configured endpoint. The SDK's own retry
// is disabled; retry policy lives in this package so every call shape shares
// the same backoff behavior.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	return &Client{
		api:      openai.NewClient(opts...),
		model:    cfg.Model,
		attempts: attempts,
		logger:   logger,
	}
}

// WithTools returns a copy of the client bound to the given capability set.
func (c *Client) WithTools(specs ...ToolSpec) *Client {
	dup := *c
	dup.tools = make([]openai.ChatCompletionToolParam, len(specs))
	for i, s := range specs {
		dup.tools[i] = openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        s.Name,
				Description: openai.String(s.Description),
				Parameters:  openai.FunctionParameters(s.Parameters),
			},
		}
	}
	return &dup
}

// Complete implements Completer.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	var out string
	err := c.withRetry(ctx, "complete", func() error {
		resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model:    openai.ChatModel(c.model),
			Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
		})
		if err != nil {
			return classify(err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("model returned no choices")
		}
		out = ExtractText(resp.Choices[0].Message.Content)
		return nil
	})
	return out, err
}

// Decide implements Decider. The model output is constrained by a strict JSON
// schema whose single field is an enum over choices; anything that fails to
// parse into one of the choices counts as a transient failure and is retried
// rather than accepted.
func (c *Client) Decide(ctx context.Context, prompt string, choices []string) (string, error) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"decision": map[string]any{"type": "string", "enum": choices},
		},
		"required":             []string{"decision"},
		"additionalProperties": false,
	}

	var out string
	err := c.withRetry(ctx, "decide", func() error {
		resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model:    openai.ChatModel(c.model),
			Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
			ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
					JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
						Name:   "decision",
						Schema: schema,
						Strict: openai.Bool(true),
					},
				},
			},
		})
		if err != nil {
			return classify(err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("model returned no choices")
		}
		var parsed struct {
			Decision string `json:"decision"`
		}
		raw := ExtractText(resp.Choices[0].Message.Content)
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return fmt.Errorf("malformed decision %q: %w", raw, err)
		}
		for _, choice := range choices {
			if parsed.Decision == choice {
				out = parsed.Decision
				return nil
			}
		}
		return fmt.Errorf("decision %q not in allowed set %v", parsed.Decision, choices)
	})
	return out, err
}

// ToolCall implements ToolCaller using the capability set bound via WithTools.
func (c *Client) ToolCall(ctx context.Context, msgs []Message) (Response, error) {
	var out Response
	err := c.withRetry(ctx, "tool_call", func() error {
		resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model:    openai.ChatModel(c.model),
			Messages: toParams(msgs),
			Tools:    c.tools,
		})
		if err != nil {
			return classify(err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("model returned no choices")
		}
		msg := resp.Choices[0].Message
		out = Response{Content: msg.Content}
		for _, tc := range msg.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: json.RawMessage(tc.Function.Arguments),
			})
		}
		return nil
	})
	return out, err
}

// toParams converts the package's message representation to SDK params.
func toParams(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(m.Content))
				continue
			}
			calls := make([]openai.ChatCompletionMessageToolCallParam, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				calls[i] = openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				}
			}
			assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: calls}
			if m.Content != "" {
				assistant.Content.OfString = openai.String(m.Content)
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// withRetry applies exponential backoff with jitter across a small fixed
// number of attempts. Exhaustion surfaces the last error to the caller.
func (c *Client) withRetry(ctx context.Context, call string, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 8 * time.Second
	bo.MaxElapsedTime = 0 // attempt count is the only bound

	start := time.Now()
	err := backoff.RetryNotify(fn,
		backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.attempts-1)), ctx),
		func(err error, next time.Duration) {
			metrics.LLMRetries.WithLabelValues(call).Inc()
			c.logger.Warn("Model call failed, retrying",
				zap.String("call", call),
				zap.Duration("backoff", next),
				zap.Error(err),
			)
		})

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.LLMCalls.WithLabelValues(call, status).Inc()
	metrics.LLMCallDuration.WithLabelValues(call).Observe(time.Since(start).Seconds())
	return err
}

// classify marks errors that retrying cannot fix as permanent. Rate limits,
// server errors, and transport failures remain retryable.
func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 408, apiErr.StatusCode == 409, apiErr.StatusCode == 429:
			return err
		case apiErr.StatusCode >= 500:
			return err
		default:
			return backoff.Permanent(err)
		}
	}
	return err
}
