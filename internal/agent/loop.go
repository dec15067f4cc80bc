package agent

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"drawbridge/internal/llm"
	"drawbridge/internal/metrics"
	"drawbridge/internal/tools"
)

// ErrMaxIterations is returned when a tool-calling loop exhausts its
// iteration budget without the model producing a final answer.
var ErrMaxIterations = errors.New("tool loop exceeded max iterations")

// Engine runs the bounded tool-calling loop: invoke the model, execute any
// requested tools, feed results back, repeat until the model answers in
// plain text or the iteration ceiling is hit.
type Engine struct {
	registry *tools.Registry
	logger   *zap.Logger
}

// NewEngine builds a loop engine over the given tool registry.
func NewEngine(registry *tools.Registry, logger *zap.Logger) *Engine {
	return &Engine{registry: registry, logger: logger}
}

// Run drives the loop against a tool-bound client. Each iteration is one
// model invocation. Tool failures are reported back to the model as results
// rather than aborting the loop; only model-call errors and the iteration
// ceiling terminate it. label tags metrics and logs with the calling route.
func (e *Engine) Run(ctx context.Context, client llm.ToolCaller, msgs []llm.Message, maxIterations int, label string) (string, error) {
	for iteration := 1; iteration <= maxIterations; iteration++ {
		resp, err := client.ToolCall(ctx, msgs)
		if err != nil {
			return "", fmt.Errorf("model call failed on iteration %d: %w", iteration, err)
		}

		if len(resp.ToolCalls) == 0 {
			metrics.LoopIterations.WithLabelValues(label).Observe(float64(iteration))
			return llm.ExtractText(resp.Content), nil
		}

		e.logger.Debug("Model requested tool calls",
			zap.String("label", label),
			zap.Int("iteration", iteration),
			zap.Int("count", len(resp.ToolCalls)),
		)

		// The assistant turn must be replayed with its tool-call requests
		// intact or the provider rejects the follow-up tool results.
		msgs = append(msgs, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   llm.ExtractText(resp.Content),
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			msgs = append(msgs, llm.Message{
				Role:       llm.RoleTool,
				Content:    e.execute(ctx, call),
				ToolCallID: call.ID,
				Name:       call.Name,
			})
		}
	}

	metrics.LoopCeilingHits.WithLabelValues(label).Inc()
	return "", fmt.Errorf("%w after %d iterations", ErrMaxIterations, maxIterations)
}

// execute resolves and runs a single requested tool. Every outcome,
// including an unknown tool name, becomes a result string for the model.
// The tool runs on its own goroutine so a stuck tool cannot outlive the
// request: once ctx expires the loop moves on without it.
func (e *Engine) execute(ctx context.Context, call llm.ToolCall) string {
	tool, ok := e.registry.Lookup(call.Name)
	if !ok {
		metrics.ToolInvocations.WithLabelValues(call.Name, "not_found").Inc()
		e.logger.Warn("Model requested unknown tool", zap.String("tool", call.Name))
		return fmt.Sprintf("Tool %s not found", call.Name)
	}

	type outcome struct {
		result string
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := tool.Invoke(ctx, call.Arguments)
		done <- outcome{result, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			metrics.ToolInvocations.WithLabelValues(call.Name, "error").Inc()
			e.logger.Warn("Tool invocation failed",
				zap.String("tool", call.Name),
				zap.Error(out.err),
			)
			return fmt.Sprintf("Tool %s failed: %v", call.Name, out.err)
		}
		metrics.ToolInvocations.WithLabelValues(call.Name, "ok").Inc()
		return out.result
	case <-ctx.Done():
		metrics.ToolInvocations.WithLabelValues(call.Name, "cancelled").Inc()
		return fmt.Sprintf("Tool %s cancelled: %v", call.Name, ctx.Err())
	}
}
