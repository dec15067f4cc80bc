package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"drawbridge/internal/llm"
	"drawbridge/internal/tools"
)

// scriptedCaller replays a fixed sequence of model responses and records the
// message sequences it was invoked with.
type scriptedCaller struct {
	responses []llm.Response
	calls     int
	seen      [][]llm.Message
}

func (s *scriptedCaller) ToolCall(_ context.Context, msgs []llm.Message) (llm.Response, error) {
	s.seen = append(s.seen, msgs)
	i := s.calls
	s.calls++
	if i >= len(s.responses) {
		return llm.Response{}, fmt.Errorf("unexpected model call %d", i+1)
	}
	return s.responses[i], nil
}

type fakeDecider struct {
	decision string
	err      error
	calls    int
}

func (f *fakeDecider) Decide(_ context.Context, _ string, _ []string) (string, error) {
	f.calls++
	return f.decision, f.err
}

type fakeTool struct {
	name   string
	invoke func(ctx context.Context, args json.RawMessage) (string, error)
}

func (f *fakeTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{Name: f.name, Parameters: map[string]any{"type": "object"}}
}

func (f *fakeTool) Invoke(ctx context.Context, args json.RawMessage) (string, error) {
	return f.invoke(ctx, args)
}

func newTestEngine(ts ...tools.Tool) *Engine {
	return NewEngine(tools.NewRegistry(ts...), zap.NewNop())
}

func TestLoopReturnsPlainAnswer(t *testing.T) {
	client := &scriptedCaller{responses: []llm.Response{
		{Content: "forty-two"},
	}}
	engine := newTestEngine()

	answer, err := engine.Run(context.Background(), client, []llm.Message{{Role: llm.RoleUser, Content: "q"}}, 5, "direct")
	require.NoError(t, err)
	assert.Equal(t, "forty-two", answer)
	assert.Equal(t, 1, client.calls)
}

func TestLoopExecutesToolsAndFeedsResultsBack(t *testing.T) {
	search := &fakeTool{name: "web_search", invoke: func(_ context.Context, args json.RawMessage) (string, error) {
		var p struct {
			Query string `json:"query"`
		}
		require.NoError(t, json.Unmarshal(args, &p))
		return "result for " + p.Query, nil
	}}

	client := &scriptedCaller{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "web_search", Arguments: json.RawMessage(`{"query":"go"}`)}}},
		{Content: "answer based on search"},
	}}
	engine := newTestEngine(search)

	answer, err := engine.Run(context.Background(), client, []llm.Message{{Role: llm.RoleUser, Content: "q"}}, 5, "direct")
	require.NoError(t, err)
	assert.Equal(t, "answer based on search", answer)
	require.Equal(t, 2, client.calls)

	// Second invocation must carry the assistant turn and the tool result.
	second := client.seen[1]
	require.Len(t, second, 3)
	assert.Equal(t, llm.RoleAssistant, second[1].Role)
	require.Len(t, second[1].ToolCalls, 1)
	assert.Equal(t, llm.RoleTool, second[2].Role)
	assert.Equal(t, "call_1", second[2].ToolCallID)
	assert.Equal(t, "result for go", second[2].Content)
}

func TestLoopUnknownToolBecomesResult(t *testing.T) {
	client := &scriptedCaller{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "no_such_tool", Arguments: json.RawMessage(`{}`)}}},
		{Content: "recovered"},
	}}
	engine := newTestEngine()

	answer, err := engine.Run(context.Background(), client, []llm.Message{{Role: llm.RoleUser, Content: "q"}}, 5, "direct")
	require.NoError(t, err)
	assert.Equal(t, "recovered", answer)
	assert.Equal(t, "Tool no_such_tool not found", client.seen[1][2].Content)
}

func TestLoopToolErrorBecomesResult(t *testing.T) {
	broken := &fakeTool{name: "web_search", invoke: func(context.Context, json.RawMessage) (string, error) {
		return "", fmt.Errorf("upstream down")
	}}
	client := &scriptedCaller{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "web_search", Arguments: json.RawMessage(`{}`)}}},
		{Content: "answered without search"},
	}}
	engine := newTestEngine(broken)

	answer, err := engine.Run(context.Background(), client, []llm.Message{{Role: llm.RoleUser, Content: "q"}}, 5, "direct")
	require.NoError(t, err)
	assert.Equal(t, "answered without search", answer)
	assert.Equal(t, "Tool web_search failed: upstream down", client.seen[1][2].Content)
}

func TestLoopIterationCeiling(t *testing.T) {
	echo := &fakeTool{name: "web_search", invoke: func(context.Context, json.RawMessage) (string, error) {
		return "more results", nil
	}}
	keepCalling := llm.Response{ToolCalls: []llm.ToolCall{
		{ID: "call_n", Name: "web_search", Arguments: json.RawMessage(`{}`)},
	}}
	client := &scriptedCaller{responses: []llm.Response{keepCalling, keepCalling, keepCalling}}
	engine := newTestEngine(echo)

	_, err := engine.Run(context.Background(), client, []llm.Message{{Role: llm.RoleUser, Content: "q"}}, 3, "workflow")
	require.ErrorIs(t, err, ErrMaxIterations)
	assert.Equal(t, 3, client.calls)
}

func TestLoopModelErrorAborts(t *testing.T) {
	client := &scriptedCaller{} // any call is unexpected and errors
	engine := newTestEngine()

	_, err := engine.Run(context.Background(), client, []llm.Message{{Role: llm.RoleUser, Content: "q"}}, 5, "direct")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMaxIterations)
}
