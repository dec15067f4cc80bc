package llm

import (
	"context"
	"encoding/json"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in a model conversation. Assistant messages may carry
// tool-call requests; tool messages carry the result for one call ID.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall // assistant messages only
	ToolCallID string     // tool messages only
	Name       string     // tool messages only
}

// ToolCall is a capability invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Response is a raw model turn. Content is deliberately untyped: providers
// return strings, part lists, or structured objects, and ExtractText is the
// single place those shapes are normalized.
type Response struct {
	Content   any
	ToolCalls []ToolCall
}

// ToolSpec describes a capability to the model: a name, a description, and a
// JSON-schema parameter object.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Completer produces a plain text completion for a single prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Decider produces a structured decision constrained to one of the given
// choices. Implementations must reject free text: a value outside choices is
// an error, never a result.
type Decider interface {
	Decide(ctx context.Context, prompt string, choices []string) (string, error)
}

// ToolCaller runs one tool-augmented model turn over a message sequence. The
// capability set is bound at construction time, not per call.
type ToolCaller interface {
	ToolCall(ctx context.Context, msgs []Message) (Response, error)
}
