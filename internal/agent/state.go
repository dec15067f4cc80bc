// Package agent implements the request orchestrator: it classifies each
// incoming task, runs the matching terminal node (direct answer, diagram
// workflow, or safety refusal), and always produces a user-facing answer.
package agent

// Route identifies the terminal node a task is dispatched to.
type Route string

const (
	// RouteDirect answers general-purpose questions, optionally using web search.
	RouteDirect Route = "direct"
	// RouteWorkflow generates and validates Mermaid diagrams.
	RouteWorkflow Route = "workflow"
	// RouteUnsafe refuses the request with a fixed message.
	RouteUnsafe Route = "unsafe"
)

// State carries a single request through classification and execution.
// It is built fresh per request and never shared across requests.
type State struct {
	// Task is the sanitized user query.
	Task string
	// ConversationContext is the formatted prior-conversation block
	// injected into prompt templates.
	ConversationContext string
	// Route is the terminal node chosen for this task. Set exactly once.
	Route Route
	// MaxIterations caps any tool-calling loop entered for this request.
	MaxIterations int
	// FinalAnswer is the user-facing response. Always non-empty after
	// Respond returns, whatever path the request took.
	FinalAnswer string
}

// HistoryMessage is one prior turn of the conversation, oldest first.
type HistoryMessage struct {
	Role    string
	Content string
}

// User-facing terminal messages. These are returned verbatim, so failures
// never leak internal error details to the caller.
const (
	// RefusalMessage is the fixed safety refusal.
	RefusalMessage = "I can't help with that request. If you have another question or need help with a safe topic, I'm happy to help."

	directFailureMessage   = "I ran into an issue while answering your question. Please try again."
	workflowFailureMessage = "I ran into an issue while generating the diagram. Please try again."
	directCeilingMessage   = "I couldn't finish answering within the allowed number of steps. Please try rephrasing your request."
	workflowCeilingMessage = "I couldn't generate a valid Mermaid diagram within the allowed attempts. Please try simplifying your request."
	emptyAnswerMessage     = "I couldn't generate a response. Please try again."
)
