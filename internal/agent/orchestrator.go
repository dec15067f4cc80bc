package agent

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"drawbridge/internal/config"
	"drawbridge/internal/llm"
	"drawbridge/internal/metrics"
	"drawbridge/internal/sanitize"
	"drawbridge/internal/util"
)

// routeChoices is the closed decision vocabulary the routing model sees.
var routeChoices = []string{
	string(RouteWorkflow),
	string(RouteDirect),
	string(RouteUnsafe),
}

// Config wires an Orchestrator. Routing, Direct, and Workflow are separately
// bound clients: Direct carries web search, Workflow carries web search plus
// the Mermaid validator, Routing carries no tools at all.
type Config struct {
	Routing  llm.Decider
	Direct   llm.ToolCaller
	Workflow llm.ToolCaller

	Engine    *Engine
	Sanitizer *sanitize.Sanitizer
	Prompts   *config.PromptStore

	MaxIterations int
	ContextWindow int

	Logger *zap.Logger
}

// Orchestrator classifies each request and runs the chosen terminal node.
type Orchestrator struct {
	cfg Config
}

// NewOrchestrator builds the request orchestrator.
func NewOrchestrator(cfg Config) *Orchestrator {
	return &Orchestrator{cfg: cfg}
}

// Respond processes one user task end to end. It never returns an error:
// every failure path resolves to a fixed user-facing message in FinalAnswer,
// and FinalAnswer is always non-empty.
func (o *Orchestrator) Respond(ctx context.Context, task string, history []HistoryMessage) State {
	start := time.Now()

	state := State{MaxIterations: o.cfg.MaxIterations}
	state.ConversationContext = FormatContext(history, o.cfg.ContextWindow, o.cfg.Sanitizer)

	task, flagged := o.cfg.Sanitizer.Scan(task)
	state.Task = task
	if flagged {
		// Flagged input never reaches a model, not even for routing.
		metrics.RequestsFlagged.Inc()
		state.Route = RouteUnsafe
	} else {
		state.Route = o.route(ctx, &state)
	}
	metrics.RequestsRouted.WithLabelValues(string(state.Route)).Inc()

	switch state.Route {
	case RouteUnsafe:
		o.cfg.Logger.Warn("Request refused",
			zap.String("task", util.TruncateString(task, 100, false)),
		)
		state.FinalAnswer = RefusalMessage
	case RouteWorkflow:
		prompts := o.cfg.Prompts.Get()
		state.FinalAnswer = o.runNode(ctx, o.cfg.Workflow, prompts.Mermaid, &state)
	default:
		prompts := o.cfg.Prompts.Get()
		state.FinalAnswer = o.runNode(ctx, o.cfg.Direct, prompts.General, &state)
	}

	if state.FinalAnswer == "" {
		state.FinalAnswer = emptyAnswerMessage
	}

	metrics.AgentDuration.WithLabelValues(string(state.Route)).Observe(time.Since(start).Seconds())
	o.cfg.Logger.Info("Request completed",
		zap.String("route", string(state.Route)),
		zap.Duration("duration", time.Since(start)),
	)
	return state
}

// route asks the routing model to classify the task. Any failure, including
// a decision outside the vocabulary, falls back to the direct path: a
// misrouted answer beats a dropped request, and the unsafe route is reserved
// for positive signals.
func (o *Orchestrator) route(ctx context.Context, state *State) Route {
	prompt := config.Render(o.cfg.Prompts.Get().Orchestrator, state.Task, state.ConversationContext)

	decision, err := o.cfg.Routing.Decide(ctx, prompt, routeChoices)
	if err != nil {
		metrics.RoutingFallbacks.Inc()
		o.cfg.Logger.Warn("Routing decision failed, defaulting to direct", zap.Error(err))
		return RouteDirect
	}

	switch r := Route(decision); r {
	case RouteWorkflow, RouteDirect, RouteUnsafe:
		return r
	default:
		metrics.RoutingFallbacks.Inc()
		o.cfg.Logger.Warn("Routing returned unknown decision, defaulting to direct",
			zap.String("decision", decision),
		)
		return RouteDirect
	}
}

// runNode renders the node's prompt and drives the tool loop, mapping every
// failure to the node's fixed user-facing message.
func (o *Orchestrator) runNode(ctx context.Context, client llm.ToolCaller, template string, state *State) string {
	prompt := config.Render(template, state.Task, state.ConversationContext)
	msgs := []llm.Message{{Role: llm.RoleUser, Content: prompt}}

	answer, err := o.cfg.Engine.Run(ctx, client, msgs, state.MaxIterations, string(state.Route))
	if err == nil {
		return answer
	}

	if errors.Is(err, ErrMaxIterations) {
		o.cfg.Logger.Error("Tool loop hit iteration ceiling",
			zap.String("route", string(state.Route)),
			zap.Int("max_iterations", state.MaxIterations),
		)
		if state.Route == RouteWorkflow {
			return workflowCeilingMessage
		}
		return directCeilingMessage
	}

	o.cfg.Logger.Error("Terminal node failed",
		zap.String("route", string(state.Route)),
		zap.String("task", util.TruncateString(state.Task, 100, false)),
		zap.Error(err),
	)
	if state.Route == RouteWorkflow {
		return workflowFailureMessage
	}
	return directFailureMessage
}
