package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"drawbridge/internal/agent"
	"drawbridge/internal/auth"
	"drawbridge/internal/db"
	"drawbridge/internal/util"
)

// Responder runs one task through the orchestrator.
type Responder interface {
	Respond(ctx context.Context, task string, history []agent.HistoryMessage) agent.State
}

// PromptHandler handles POST /api/v1/prompt: it persists the user's turn,
// runs the orchestrator under the request deadline, and persists the answer.
type PromptHandler struct {
	store          *db.Store
	responder      Responder
	requestTimeout time.Duration
	historyWindow  int
	maxPromptLen   int
	logger         *zap.Logger
}

// NewPromptHandler creates the prompt handler.
func NewPromptHandler(store *db.Store, responder Responder, requestTimeout time.Duration, historyWindow, maxPromptLen int, logger *zap.Logger) *PromptHandler {
	if requestTimeout <= 0 {
		requestTimeout = 120 * time.Second
	}
	if historyWindow <= 0 {
		historyWindow = 10
	}
	if maxPromptLen <= 0 {
		maxPromptLen = 8000
	}
	return &PromptHandler{
		store:          store,
		responder:      responder,
		requestTimeout: requestTimeout,
		historyWindow:  historyWindow,
		maxPromptLen:   maxPromptLen,
		logger:         logger,
	}
}

// PromptRequest is the POST /api/v1/prompt body. ConversationID is optional;
// without one a new conversation is started.
type PromptRequest struct {
	Prompt         string `json:"prompt"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// PromptResponse is the POST /api/v1/prompt body on success.
type PromptResponse struct {
	ConversationID string `json:"conversation_id"`
	Response       string `json:"response"`
	Route          string `json:"route"`
}

// Prompt handles POST /api/v1/prompt.
func (h *PromptHandler) Prompt(w http.ResponseWriter, r *http.Request) {
	userCtx, err := auth.GetUserContext(r.Context())
	if err != nil {
		sendError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	var req PromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.Prompt == "" {
		sendError(w, http.StatusBadRequest, "invalid_request", "Prompt is required")
		return
	}
	if len([]rune(req.Prompt)) > h.maxPromptLen {
		sendError(w, http.StatusBadRequest, "prompt_too_long", "Prompt exceeds the maximum length")
		return
	}

	conv, err := h.resolveConversation(r.Context(), userCtx.UserID, req.ConversationID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			sendError(w, http.StatusNotFound, "not_found", "Conversation not found")
			return
		}
		if errors.Is(err, errBadConversationID) {
			sendError(w, http.StatusBadRequest, "invalid_request", "Invalid conversation ID")
			return
		}
		h.logger.Error("Failed to resolve conversation", zap.Error(err))
		sendError(w, http.StatusInternalServerError, "internal_error", "Failed to resolve conversation")
		return
	}

	// History is loaded before the new turn is written so the current
	// prompt does not appear in its own context.
	history := h.loadHistory(r.Context(), conv.ID)

	if _, err := h.store.AppendMessage(r.Context(), conv.ID, "user", req.Prompt); err != nil {
		h.logger.Error("Failed to persist user message", zap.Error(err))
		sendError(w, http.StatusInternalServerError, "internal_error", "Failed to save message")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	state := h.responder.Respond(ctx, req.Prompt, history)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		h.logger.Error("Prompt processing timed out",
			zap.String("conversation_id", conv.ID.String()),
			zap.Duration("timeout", h.requestTimeout),
		)
		sendError(w, http.StatusGatewayTimeout, "timeout", "Request took too long to process. Please try again.")
		return
	}

	if _, err := h.store.AppendMessage(r.Context(), conv.ID, "assistant", state.FinalAnswer); err != nil {
		// The answer is already computed; losing the persisted copy is
		// not worth failing the request over.
		h.logger.Error("Failed to persist assistant message", zap.Error(err))
	}

	if conv.Title == "" {
		title := util.TruncateString(req.Prompt, 50, true)
		if err := h.store.SetTitleIfEmpty(r.Context(), conv.ID, title); err != nil {
			h.logger.Warn("Failed to set conversation title", zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, PromptResponse{
		ConversationID: conv.ID.String(),
		Response:       state.FinalAnswer,
		Route:          string(state.Route),
	})
}

var errBadConversationID = errors.New("invalid conversation id")

func (h *PromptHandler) resolveConversation(ctx context.Context, userID uuid.UUID, rawID string) (*db.Conversation, error) {
	if rawID == "" {
		return h.store.CreateConversation(ctx, userID, "")
	}
	convID, err := uuid.Parse(rawID)
	if err != nil {
		return nil, errBadConversationID
	}
	return h.store.GetConversation(ctx, convID, userID)
}

func (h *PromptHandler) loadHistory(ctx context.Context, conversationID uuid.UUID) []agent.HistoryMessage {
	msgs, err := h.store.RecentMessages(ctx, conversationID, h.historyWindow)
	if err != nil {
		// Degrade to a contextless answer rather than failing the request.
		h.logger.Warn("Failed to load conversation history",
			zap.String("conversation_id", conversationID.String()),
			zap.Error(err),
		)
		return nil
	}
	history := make([]agent.HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		history = append(history, agent.HistoryMessage{Role: m.Role, Content: m.Content})
	}
	return history
}
