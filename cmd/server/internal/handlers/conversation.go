package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"drawbridge/internal/auth"
	"drawbridge/internal/db"
)

// ConversationHandler handles conversation CRUD.
type ConversationHandler struct {
	store  *db.Store
	logger *zap.Logger
}

// NewConversationHandler creates the conversation handler.
func NewConversationHandler(store *db.Store, logger *zap.Logger) *ConversationHandler {
	return &ConversationHandler{store: store, logger: logger}
}

// CreateConversationRequest is the POST /api/v1/conversations body.
type CreateConversationRequest struct {
	Title string `json:"title"`
}

// ListConversationsResponse is the GET /api/v1/conversations body.
type ListConversationsResponse struct {
	Conversations []db.Conversation `json:"conversations"`
	Total         int               `json:"total"`
}

// ListMessagesResponse is the GET /api/v1/conversations/{id}/messages body.
type ListMessagesResponse struct {
	Messages []db.Message `json:"messages"`
	Total    int          `json:"total"`
}

// List handles GET /api/v1/conversations.
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	userCtx, err := auth.GetUserContext(r.Context())
	if err != nil {
		sendError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	convs, err := h.store.ListConversations(r.Context(), userCtx.UserID)
	if err != nil {
		h.logger.Error("Failed to list conversations", zap.Error(err))
		sendError(w, http.StatusInternalServerError, "internal_error", "Failed to list conversations")
		return
	}

	writeJSON(w, http.StatusOK, ListConversationsResponse{Conversations: convs, Total: len(convs)})
}

// Create handles POST /api/v1/conversations.
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	userCtx, err := auth.GetUserContext(r.Context())
	if err != nil {
		sendError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	var req CreateConversationRequest
	if r.Body != nil {
		// Body is optional; an untitled conversation is fine.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	conv, err := h.store.CreateConversation(r.Context(), userCtx.UserID, req.Title)
	if err != nil {
		h.logger.Error("Failed to create conversation", zap.Error(err))
		sendError(w, http.StatusInternalServerError, "internal_error", "Failed to create conversation")
		return
	}

	writeJSON(w, http.StatusCreated, conv)
}

// Delete handles DELETE /api/v1/conversations/{id}.
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userCtx, err := auth.GetUserContext(r.Context())
	if err != nil {
		sendError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	convID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		sendError(w, http.StatusBadRequest, "invalid_request", "Invalid conversation ID")
		return
	}

	if err := h.store.DeleteConversation(r.Context(), convID, userCtx.UserID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			sendError(w, http.StatusNotFound, "not_found", "Conversation not found")
			return
		}
		h.logger.Error("Failed to delete conversation",
			zap.String("conversation_id", convID.String()),
			zap.Error(err),
		)
		sendError(w, http.StatusInternalServerError, "internal_error", "Failed to delete conversation")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Messages handles GET /api/v1/conversations/{id}/messages.
func (h *ConversationHandler) Messages(w http.ResponseWriter, r *http.Request) {
	userCtx, err := auth.GetUserContext(r.Context())
	if err != nil {
		sendError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	convID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		sendError(w, http.StatusBadRequest, "invalid_request", "Invalid conversation ID")
		return
	}

	// Ownership check before exposing the thread.
	if _, err := h.store.GetConversation(r.Context(), convID, userCtx.UserID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			sendError(w, http.StatusNotFound, "not_found", "Conversation not found")
			return
		}
		h.logger.Error("Failed to load conversation", zap.Error(err))
		sendError(w, http.StatusInternalServerError, "internal_error", "Failed to load conversation")
		return
	}

	msgs, err := h.store.ListMessages(r.Context(), convID)
	if err != nil {
		h.logger.Error("Failed to list messages", zap.Error(err))
		sendError(w, http.StatusInternalServerError, "internal_error", "Failed to list messages")
		return
	}

	writeJSON(w, http.StatusOK, ListMessagesResponse{Messages: msgs, Total: len(msgs)})
}
