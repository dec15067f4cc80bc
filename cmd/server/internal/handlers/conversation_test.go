package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newConversationHandler(t *testing.T) (*ConversationHandler, sqlmock.Sqlmock) {
	t.Helper()
	store, mock := newMockStore(t)
	return NewConversationHandler(store, zap.NewNop()), mock
}

func TestListConversations(t *testing.T) {
	h, mock := newConversationHandler(t)
	now := time.Now()

	mock.ExpectQuery("SELECT c.id, c.user_id, c.title").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "title", "created_at", "updated_at", "message_count"}).
			AddRow(uuid.NewString(), uuid.NewString(), "flowcharts", now, now, 4).
			AddRow(uuid.NewString(), uuid.NewString(), "questions", now, now, 2))

	rec := httptest.NewRecorder()
	h.List(rec, authedJSONRequest(t, http.MethodGet, "/api/v1/conversations", ""))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ListConversationsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, "flowcharts", resp.Conversations[0].Title)
	assert.Equal(t, 4, resp.Conversations[0].MessageCount)
}

func TestCreateConversation(t *testing.T) {
	h, mock := newConversationHandler(t)

	mock.ExpectExec("INSERT INTO conversations").
		WillReturnResult(sqlmock.NewResult(1, 1))

	rec := httptest.NewRecorder()
	h.Create(rec, authedJSONRequest(t, http.MethodPost, "/api/v1/conversations", `{"title":"new thread"}`))

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), "new thread")
}

func TestDeleteConversationNotFound(t *testing.T) {
	h, mock := newConversationHandler(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM conversations").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	req := authedJSONRequest(t, http.MethodDelete, "/api/v1/conversations/"+uuid.NewString(), "")
	req.SetPathValue("id", uuid.NewString())

	rec := httptest.NewRecorder()
	h.Delete(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteConversationInvalidID(t *testing.T) {
	h, _ := newConversationHandler(t)

	req := authedJSONRequest(t, http.MethodDelete, "/api/v1/conversations/not-a-uuid", "")
	req.SetPathValue("id", "not-a-uuid")

	rec := httptest.NewRecorder()
	h.Delete(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMessagesRequiresOwnership(t *testing.T) {
	h, mock := newConversationHandler(t)

	// GetConversation scoped by user finds nothing.
	mock.ExpectQuery("SELECT id, user_id, title, created_at, updated_at FROM conversations").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "title", "created_at", "updated_at"}))

	convID := uuid.NewString()
	req := authedJSONRequest(t, http.MethodGet, "/api/v1/conversations/"+convID+"/messages", "")
	req.SetPathValue("id", convID)

	rec := httptest.NewRecorder()
	h.Messages(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMessagesReturnsThread(t *testing.T) {
	h, mock := newConversationHandler(t)
	convID := uuid.New()
	now := time.Now()

	mock.ExpectQuery("SELECT id, user_id, title, created_at, updated_at FROM conversations").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "title", "created_at", "updated_at"}).
			AddRow(convID.String(), uuid.NewString(), "flowcharts", now, now))
	mock.ExpectQuery("ORDER BY created_at ASC").
		WillReturnRows(sqlmock.NewRows([]string{"id", "conversation_id", "role", "content", "created_at"}).
			AddRow(uuid.NewString(), convID.String(), "user", "draw a flowchart", now).
			AddRow(uuid.NewString(), convID.String(), "assistant", "graph TD\nA-->B", now))

	req := authedJSONRequest(t, http.MethodGet, "/api/v1/conversations/"+convID.String()+"/messages", "")
	req.SetPathValue("id", convID.String())

	rec := httptest.NewRecorder()
	h.Messages(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ListMessagesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, "user", resp.Messages[0].Role)
}
