package db

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return NewStore(sqlx.NewDb(mockDB, "sqlite3"), zap.NewNop()), mock
}

func TestCreateUser(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`)).
		WithArgs(sqlmock.AnyArg(), "alice@example.com", "hashed", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	user, err := store.CreateUser(context.Background(), "alice@example.com", "hashed")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.NotEqual(t, uuid.Nil, user.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO users").
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := store.CreateUser(context.Background(), "alice@example.com", "hashed")
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestGetUserByEmail(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT id, email, password_hash, created_at FROM users WHERE email").
		WithArgs("alice@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "created_at"}).
			AddRow(id.String(), "alice@example.com", "hashed", time.Now()))

	user, err := store.GetUserByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, id, user.ID)
	assert.Equal(t, "hashed", user.PasswordHash)
}

func TestGetUserByEmailNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, email, password_hash, created_at FROM users WHERE email").
		WithArgs("nobody@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "created_at"}))

	_, err := store.GetUserByEmail(context.Background(), "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListConversationsIncludesCounts(t *testing.T) {
	store, mock := newMockStore(t)
	userID := uuid.New()
	convID := uuid.New()
	now := time.Now()

	mock.ExpectQuery("SELECT c.id, c.user_id, c.title").
		WithArgs(userID.String()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "title", "created_at", "updated_at", "message_count"}).
			AddRow(convID.String(), userID.String(), "flowcharts", now, now, 4))

	convs, err := store.ListConversations(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, convID, convs[0].ID)
	assert.Equal(t, 4, convs[0].MessageCount)
}

func TestDeleteConversation(t *testing.T) {
	store, mock := newMockStore(t)
	convID, userID := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM conversations WHERE id = ? AND user_id = ?`)).
		WithArgs(convID.String(), userID.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM messages WHERE conversation_id = ?`)).
		WithArgs(convID.String()).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	require.NoError(t, store.DeleteConversation(context.Background(), convID, userID))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteConversationNotOwned(t *testing.T) {
	store, mock := newMockStore(t)
	convID, userID := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM conversations").
		WithArgs(convID.String(), userID.String()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.DeleteConversation(context.Background(), convID, userID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppendMessageTouchesConversation(t *testing.T) {
	store, mock := newMockStore(t)
	convID := uuid.New()

	mock.ExpectExec("INSERT INTO messages").
		WithArgs(sqlmock.AnyArg(), convID.String(), "user", "hello", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE conversations SET updated_at").
		WithArgs(sqlmock.AnyArg(), convID.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	msg, err := store.AppendMessage(context.Background(), convID, "user", "hello")
	require.NoError(t, err)
	assert.Equal(t, "user", msg.Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentMessagesChronologicalOrder(t *testing.T) {
	store, mock := newMockStore(t)
	convID := uuid.New()
	now := time.Now()

	// The query returns newest first; the store reverses to oldest first.
	mock.ExpectQuery("ORDER BY created_at DESC LIMIT").
		WithArgs(convID.String(), 2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "conversation_id", "role", "content", "created_at"}).
			AddRow(uuid.NewString(), convID.String(), "assistant", "second answer", now).
			AddRow(uuid.NewString(), convID.String(), "user", "first question", now.Add(-time.Minute)))

	msgs, err := store.RecentMessages(context.Background(), convID, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first question", msgs[0].Content)
	assert.Equal(t, "second answer", msgs[1].Content)
}
