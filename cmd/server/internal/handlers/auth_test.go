package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"drawbridge/internal/auth"
)

func newAuthHandler(t *testing.T) (*AuthHandler, sqlmock.Sqlmock) {
	t.Helper()
	store, mock := newMockStore(t)
	svc := auth.NewService(store, auth.NewJWTManager("test-key", time.Hour), zap.NewNop())
	return NewAuthHandler(svc, time.Hour, zap.NewNop()), mock
}

func postJSON(target, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestRegisterSuccess(t *testing.T) {
	h, mock := newAuthHandler(t)

	mock.ExpectExec("INSERT INTO users").
		WillReturnResult(sqlmock.NewResult(1, 1))

	rec := httptest.NewRecorder()
	h.Register(rec, postJSON("/api/v1/auth/register", `{"email":"alice@example.com","password":"correcthorse"}`))

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "alice@example.com", resp.Email)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, 3600, resp.ExpiresIn)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	h, mock := newAuthHandler(t)

	mock.ExpectExec("INSERT INTO users").
		WillReturnError(&pq.Error{Code: "23505"})

	rec := httptest.NewRecorder()
	h.Register(rec, postJSON("/api/v1/auth/register", `{"email":"alice@example.com","password":"correcthorse"}`))

	assert.Equal(t, http.StatusConflict, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "email_exists", resp.Error)
}

func TestRegisterWeakPassword(t *testing.T) {
	h, _ := newAuthHandler(t)

	rec := httptest.NewRecorder()
	h.Register(rec, postJSON("/api/v1/auth/register", `{"email":"alice@example.com","password":"short"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterMissingFields(t *testing.T) {
	h, _ := newAuthHandler(t)

	rec := httptest.NewRecorder()
	h.Register(rec, postJSON("/api/v1/auth/register", `{"email":"alice@example.com"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginInvalidCredentials(t *testing.T) {
	h, mock := newAuthHandler(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("rightpassword"), bcrypt.MinCost)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT id, email, password_hash, created_at FROM users WHERE email").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "created_at"}).
			AddRow(uuid.NewString(), "alice@example.com", string(hash), time.Now()))

	rec := httptest.NewRecorder()
	h.Login(rec, postJSON("/api/v1/auth/login", `{"email":"alice@example.com","password":"wrong"}`))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginSuccess(t *testing.T) {
	h, mock := newAuthHandler(t)
	userID := uuid.New()
	hash, err := bcrypt.GenerateFromPassword([]byte("rightpassword"), bcrypt.MinCost)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT id, email, password_hash, created_at FROM users WHERE email").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "created_at"}).
			AddRow(userID.String(), "alice@example.com", string(hash), time.Now()))

	rec := httptest.NewRecorder()
	h.Login(rec, postJSON("/api/v1/auth/login", `{"email":"alice@example.com","password":"rightpassword"}`))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, userID.String(), resp.UserID)
	assert.NotEmpty(t, resp.AccessToken)
}
