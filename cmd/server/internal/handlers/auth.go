package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"drawbridge/internal/auth"
	"drawbridge/internal/db"
)

// AuthHandler handles registration and login.
type AuthHandler struct {
	service     *auth.Service
	tokenExpiry time.Duration
	logger      *zap.Logger
}

// NewAuthHandler creates the auth handler.
func NewAuthHandler(service *auth.Service, tokenExpiry time.Duration, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{service: service, tokenExpiry: tokenExpiry, logger: logger}
}

// CredentialsRequest is the register/login request body.
type CredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse is the successful register/login response.
type AuthResponse struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Register handles POST /api/v1/auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		sendError(w, http.StatusBadRequest, "invalid_request", "Email and password are required")
		return
	}

	user, token, err := h.service.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrWeakPassword):
			sendError(w, http.StatusBadRequest, "invalid_request", err.Error())
		case errors.Is(err, db.ErrEmailTaken):
			sendError(w, http.StatusConflict, "email_exists", "Email already registered")
		default:
			h.logger.Error("Registration failed", zap.Error(err))
			sendError(w, http.StatusInternalServerError, "registration_failed", "Failed to complete registration")
		}
		return
	}

	writeJSON(w, http.StatusCreated, AuthResponse{
		UserID:      user.ID.String(),
		Email:       user.Email,
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(h.tokenExpiry.Seconds()),
	})
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		sendError(w, http.StatusBadRequest, "invalid_request", "Email and password are required")
		return
	}

	user, token, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			sendError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password")
			return
		}
		h.logger.Error("Login failed", zap.Error(err))
		sendError(w, http.StatusInternalServerError, "login_failed", "Failed to complete login")
		return
	}

	writeJSON(w, http.StatusOK, AuthResponse{
		UserID:      user.ID.String(),
		Email:       user.Email,
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(h.tokenExpiry.Seconds()),
	})
}
