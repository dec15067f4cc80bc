package auth

import (
	"context"
	"fmt"
	"net/http"
)

// ContextKey is the key type for context values.
type ContextKey string

// UserContextKey is the context key for the authenticated identity.
const UserContextKey ContextKey = "user"

// Middleware provides HTTP authentication middleware.
type Middleware struct {
	jwtManager *JWTManager
}

// NewMiddleware creates the authentication middleware.
func NewMiddleware(jwtManager *JWTManager) *Middleware {
	return &Middleware{jwtManager: jwtManager}
}

// HTTPMiddleware requires a valid bearer token and attaches the resulting
// UserContext to the request context.
func (m *Middleware) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			unauthorized(w, "authorization required")
			return
		}

		token, err := ExtractBearerToken(authHeader)
		if err != nil {
			unauthorized(w, "invalid authorization header")
			return
		}

		userCtx, err := m.jwtManager.Validate(token)
		if err != nil {
			unauthorized(w, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, userCtx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserContext extracts the authenticated identity from a request context.
func GetUserContext(ctx context.Context) (*UserContext, error) {
	userCtx, ok := ctx.Value(UserContextKey).(*UserContext)
	if !ok {
		return nil, fmt.Errorf("missing user context")
	}
	return userCtx, nil
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `{"error":%q}`, msg)
}
