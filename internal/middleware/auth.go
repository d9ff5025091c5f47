package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// TokenValidator checks a bearer token and returns the authenticated
// username. The operator auth service satisfies it.
type TokenValidator interface {
	Validate(token string) (string, error)
}

type contextKey string

const usernameKey contextKey = "username"

// AuthMiddleware guards the operator routes with bearer-token sessions.
type AuthMiddleware struct {
	validator TokenValidator
}

// NewAuthMiddleware creates an authentication middleware around the given
// validator.
func NewAuthMiddleware(validator TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: validator}
}

// Handler returns the middleware handler. Requests without a valid
// "Bearer <token>" Authorization header receive 401.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			unauthorized(w, "missing authorization header")
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			unauthorized(w, "invalid authorization header")
			return
		}

		username, err := m.validator.Validate(parts[1])
		if err != nil {
			unauthorized(w, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), usernameKey, username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUsername returns the authenticated username, or "" outside an
// authenticated request.
func GetUsername(ctx context.Context) string {
	if v, ok := ctx.Value(usernameKey).(string); ok {
		return v
	}
	return ""
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
