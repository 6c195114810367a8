package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/roboleague/collab/metrics"
)

type contextKey string

const identityContextKey contextKey = "identity"

// Middleware rejects requests without a valid bearer token and stores the
// identity in the request context.
func Middleware(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" {
				metrics.RecordAuthAttempt(false)
				sendAuthError(w, http.StatusUnauthorized, "missing authentication token")
				return
			}

			id, err := v.Verify(r.Context(), token)
			if err != nil {
				metrics.RecordAuthAttempt(false)
				sendAuthError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			metrics.RecordAuthAttempt(true)

			ctx := context.WithValue(r.Context(), identityContextKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FromContext returns the identity stored by Middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(Identity)
	return id, ok
}

func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func sendAuthError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{"error": message, "code": code})
}
