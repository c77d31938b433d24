package apikey

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/auth"
	"github.com/goccy/go-json"
)

// KeyValidator is satisfied by *Validator.
type KeyValidator interface {
	Validate(ctx context.Context, rawKey string) (*KeyInfo, error)
}

// Middleware authenticates requests that carry an API key and stores the
// resulting identity with auth.WithIdentity. Requests without a key pass
// through anonymously unless required is set; the handlers behind decide
// whether an identity is needed. Health and metrics paths are exempt.
func Middleware(v KeyValidator, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/health") || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			key := extractAPIKey(r)
			if key == "" {
				if required {
					writeError(w, http.StatusUnauthorized, "missing api key")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			info, err := v.Validate(r.Context(), key)
			switch {
			case errors.Is(err, ErrInvalidKey):
				writeError(w, http.StatusUnauthorized, "invalid api key")
				return
			case errors.Is(err, ErrExpiredKey):
				writeError(w, http.StatusUnauthorized, "expired api key")
				return
			case err != nil:
				writeError(w, http.StatusInternalServerError, "authentication error")
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), info.Identity())))
		})
	}
}

// extractAPIKey reads the key from Authorization: Bearer, then X-API-Key,
// then the api_key query parameter.
func extractAPIKey(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("api_key")
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":     "unauthorized",
		"message":   message,
		"retryable": false,
	})
}
