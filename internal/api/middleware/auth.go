package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/petcare-market/maintenance-gate/internal/auth"
	"github.com/petcare-market/maintenance-gate/internal/domain"
)

type contextKey string

const APIKeyContextKey contextKey = "api_key"

// Auth requires a Bearer API key on every request.
func Auth(store auth.KeyStore, bootstrapKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, `{"code":401,"message":"missing authorization header"}`, http.StatusUnauthorized)
				return
			}

			presented, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				http.Error(w, `{"code":401,"message":"invalid authorization header format"}`, http.StatusUnauthorized)
				return
			}
			if presented == "" {
				http.Error(w, `{"code":401,"message":"empty API key"}`, http.StatusUnauthorized)
				return
			}

			key, err := auth.VerifyAPIKey(r.Context(), store, bootstrapKey, presented)
			if err != nil {
				if errors.Is(err, domain.ErrUnauthorized) {
					http.Error(w, `{"code":401,"message":"invalid API key"}`, http.StatusUnauthorized)
					return
				}
				log.Error("API key verification failed", "error", err)
				http.Error(w, `{"code":500,"message":"internal server error"}`, http.StatusInternalServerError)
				return
			}

			ctx := context.WithValue(r.Context(), APIKeyContextKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAPIKeyFromContext retrieves the API key from the request context.
func GetAPIKeyFromContext(ctx context.Context) *domain.APIKey {
	key, _ := ctx.Value(APIKeyContextKey).(*domain.APIKey)
	return key
}

// Actor names the caller for audit fields such as decidedBy.
func Actor(ctx context.Context) string {
	if key := GetAPIKeyFromContext(ctx); key != nil {
		return "api:" + key.Name
	}
	return ""
}
