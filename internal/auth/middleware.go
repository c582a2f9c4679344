package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// ExtractAPIKey extracts the API key from the Authorization header.
// Expects "Bearer <api_key>" format.
func ExtractAPIKey(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("missing Authorization header")
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", errors.New("invalid Authorization header format, expected 'Bearer <api_key>'")
	}
	return parts[1], nil
}

// Middleware rejects requests whose bearer key the authorizer does not
// recognize. The health endpoint stays open for probes.
func Middleware(a Authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/api/health" {
				next.ServeHTTP(w, r)
				return
			}
			key, err := ExtractAPIKey(r)
			if err == nil {
				_, err = a.Authorize(r.Context(), key)
			}
			if err != nil {
				log.Warn().Str("remote", r.RemoteAddr).Str("path", r.URL.Path).
					Msg("request rejected by authorizer")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"Unauthorized","code":401}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
