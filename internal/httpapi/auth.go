package httpapi

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/ankittk/agentdeck/internal/auth"
)

type principalKey struct{}

// Principal is the authenticated caller of the views API.
type Principal struct {
	Subject string
	Roles   []string
	Source  string // "api_key" or "jwt"
}

// PrincipalFrom returns the caller stored by the auth middleware.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// authMiddleware accepts either the API key (X-API-Key or ?api_key=) or an HS256
// bearer token (Authorization or ?access_token=, for EventSource clients).
// Health, metrics and the static board are public.
func authMiddleware(apiKey, jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if path == "/health" || path == "/metrics" || (!strings.HasPrefix(path, BasePath+"/") && path != "/stream") {
				next.ServeHTTP(w, r)
				return
			}
			if path == BasePath+"/openapi.json" || strings.HasPrefix(path, BasePath+"/docs") {
				next.ServeHTTP(w, r)
				return
			}

			if apiKey != "" {
				key := r.Header.Get("X-API-Key")
				if key == "" {
					key = r.URL.Query().Get("api_key")
				}
				if key != "" && subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1 {
					ctx := context.WithValue(r.Context(), principalKey{}, Principal{Subject: "api_key", Source: "api_key"})
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			if jwtSecret != "" {
				token, ok := auth.BearerToken(r.Header.Get("Authorization"))
				if !ok {
					token = r.URL.Query().Get("access_token")
				}
				if token != "" {
					claims, err := auth.Verify(token, jwtSecret)
					if err != nil {
						writeJSONError(w, http.StatusUnauthorized, "invalid credentials")
						return
					}
					ctx := context.WithValue(r.Context(), principalKey{}, Principal{Subject: claims.Subject, Roles: claims.Roles, Source: "jwt"})
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			writeJSONError(w, http.StatusUnauthorized, "invalid or missing credentials")
		})
	}
}
