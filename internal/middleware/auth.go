package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/dukerupert/budgetbell/internal/auth"
)

// CronSecretHeader carries the shared scheduler secret.
const CronSecretHeader = "X-Cron-Secret"

// RequireUser validates the bearer token and populates the caller in the
// request context. Service tokens are not accepted here.
func RequireUser(resolver *auth.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := auth.BearerToken(r.Header.Get("Authorization"))
			if !ok {
				unauthorized(w)
				return
			}
			caller, err := resolver.Resolve(r.Context(), token)
			if err != nil || caller.Service || caller.UserID == 0 {
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithCaller(r.Context(), caller)))
		})
	}
}

// RequireService admits the scheduler: either a service-role bearer token
// or the shared cron secret header.
func RequireService(resolver *auth.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if resolver.CheckCronSecret(r.Header.Get(CronSecretHeader)) {
				ctx := auth.WithCaller(r.Context(), auth.Caller{Service: true})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			token, ok := auth.BearerToken(r.Header.Get("Authorization"))
			if !ok {
				unauthorized(w)
				return
			}
			caller, err := resolver.Resolve(r.Context(), token)
			if err != nil || !caller.Service {
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithCaller(r.Context(), caller)))
		})
	}
}

// QueryToken copies an access_token query parameter into the Authorization
// header. Browsers cannot set headers on websocket upgrades.
func QueryToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			if tok := r.URL.Query().Get("access_token"); tok != "" {
				r = r.Clone(r.Context())
				r.Header.Set("Authorization", "Bearer "+tok)
			}
		}
		next.ServeHTTP(w, r)
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
}
