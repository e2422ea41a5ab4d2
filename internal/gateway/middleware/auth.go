package middleware

import (
	"net/http"
	"strings"

	"canopy/internal/gateway/handlers"
)

// BearerAuth returns a middleware that rejects requests lacking a bearer
// token equal to token, unless enabled is false. Paths in exempt bypass the
// check entirely (used for /health-style probes).
func BearerAuth(enabled bool, token string, exempt ...string) func(http.Handler) http.Handler {
	exemptSet := make(map[string]bool, len(exempt))
	for _, p := range exempt {
		exemptSet[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled || exemptSet[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			if !tokenMatches(r, token) {
				handlers.SendError(w, http.StatusUnauthorized, handlers.ErrCodeUnauthorized, "missing or invalid bearer token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func tokenMatches(r *http.Request, want string) bool {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return false
	}
	return strings.TrimPrefix(auth, prefix) == want
}
