package auth

import (
	"crypto/subtle"
	"net/http"
	"os"
	"strings"
)

// EnvToken names the environment variable Middleware reads the token from.
const EnvToken = "DEVSYNC_API_TOKEN"

// Middleware enforces the bearer token found in EnvToken.
func Middleware(next http.Handler) http.Handler {
	return New(os.Getenv(EnvToken))(next)
}

// New returns middleware requiring "Authorization: Bearer <token>" on every
// path except /healthz. An empty token rejects every request.
func New(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" {
				next.ServeHTTP(w, r)
				return
			}

			// Expect: Authorization: Bearer <token>
			authz := r.Header.Get("Authorization")
			if !strings.HasPrefix(authz, "Bearer ") {
				http.Error(w, "missing API token", http.StatusUnauthorized)
				return
			}

			got := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
			if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				http.Error(w, "invalid API token", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
