package services

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// tokenAuthMiddleware guards mutating endpoints behind a single operator
// bearer token, compared against its bcrypt hash. An empty hash disables
// auth, which is only intended for tests.
func tokenAuthMiddleware(tokenHash []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		handler := func(w http.ResponseWriter, r *http.Request) {
			if len(tokenHash) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			if err := bcrypt.CompareHashAndPassword(tokenHash, []byte(token)); err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(handler)
	}
}
