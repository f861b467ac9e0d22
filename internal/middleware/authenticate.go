package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pulsegram/backend/internal/auth"
	"github.com/pulsegram/backend/internal/logging"
)

// TokenVerifier resolves an access token to the account it was issued to.
type TokenVerifier interface {
	Verify(accessToken string) (string, error)
}

// Authenticate requires a valid bearer token and stores the account on the
// request context. A nil verifier lets every request through untouched.
func Authenticate(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if verifier == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			accountID, err := verifier.Verify(token)
			if err != nil {
				logging.FromContext(r.Context()).Warn("rejected access token", "error", err)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("WWW-Authenticate", `Bearer realm="pulsegram"`)
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "authentication required"})
				return
			}

			ctx := auth.WithAccountID(r.Context(), accountID)
			ctx = logging.With(ctx, "account_id", accountID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the access token from the Authorization header or,
// for websocket upgrades that cannot set headers, the token query parameter.
func BearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
