package auth

import (
	"net/http"
	"strings"

	"github.com/medicore/hms/internal/platform/httpx"
	"github.com/medicore/hms/internal/shared"
)

// BearerToken returns the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Authenticate resolves the acting user from a bearer token or, failing
// that, from the session. A bearer token that does not verify is rejected
// outright rather than falling back to the session.
func Authenticate(tokens *TokenIssuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if raw, ok := BearerToken(r); ok {
				id, err := tokens.Parse(raw)
				if err != nil {
					httpx.RespondError(w, httpx.ErrUnauthorized)
					return
				}
				next.ServeHTTP(w, r.WithContext(shared.ContextWithUserID(ctx, id)))
				return
			}
			if sess := shared.SessionFromContext(ctx); sess != nil {
				if id, ok := sess.UserID(); ok {
					ctx = shared.ContextWithUserID(ctx, id)
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
