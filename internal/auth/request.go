package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/alfredjeanlab/cafestream/internal/model"
)

// SessionCookie is the cookie carrying a session token.
const SessionCookie = "session"

type contextKey struct{}

// TokenFromRequest returns the bearer token, session cookie, or token query
// parameter, in that order of preference. The query parameter exists for
// EventSource, which cannot set headers.
func TokenFromRequest(r *http.Request) string {
	if tok := ExtractBearerToken(r.Header.Get("Authorization")); tok != "" {
		return tok
	}
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("token")
}

// ExtractBearerToken returns the token from an Authorization header value, or
// "" if the header is not a bearer credential.
func ExtractBearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id *model.Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// IdentityFrom returns the identity in ctx, or nil.
func IdentityFrom(ctx context.Context) *model.Identity {
	id, _ := ctx.Value(contextKey{}).(*model.Identity)
	return id
}
