package identity

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

type ownerContextKey struct{}

// Authenticator resolves the owner id behind a request.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// BearerAuthenticator authenticates Authorization: Bearer tokens with a
// JWKS-backed verifier.
type BearerAuthenticator struct {
	verifier *Verifier
}

// NewBearerAuthenticator wraps a verifier.
func NewBearerAuthenticator(v *Verifier) *BearerAuthenticator {
	return &BearerAuthenticator{verifier: v}
}

func (a *BearerAuthenticator) Authenticate(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", errors.New("missing bearer token")
	}
	return a.verifier.VerifySubject(strings.TrimSpace(token))
}

// HeaderAuthenticator trusts an X-User-Id header. Local development only;
// never deploy it behind a public listener.
type HeaderAuthenticator struct{}

func (HeaderAuthenticator) Authenticate(r *http.Request) (string, error) {
	owner := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if owner == "" {
		return "", errors.New("missing X-User-Id header")
	}
	return owner, nil
}

// ContextWithOwner stores the authenticated owner id in the context.
func ContextWithOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerContextKey{}, ownerID)
}

// OwnerFromContext returns the authenticated owner id, empty when the
// request did not pass authentication.
func OwnerFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	owner, _ := ctx.Value(ownerContextKey{}).(string)
	return owner
}
