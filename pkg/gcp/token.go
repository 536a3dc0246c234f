// Package gcp holds the minimal plumbing shared by Google Cloud REST
// adapters (Document AI, DLP).
package gcp

import (
	"context"
	"fmt"
	"strings"
)

// TokenProvider supplies a bearer token for Google Cloud REST calls.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenProvider returns a fixed token minted out-of-band, e.g. by the
// deployment environment or a sidecar.
type StaticTokenProvider string

func (s StaticTokenProvider) Token(context.Context) (string, error) {
	token := strings.TrimSpace(string(s))
	if token == "" {
		return "", fmt.Errorf("access token not configured")
	}
	return token, nil
}
