// Package auth decides who may operate sends. Identity itself lives with an
// external provider; this package only validates bearer credentials and
// carries the resulting principal through the request context.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnauthenticated = errors.New("auth: missing or invalid credentials")
	ErrForbidden       = errors.New("auth: admin access required")
	ErrNoTokens        = errors.New("auth: no admin tokens configured")
)

// Principal is an authenticated caller.
type Principal struct {
	ID    string
	Admin bool
}

// Authenticator validates a bearer credential.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (Principal, error)
}

type token struct {
	principal string
	secret    []byte
}

// StaticTokens authenticates against a fixed set of admin tokens.
type StaticTokens struct {
	tokens []token
}

// ParseStaticTokens builds StaticTokens from "principal:token" entries. An
// entry without a principal is named admin-<n>.
func ParseStaticTokens(entries []string) (*StaticTokens, error) {
	st := &StaticTokens{}
	for i, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		id, secret, ok := strings.Cut(e, ":")
		if !ok {
			id, secret = fmt.Sprintf("admin-%d", i+1), e
		}
		if secret == "" {
			return nil, fmt.Errorf("auth: empty token for %q", id)
		}
		st.tokens = append(st.tokens, token{principal: id, secret: []byte(secret)})
	}
	if len(st.tokens) == 0 {
		return nil, ErrNoTokens
	}
	return st, nil
}

// Authenticate compares credential with every configured token in constant
// time.
func (s *StaticTokens) Authenticate(_ context.Context, credential string) (Principal, error) {
	if credential == "" {
		return Principal{}, ErrUnauthenticated
	}
	var (
		match Principal
		found bool
	)
	for _, t := range s.tokens {
		if subtle.ConstantTimeCompare(t.secret, []byte(credential)) == 1 && !found {
			match, found = Principal{ID: t.principal, Admin: true}, true
		}
	}
	if !found {
		return Principal{}, ErrUnauthenticated
	}
	return match, nil
}

// BearerToken extracts the credential from an Authorization header value.
func BearerToken(header string) string {
	scheme, cred, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(cred)
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored by WithPrincipal.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
