// Package unsubscribe issues and verifies signed one-click unsubscribe
// tokens. A token is base64url("email|expiryMillis|hex(HMAC-SHA256(email|expiryMillis)))").
package unsubscribe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultTTL is how long a token stays valid.
const DefaultTTL = 365 * 24 * time.Hour

var (
	ErrEmptySecret  = errors.New("unsubscribe: secret is required")
	ErrMalformed    = errors.New("unsubscribe: malformed token")
	ErrExpired      = errors.New("unsubscribe: token expired")
	ErrBadSignature = errors.New("unsubscribe: signature mismatch")
)

// Signer creates and checks tokens with a shared secret.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// Option configures a Signer.
type Option func(*Signer)

// WithTTL sets token lifetime. Non-positive values are ignored.
func WithTTL(d time.Duration) Option {
	return func(s *Signer) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) { s.now = now }
}

// NewSigner returns a Signer. An empty secret is a configuration error.
func NewSigner(secret string, opts ...Option) (*Signer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	s := &Signer{secret: []byte(secret), ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Token signs email with an expiry of now+TTL.
func (s *Signer) Token(email string) string {
	expiry := strconv.FormatInt(s.now().Add(s.ttl).UnixMilli(), 10)
	payload := email + "|" + expiry
	raw := payload + "|" + s.sign(payload)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// URL appends a fresh token for email to base as the "token" query parameter.
func (s *Signer) URL(base, email string) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "token=" + url.QueryEscape(s.Token(email))
}

// Verify returns the email a valid, unexpired token was issued for.
func (s *Signer) Verify(token string) (string, error) {
	raw, err := decode(token)
	if err != nil {
		return "", ErrMalformed
	}

	parts := strings.Split(string(raw), "|")
	if len(parts) != 3 || parts[0] == "" {
		return "", ErrMalformed
	}
	email, expiry, sig := parts[0], parts[1], parts[2]

	ms, err := strconv.ParseInt(expiry, 10, 64)
	if err != nil {
		return "", ErrMalformed
	}

	if !hmac.Equal([]byte(sig), []byte(s.sign(email+"|"+expiry))) {
		return "", ErrBadSignature
	}
	if s.now().After(time.UnixMilli(ms)) {
		return "", ErrExpired
	}
	return email, nil
}

func (s *Signer) sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// decode accepts padded and unpadded base64url.
func decode(token string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(token, "="))
}
