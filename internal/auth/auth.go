// Package auth consumes the external identity and integrity-attestation
// providers. Both arrive as HS256 JWTs; only their verification lives here.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken    = errors.New("auth: missing token")
	ErrInvalidToken    = errors.New("auth: invalid token")
	ErrSubjectMismatch = errors.New("auth: attestation subject does not match caller")
	ErrUntrusted       = errors.New("auth: attestation verdict rejected")
)

// VerdictTrusted is the only attestation verdict that is accepted.
const VerdictTrusted = "trusted"

// IdentityProvider resolves a bearer token to a stable user id.
type IdentityProvider interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// Attestor accepts or rejects a caller's integrity token.
type Attestor interface {
	Attest(ctx context.Context, token, userID string) error
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(header[len(prefix):]), nil
}

// JWTIdentity verifies identity tokens signed with a shared secret. The user
// id is the token subject.
type JWTIdentity struct {
	secret []byte
	now    func() time.Time
}

// NewJWTIdentity creates an identity provider for HS256 tokens.
func NewJWTIdentity(secret string) *JWTIdentity {
	return &JWTIdentity{secret: []byte(secret), now: time.Now}
}

// Authenticate returns the subject of a valid, unexpired token.
func (p *JWTIdentity) Authenticate(_ context.Context, token string) (string, error) {
	claims, err := parse(token, p.secret, p.now)
	if err != nil {
		return "", err
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return sub, nil
}

// JWTAttestor verifies attestation tokens minted by the integrity provider.
// A token is accepted when it is unexpired, addressed to audience (if set),
// issued for the caller and carries the trusted verdict.
type JWTAttestor struct {
	secret   []byte
	audience string
	now      func() time.Time
}

// NewJWTAttestor creates an attestor for HS256 tokens.
func NewJWTAttestor(secret, audience string) *JWTAttestor {
	return &JWTAttestor{secret: []byte(secret), audience: audience, now: time.Now}
}

// Attest checks token against userID.
func (a *JWTAttestor) Attest(_ context.Context, token, userID string) error {
	if token == "" {
		return ErrMissingToken
	}
	var opts []jwt.ParserOption
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}
	claims, err := parse(token, a.secret, a.now, opts...)
	if err != nil {
		return err
	}
	if sub, _ := claims.GetSubject(); sub != userID {
		return ErrSubjectMismatch
	}
	if verdict, _ := claims["verdict"].(string); verdict != VerdictTrusted {
		return fmt.Errorf("%w: %q", ErrUntrusted, verdict)
	}
	return nil
}

// NoopAttestor accepts every token. It is used when attestation is disabled
// for local development.
type NoopAttestor struct{}

func (NoopAttestor) Attest(context.Context, string, string) error { return nil }

func parse(token string, secret []byte, now func() time.Time, opts ...jwt.ParserOption) (jwt.MapClaims, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	opts = append(opts,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(now),
	)
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	// Tokens without an expiry are never accepted.
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, fmt.Errorf("%w: missing exp", ErrInvalidToken)
	}
	return claims, nil
}
