package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func sign(t *testing.T, key string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return s
}

func TestBearerToken(t *testing.T) {
	tok, err := BearerToken("Bearer abc.def")
	require.NoError(t, err)
	assert.Equal(t, "abc.def", tok)

	tok, err = BearerToken("bearer xyz")
	require.NoError(t, err)
	assert.Equal(t, "xyz", tok)

	for _, h := range []string{"", "Bearer ", "Basic abc", "abc"} {
		_, err := BearerToken(h)
		assert.ErrorIs(t, err, ErrMissingToken, "header %q", h)
	}
}

func TestJWTIdentity(t *testing.T) {
	p := NewJWTIdentity(secret)
	exp := time.Now().Add(time.Hour).Unix()

	user, err := p.Authenticate(context.Background(), sign(t, secret, jwt.MapClaims{"sub": "u1", "exp": exp}))
	require.NoError(t, err)
	assert.Equal(t, "u1", user)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"wrong key", sign(t, "other", jwt.MapClaims{"sub": "u1", "exp": exp})},
		{"expired", sign(t, secret, jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(-time.Minute).Unix()})},
		{"no exp", sign(t, secret, jwt.MapClaims{"sub": "u1"})},
		{"no subject", sign(t, secret, jwt.MapClaims{"exp": exp})},
		{"garbage", "not-a-jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Authenticate(context.Background(), tt.token)
			assert.Error(t, err)
		})
	}
}

func TestJWTIdentity_RejectsOtherAlgorithms(t *testing.T) {
	p := NewJWTIdentity(secret)
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	_, err = p.Authenticate(context.Background(), tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTAttestor(t *testing.T) {
	a := NewJWTAttestor(secret, "score-verifier")
	exp := time.Now().Add(5 * time.Minute).Unix()
	good := jwt.MapClaims{"sub": "u1", "aud": "score-verifier", "verdict": VerdictTrusted, "exp": exp}

	require.NoError(t, a.Attest(context.Background(), sign(t, secret, good), "u1"))

	assert.ErrorIs(t, a.Attest(context.Background(), "", "u1"), ErrMissingToken)
	assert.ErrorIs(t, a.Attest(context.Background(), sign(t, secret, good), "u2"), ErrSubjectMismatch)

	tampered := jwt.MapClaims{"sub": "u1", "aud": "score-verifier", "verdict": "modified_binary", "exp": exp}
	assert.ErrorIs(t, a.Attest(context.Background(), sign(t, secret, tampered), "u1"), ErrUntrusted)

	wrongAud := jwt.MapClaims{"sub": "u1", "aud": "other", "verdict": VerdictTrusted, "exp": exp}
	assert.ErrorIs(t, a.Attest(context.Background(), sign(t, secret, wrongAud), "u1"), ErrInvalidToken)
}

func TestJWTAttestor_ClockControlsExpiry(t *testing.T) {
	a := NewJWTAttestor(secret, "")
	issued := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tok := sign(t, secret, jwt.MapClaims{"sub": "u1", "verdict": VerdictTrusted, "exp": issued.Add(time.Minute).Unix()})

	a.now = func() time.Time { return issued }
	assert.NoError(t, a.Attest(context.Background(), tok, "u1"))

	a.now = func() time.Time { return issued.Add(2 * time.Minute) }
	assert.ErrorIs(t, a.Attest(context.Background(), tok, "u1"), ErrInvalidToken)
}

func TestNoopAttestor(t *testing.T) {
	assert.NoError(t, NoopAttestor{}.Attest(context.Background(), "", "anyone"))
}
