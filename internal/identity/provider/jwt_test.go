package provider_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradegate/internal/identity/provider"
	"tradegate/pkg/domainerrors"
)

const signingKey = "test-signing-key"

func mintToken(t *testing.T, key string, mutate func(*provider.Claims)) string {
	t.Helper()
	claims := provider.Claims{
		Email: "jordan@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "subj-1",
			Issuer:    "tradegate-idp",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	if mutate != nil {
		mutate(&claims)
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return token
}

func TestVerifyValidToken(t *testing.T) {
	p := provider.NewJWTProvider(signingKey, "tradegate-idp")

	claim, err := p.Verify(context.Background(), mintToken(t, signingKey, nil))
	require.NoError(t, err)
	assert.Equal(t, "subj-1", claim.SubjectID)
	assert.Equal(t, "jordan@example.com", claim.Email)
	assert.WithinDuration(t, time.Now(), claim.IssuedAt, time.Minute)
}

func TestVerifyRejections(t *testing.T) {
	p := provider.NewJWTProvider(signingKey, "tradegate-idp")

	cases := []struct {
		name  string
		token string
	}{
		{"wrong key", mintToken(t, "other-key", nil)},
		{"expired", mintToken(t, signingKey, func(c *provider.Claims) {
			c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
		})},
		{"wrong issuer", mintToken(t, signingKey, func(c *provider.Claims) {
			c.Issuer = "someone-else"
		})},
		{"missing subject", mintToken(t, signingKey, func(c *provider.Claims) {
			c.Subject = ""
		})},
		{"garbage", "not-a-token"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.Verify(context.Background(), tc.token)
			require.Error(t, err)
			assert.Equal(t, domainerrors.CodeUnauthorized, domainerrors.CodeOf(err))
		})
	}
}

func TestVerifyRejectsUnsignedToken(t *testing.T) {
	p := provider.NewJWTProvider(signingKey, "tradegate-idp")

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, provider.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "subj-1", Issuer: "tradegate-idp"},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = p.Verify(context.Background(), unsigned)
	require.Error(t, err)
	assert.Equal(t, domainerrors.CodeUnauthorized, domainerrors.CodeOf(err))
}
