// Package provider adapts externally issued session tokens to the identity
// Provider port. Token issuance belongs to the identity provider; this
// adapter only validates.
package provider

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v5"

	"tradegate/internal/identity/models"
	"tradegate/pkg/domainerrors"
)

// Claims carried by the session token.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// JWTProvider validates HMAC-signed session tokens.
type JWTProvider struct {
	signingKey []byte
	issuer     string
}

func NewJWTProvider(signingKey string, issuer string) *JWTProvider {
	return &JWTProvider{
		signingKey: []byte(signingKey),
		issuer:     issuer,
	}
}

func (p *JWTProvider) Verify(_ context.Context, credential string) (*models.Claim, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}
	parsed, err := jwt.ParseWithClaims(credential, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return p.signingKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domainerrors.New(domainerrors.CodeUnauthorized, "token has expired")
		}
		return nil, domainerrors.New(domainerrors.CodeUnauthorized, "invalid token")
	}
	if !parsed.Valid {
		return nil, domainerrors.New(domainerrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return nil, domainerrors.New(domainerrors.CodeUnauthorized, "invalid token claims")
	}

	claim := &models.Claim{
		SubjectID: claims.Subject,
		Email:     claims.Email,
	}
	if claims.IssuedAt != nil {
		claim.IssuedAt = claims.IssuedAt.Time
	}
	return claim, nil
}
