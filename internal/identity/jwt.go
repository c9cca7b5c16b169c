package identity

import (
	"context"
	"errors"
	"time"

	"attendance.service/internal/core/model"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carries only the uid and contact fields. Role is never read from
// the token; it is resolved from the profile store on every scope check.
type Claims struct {
	UID         string `json:"uid"`
	DisplayName string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// GenerateToken signs an identity token, mainly for tooling and tests.
func GenerateToken(secret string, ident model.Identity, ttl time.Duration) (string, error) {
	claims := Claims{
		UID:         ident.UID,
		DisplayName: ident.DisplayName,
		Email:       ident.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken verifies a bearer token and extracts the caller identity.
func ParseToken(secret, tokenString string) (*model.Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.UID == "" {
		return nil, errors.New("token missing uid")
	}
	return &model.Identity{
		UID:         claims.UID,
		DisplayName: claims.DisplayName,
		Email:       claims.Email,
	}, nil
}

type contextKey struct{}

// WithIdentity attaches the authenticated caller to the request context.
func WithIdentity(ctx context.Context, ident model.Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, ident)
}

// FromContext retrieves the authenticated caller, if any.
func FromContext(ctx context.Context) (model.Identity, bool) {
	ident, ok := ctx.Value(contextKey{}).(model.Identity)
	return ident, ok
}
