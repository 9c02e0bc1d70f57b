package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers every verification failure; callers map it to 401.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the token payload issued by the identity service.
type Claims struct {
	UserID int `json:"user_id"`
	jwt.RegisteredClaims
}

// Verifier checks bearer tokens and resolves the authenticated user id.
type Verifier interface {
	ValidateToken(ctx context.Context, token string) (int, error)
}

// JWTVerifier validates HMAC-signed tokens locally. Issuance stays with the
// identity service; this side only verifies.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier constructs a JWTVerifier for the shared secret.
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) ValidateToken(_ context.Context, tokenStr string) (int, error) {
	if tokenStr == "" {
		return 0, ErrInvalidToken
	}
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return 0, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.UserID <= 0 {
		return 0, ErrInvalidToken
	}
	return claims.UserID, nil
}
