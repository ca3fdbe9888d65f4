// Package auth verifies the bearer tokens presented on the /chat handshake.
// Tokens are issued elsewhere; only verification lives here.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
	ErrUnknownUser  = errors.New("unknown user")
	ErrAuthDisabled = errors.New("jwt secret not configured")
)

type Claims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier checks an HS256 token and resolves its subject to a user.
type JWTVerifier struct {
	secret []byte
	users  core.UserFinder
}

func NewJWTVerifier(secret string, users core.UserFinder) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), users: users}
}

func (v *JWTVerifier) Verify(ctx context.Context, token string) (*domain.User, error) {
	if v == nil || len(v.secret) == 0 {
		return nil, ErrAuthDisabled
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}

	uid := domain.UserID(strings.TrimSpace(claims.Subject))
	user, err := v.users.FindUser(ctx, uid)
	if errors.Is(err, core.ErrNotFound) || (err == nil && user == nil) {
		return nil, ErrUnknownUser
	}
	if err != nil {
		return nil, fmt.Errorf("find user %s: %w", uid, err)
	}
	return user, nil
}

// Sign issues a token for uid. The server never hands tokens out; tests and
// the check-config command use it.
func Sign(secret string, uid domain.UserID, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", ErrAuthDisabled
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  string(uid),
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
