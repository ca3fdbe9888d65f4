package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

type users map[domain.UserID]string

func (u users) FindUser(_ context.Context, id domain.UserID) (*domain.User, error) {
	name, ok := u[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &domain.User{ID: id, Name: name}, nil
}

type brokenUsers struct{}

func (brokenUsers) FindUser(context.Context, domain.UserID) (*domain.User, error) {
	return nil, errors.New("db down")
}

const secret = "test-secret"

func TestVerify(t *testing.T) {
	v := NewJWTVerifier(secret, users{"u1": "Alice"})
	good, _ := Sign(secret, "u1", time.Minute)
	expired, _ := Sign(secret, "u1", -time.Minute)
	stranger, _ := Sign(secret, "u2", time.Minute)
	foreign, _ := Sign("other-secret", "u1", time.Minute)
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "u1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	noSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{}).SignedString([]byte(secret))

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"valid", good, nil},
		{"empty", "  ", ErrMissingToken},
		{"garbage", "abc.def.ghi", ErrInvalidToken},
		{"expired", expired, ErrInvalidToken},
		{"wrong secret", foreign, ErrInvalidToken},
		{"alg none", none, ErrInvalidToken},
		{"no subject", noSubject, ErrInvalidToken},
		{"unknown user", stranger, ErrUnknownUser},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := v.Verify(context.Background(), tt.token)
			if tt.want == nil {
				if err != nil || u == nil || u.ID != "u1" || u.Name != "Alice" {
					t.Fatalf("Verify = %+v, %v", u, err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestVerifyLookupFailure(t *testing.T) {
	v := NewJWTVerifier(secret, brokenUsers{})
	tok, _ := Sign(secret, "u1", time.Minute)
	_, err := v.Verify(context.Background(), tok)
	if err == nil || errors.Is(err, ErrUnknownUser) || errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want a lookup failure", err)
	}
}

func TestVerifyWithoutSecret(t *testing.T) {
	v := NewJWTVerifier("", users{})
	if _, err := v.Verify(context.Background(), "x"); !errors.Is(err, ErrAuthDisabled) {
		t.Fatalf("err = %v", err)
	}
	if _, err := Sign("", "u1", 0); !errors.Is(err, ErrAuthDisabled) {
		t.Fatalf("err = %v", err)
	}
}
