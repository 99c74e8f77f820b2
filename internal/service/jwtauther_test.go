package service

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return signed
}

func TestLocalJWTAutherValidatesWellFormedToken(t *testing.T) {
	secret := []byte("test-secret")
	auther := NewLocalJWTAuther(secret)

	token := signToken(t, secret, jwt.MapClaims{
		"user_id":     "11111111-1111-1111-1111-111111111111",
		"email":       "user@example.com",
		"permissions": []any{"read", "write"},
		"exp":         time.Now().Add(time.Hour).Unix(),
	})

	result, err := auther.ValidateToken(context.Background(), token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected a valid result")
	}
	if result.Email != "user@example.com" {
		t.Fatalf("expected email to round-trip, got %q", result.Email)
	}
	if len(result.Permissions) != 2 {
		t.Fatalf("expected two permissions, got %v", result.Permissions)
	}
}

func TestLocalJWTAutherRejectsWrongSecret(t *testing.T) {
	auther := NewLocalJWTAuther([]byte("right-secret"))
	token := signToken(t, []byte("wrong-secret"), jwt.MapClaims{"user_id": "x"})

	if _, err := auther.ValidateToken(context.Background(), token); err == nil {
		t.Fatalf("expected validation to fail for a token signed with a different secret")
	}
}

func TestLocalJWTAutherRejectsMissingUserID(t *testing.T) {
	secret := []byte("test-secret")
	auther := NewLocalJWTAuther(secret)
	token := signToken(t, secret, jwt.MapClaims{"email": "user@example.com"})

	if _, err := auther.ValidateToken(context.Background(), token); err == nil {
		t.Fatalf("expected validation to fail for a token missing user_id/sub")
	}
}
