package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/netra-systems/ws-fabric/internal/domain/model"
)

// LocalJWTAuther is the built-in Auther: it verifies the token's HMAC
// signature and expiry itself rather than calling out to an external
// identity service. A deployment with its own auth backend supplies its
// own Auther instead and this type goes unused.
type LocalJWTAuther struct {
	secret []byte
}

func NewLocalJWTAuther(secret []byte) *LocalJWTAuther {
	return &LocalJWTAuther{secret: secret}
}

func (a *LocalJWTAuther) ValidateToken(_ context.Context, token string) (model.AuthResult, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return model.AuthResult{}, err
	}

	userID, _ := claims["user_id"].(string)
	if userID == "" {
		userID, _ = claims["sub"].(string)
	}
	if userID == "" {
		return model.AuthResult{}, fmt.Errorf("token missing user_id/sub claim")
	}

	result := model.AuthResult{
		Valid:  true,
		UserID: userID,
	}
	if email, ok := claims["email"].(string); ok {
		result.Email = email
	}
	if perms, ok := claims["permissions"].([]any); ok {
		for _, p := range perms {
			if s, ok := p.(string); ok {
				result.Permissions = append(result.Permissions, s)
			}
		}
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		result.ExpiresAt = exp.Time
	} else {
		result.ExpiresAt = time.Now().Add(time.Hour)
	}

	return result, nil
}

// NoopMessageHandler silently discards every message it receives. It is
// the default application/state-sync handler when a
// deployment has not yet wired a real one.
type NoopMessageHandler struct{}

func (NoopMessageHandler) HandleWebSocketMessage(context.Context, uuid.UUID, json.RawMessage) error {
	return nil
}
