// Package ws implements the Handshake (C12) and the connection pump that
// bridges a negotiated socket into the domain packages: Registry,
// Validator, rate limiter, heartbeat, and the per-user send queue.
package ws

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/netra-systems/ws-fabric/internal/domain/codec"
	"github.com/netra-systems/ws-fabric/internal/domain/model"
)

const negotiatedSubprotocol = "jwt-auth"

// Auther validates an opaque bearer token against the external identity
// collaborator. internal/service wraps a concrete implementation with a
// circuit breaker; Handshake only depends on this interface.
type Auther interface {
	ValidateToken(ctx context.Context, token string) (model.AuthResult, error)
}

// LimitChecker reports whether a new connection for userID would exceed
// a configured cap, satisfied by *registry.Registry.
type LimitChecker interface {
	EnforceLimit(userID uuid.UUID) bool
}

// ShutdownGate reports whether new connections should currently be
// admitted, satisfied by *shutdown.Coordinator.
type ShutdownGate interface {
	AcceptingConnections() bool
}

// Handshake upgrades an HTTP request to a WebSocket connection after
// authenticating the caller and checking connection limits.
type Handshake struct {
	auther   Auther
	limits   LimitChecker
	gate     ShutdownGate
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewHandshake(auther Auther, limits LimitChecker, gate ShutdownGate, log *slog.Logger) *Handshake {
	if log == nil {
		log = slog.Default()
	}
	return &Handshake{
		auther: auther,
		limits: limits,
		gate:   gate,
		log:    log,
		upgrader: websocket.Upgrader{
			CheckOrigin:  func(r *http.Request) bool { return true },
			Subprotocols: []string{negotiatedSubprotocol},
		},
	}
}

// Accept authenticates r, checks connection limits and shutdown state,
// and on success upgrades the connection, returning a fresh CONNECTING
// Connection ready for Registry.Register. On failure it writes the
// appropriate HTTP/close response itself and returns a nil Connection.
func (h *Handshake) Accept(w http.ResponseWriter, r *http.Request) (*model.Connection, bool) {
	if !h.gate.AcceptingConnections() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return nil, false
	}

	token, err := extractToken(r)
	if err != nil {
		http.Error(w, "missing or malformed credentials", http.StatusUnauthorized)
		return nil, false
	}

	result, err := h.auther.ValidateToken(r.Context(), token)
	if err != nil || !result.Valid {
		h.log.Info("handshake auth rejected", "error", err)
		w.WriteHeader(http.StatusUnauthorized)
		return nil, false
	}

	userID, err := uuid.Parse(result.UserID)
	if err != nil {
		http.Error(w, "invalid user identity", http.StatusUnauthorized)
		return nil, false
	}

	if h.limits.EnforceLimit(userID) {
		http.Error(w, "connection limit reached", http.StatusTooManyRequests)
		return nil, false
	}

	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("ws upgrade failed", "error", err)
		return nil, false
	}

	conn := model.NewConnection(userID, negotiatedSubprotocol, socket)
	conn.SetPreferredCodec(string(codec.Negotiate(r.URL.Query()["codec"])))
	return conn, true
}

// extractToken implements the two accepted credential paths: an
// Authorization: Bearer header, or a subprotocol list carrying both the
// "jwt-auth" marker and a "jwt.<base64url(token)>" data element.
func extractToken(r *http.Request) (string, error) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if tok, ok := strings.CutPrefix(auth, "Bearer "); ok && tok != "" {
			return tok, nil
		}
	}

	protos := websocket.Subprotocols(r)
	if slices.Contains(protos, negotiatedSubprotocol) {
		for _, proto := range protos {
			if encoded, ok := strings.CutPrefix(proto, "jwt."); ok {
				return decodeSubprotocolToken(encoded)
			}
		}
	}

	return "", model.ErrAuthFailed
}

// decodeSubprotocolToken base64url-decodes a subprotocol-carried token,
// repadding as needed since some clients strip trailing '='.
func decodeSubprotocolToken(encoded string) (string, error) {
	if m := len(encoded) % 4; m != 0 {
		encoded += strings.Repeat("=", 4-m)
	}
	decoded, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return "", model.ErrAuthFailed
	}
	return string(decoded), nil
}

// ParseUnverifiedClaims is a convenience used by tests and diagnostics to
// inspect a JWT's claims without validating its signature; actual
// validation is delegated to the Auther collaborator.
func ParseUnverifiedClaims(token string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(token, claims)
	return claims, err
}
