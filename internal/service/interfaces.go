package service

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/netra-systems/ws-fabric/internal/domain/model"
)

// Auther validates an opaque bearer token against the external identity
// collaborator. Manager neither implements nor uses it; the composition
// root wraps a caller-supplied Auther in a circuit breaker (see
// BreakerAuther) and hands the result to internal/handler/ws as its own
// Auther dependency.
type Auther interface {
	ValidateToken(ctx context.Context, token string) (model.AuthResult, error)
}

// MessageHandler is the external application-logic collaborator. The
// composition root hands it to internal/handler/ws; Manager.HandleIncoming
// also calls it for callers that drive their own read loop.
// A state-sync collaborator implements this same shape and is wired in
// separately for the {get_current_state, state_update,
// partial_state_update, client_state_update} family.
type MessageHandler interface {
	HandleWebSocketMessage(ctx context.Context, userID uuid.UUID, raw json.RawMessage) error
}

// SessionStore is the external persistence collaborator for the two
// pieces of state a restart would otherwise lose: the most recent
// shutdown ledger, and in-flight reconnection contexts. Both are
// best-effort; Manager logs a failed save and continues rather than
// blocking shutdown or a handshake on a persistence outage.
type SessionStore interface {
	SaveShutdownLedger(ctx context.Context, ledger model.ShutdownLedger) error
	SaveReconnectionContext(ctx context.Context, token string, rc model.ReconnectionContext) error
	LoadReconnectionContext(ctx context.Context, token string) (model.ReconnectionContext, bool, error)
}
