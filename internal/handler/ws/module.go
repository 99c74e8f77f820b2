package ws

import (
	"log/slog"

	"github.com/netra-systems/ws-fabric/internal/domain/codec"
	"github.com/netra-systems/ws-fabric/internal/domain/queue"
	"github.com/netra-systems/ws-fabric/internal/domain/ratelimit"
	"github.com/netra-systems/ws-fabric/internal/domain/registry"
	"github.com/netra-systems/ws-fabric/internal/domain/validator"
	"go.uber.org/fx"
)

// serverParams disambiguates the two MessageHandler-shaped collaborators
// fx would otherwise see as one duplicate dependency: the application
// handler and the state-sync handler. Both are optional so the fabric
// still boots when the composition root wires only one, or neither (in
// which case the corresponding traffic is dropped silently).
type serverParams struct {
	fx.In

	Handshake *Handshake
	Registry  *registry.Registry
	Queues    *queue.Manager
	Limiter   *ratelimit.Limiter
	Validator *validator.Validator
	Handler   MessageHandler `optional:"true"`
	StateSync MessageHandler `name:"stateSync" optional:"true"`
	Pong      PongHandler    `optional:"true"`
	Reasm     *codec.Reassembler
	Log       *slog.Logger
}

var Module = fx.Module("ws",
	fx.Provide(NewHandshake),
	fx.Provide(func(p serverParams) *Server {
		return NewServer(p.Handshake, p.Registry, p.Queues, p.Limiter, p.Validator, p.Handler, p.StateSync, p.Pong, p.Reasm, p.Log)
	}),
)
