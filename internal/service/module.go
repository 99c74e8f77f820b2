package service

import (
	"log/slog"

	"github.com/netra-systems/ws-fabric/internal/domain/broadcaster"
	"github.com/netra-systems/ws-fabric/internal/domain/codec"
	"github.com/netra-systems/ws-fabric/internal/domain/heartbeat"
	"github.com/netra-systems/ws-fabric/internal/domain/queue"
	"github.com/netra-systems/ws-fabric/internal/domain/reconnect"
	"github.com/netra-systems/ws-fabric/internal/domain/registry"
	"github.com/netra-systems/ws-fabric/internal/domain/shutdown"
	"github.com/netra-systems/ws-fabric/internal/domain/telemetry"
	"go.uber.org/fx"
)

// managerParams makes the SessionStore collaborator optional: a consumer
// that has no persistence backend yet still gets a working Manager, just
// one that logs and continues instead of saving ledgers/reconnection
// contexts.
type managerParams struct {
	fx.In

	Registry    *registry.Registry
	Queue       *queue.Manager
	Broadcaster *broadcaster.Broadcaster
	Heartbeat   *heartbeat.Supervisor
	Reconnect   *reconnect.Ledger
	Shutdown    *shutdown.Coordinator
	Telemetry   *telemetry.Telemetry
	Reasm       *codec.Reassembler
	Store       SessionStore `optional:"true"`
	Log         *slog.Logger
}

var Module = fx.Module("service",
	fx.Provide(func(p managerParams) *Manager {
		return NewManager(p.Registry, p.Queue, p.Broadcaster, p.Heartbeat, p.Reconnect, p.Shutdown, p.Telemetry, p.Reasm, p.Store, p.Log)
	}),
)
