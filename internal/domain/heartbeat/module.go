package heartbeat

import (
	"log/slog"

	"github.com/netra-systems/ws-fabric/internal/domain/registry"
	"go.uber.org/fx"
)

type supervisorParams struct {
	fx.In

	Config   Config
	Registry *registry.Registry
	Telemetry Telemetry `optional:"true"`
	Log      *slog.Logger
}

var Module = fx.Module("heartbeat",
	fx.Provide(func(p supervisorParams) *Supervisor {
		return New(p.Config, p.Registry, p.Telemetry, p.Log)
	}),
)
