package shutdown

import (
	"log/slog"

	"github.com/netra-systems/ws-fabric/internal/domain/queue"
	"github.com/netra-systems/ws-fabric/internal/domain/registry"
	"go.uber.org/fx"
)

var Module = fx.Module("shutdown",
	fx.Provide(func(cfg Config, reg *registry.Registry, qm *queue.Manager, log *slog.Logger) *Coordinator {
		return New(cfg, reg, qm, log)
	}),
)
