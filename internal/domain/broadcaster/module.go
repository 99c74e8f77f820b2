package broadcaster

import (
	"log/slog"

	"github.com/netra-systems/ws-fabric/internal/domain/queue"
	"github.com/netra-systems/ws-fabric/internal/domain/registry"
	"github.com/netra-systems/ws-fabric/internal/domain/sender"
	"go.uber.org/fx"
)

var Module = fx.Module("broadcaster",
	fx.Provide(func(reg *registry.Registry, qm *queue.Manager, snd *sender.Sender, log *slog.Logger) *Broadcaster {
		return New(reg, qm, snd, log)
	}),
)
