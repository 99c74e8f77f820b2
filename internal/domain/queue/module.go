package queue

import (
	"log/slog"

	"github.com/netra-systems/ws-fabric/internal/domain/sender"
	"go.uber.org/fx"
)

var Module = fx.Module("queue",
	fx.Provide(func(cfg Config, snd *sender.Sender, log *slog.Logger) *Manager {
		return NewManager(cfg, snd, log)
	}),
)
