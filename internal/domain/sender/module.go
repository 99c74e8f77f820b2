package sender

import (
	"log/slog"

	"go.uber.org/fx"
)

type senderParams struct {
	fx.In

	Telemetry Telemetry `optional:"true"`
	Log       *slog.Logger
}

var Module = fx.Module("sender",
	fx.Provide(func(p senderParams) *Sender { return New(p.Telemetry, p.Log) }),
)
