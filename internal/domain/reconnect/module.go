package reconnect

import "go.uber.org/fx"

var Module = fx.Module("reconnect",
	fx.Provide(func(cfg Config) *Ledger { return New(cfg) }),
)
