package ratelimit

import "go.uber.org/fx"

var Module = fx.Module("ratelimit",
	fx.Provide(func(cfg Config) *Limiter { return New(cfg) }),
)
