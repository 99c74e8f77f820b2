package registry

import "go.uber.org/fx"

// Module wires the Registry into the composition root the way the
// teacher wires its Hub: it provides the concrete *Registry, built from
// the []Option the composition root supplies.
var Module = fx.Module("registry",
	fx.Provide(func(opts []Option) *Registry { return New(opts...) }),
)
