package codec

import "go.uber.org/fx"

// Module provides the process-wide Reassembler as a singleton: the same
// instance tracks in-flight inbound transfers for internal/handler/ws's
// pump and is swept periodically by internal/service.Manager.RunSweepers.
var Module = fx.Module("codec",
	fx.Provide(func() *Reassembler { return NewReassembler(0) }),
)
