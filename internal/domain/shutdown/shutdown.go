// Package shutdown implements the five-phase graceful shutdown
// coordinator (C11): stop accepting, notify, drain, stop heartbeat,
// force-close, each phase timed into a ShutdownLedger.
package shutdown

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/netra-systems/ws-fabric/internal/domain/model"
	"github.com/netra-systems/ws-fabric/internal/domain/queue"
	"github.com/netra-systems/ws-fabric/internal/domain/registry"
)

// Config tunes the drain window and the shutdown close code/reason sent
// to clients.
type Config struct {
	DrainTimeout time.Duration
	CloseCode    int
	CloseReason  string
}

func DefaultConfig() Config {
	return Config{DrainTimeout: 30 * time.Second, CloseCode: 1001, CloseReason: "Server shutdown"}
}

// CriticalCallbackError wraps a cleanup callback failure whose criticality
// demands the coordinator record it as a force-close rather than a quiet
// skip, mirroring how a critical callback failure escalates upstream.
type CriticalCallbackError struct {
	Name string
	Err  error
}

func (e *CriticalCallbackError) Error() string {
	return "critical shutdown callback " + e.Name + " failed: " + e.Err.Error()
}

func (e *CriticalCallbackError) Unwrap() error { return e.Err }

// Callback is a named cleanup action run during the force-close phase.
// Critical callbacks that fail are counted against ForceClosed even if
// the connection itself closed cleanly.
type Callback struct {
	Name     string
	Critical bool
	Run      func(ctx context.Context) error
}

// Coordinator drives the shutdown sequence exactly once; concurrent
// callers after the first observe ErrShutdownInProgress.
type Coordinator struct {
	cfg   Config
	reg   *registry.Registry
	queue *queue.Manager
	log   *slog.Logger

	inProgress atomic.Bool
	ledger     *model.ShutdownLedger
}

func New(cfg Config, reg *registry.Registry, qm *queue.Manager, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{cfg: cfg, reg: reg, queue: qm, log: log}
}

// AcceptingConnections reports whether the Handshake collaborator should
// admit new connections; it flips false as soon as Run begins.
func (c *Coordinator) AcceptingConnections() bool {
	return !c.inProgress.Load()
}

// Run executes the five phases in order and returns the completed ledger.
// notify is called once per ACTIVE connection during phase 2 so the
// caller's broadcaster can deliver the shutdown notice without this
// package importing it directly.
func (c *Coordinator) Run(ctx context.Context, notify func(conn *model.Connection), callbacks []Callback) (*model.ShutdownLedger, error) {
	if !c.inProgress.CompareAndSwap(false, true) {
		return nil, model.ErrShutdownInProgress
	}

	ledger := model.NewShutdownLedger()
	c.ledger = ledger

	// Phase 1: stop accepting new connections.
	ledger.EnterPhase(model.PhaseStopAccepting)

	all := c.reg.SnapshotAll()
	ledger.TotalConnections = len(all)

	// Phase 2: notify clients and move them to DRAINING.
	ledger.EnterPhase(model.PhaseNotifyClients)
	for _, conn := range all {
		if conn.State() != model.StateActive {
			continue
		}
		if notify != nil {
			notify(conn)
		}
		conn.TransitionTo(model.StateDraining)
	}

	// Phase 3: drain pending queues up to the configured timeout, advancing
	// early if everything quiesces sooner.
	ledger.EnterPhase(model.PhaseDrain)
	drainCtx, cancel := context.WithTimeout(ctx, c.cfg.DrainTimeout)
	drain := c.queue.DrainAll(c.cfg.DrainTimeout)
	cancel()
	_ = drainCtx
	ledger.MessagesPreserved = drain.MessagesPreserved
	ledger.MessagesLost = drain.MessagesLost

	// Phase 4: heartbeat stop is the caller's responsibility (it owns the
	// supervisor's context); this phase exists so the ledger records its
	// own slice of wall-clock time for the metric breakdown.
	ledger.EnterPhase(model.PhaseHeartbeatStop)

	// Phase 5: force-close whatever remains, then run cleanup callbacks.
	ledger.EnterPhase(model.PhaseForceClose)
	stuckSet := make(map[string]bool, len(drain.Stuck))
	for _, id := range drain.Stuck {
		stuckSet[id.String()] = true
	}
	for _, conn := range all {
		if conn.State() == model.StateClosed {
			continue
		}
		if stuckSet[conn.ID.String()] {
			ledger.ForceClosed++
		} else {
			ledger.GracefullyClosed++
		}
		conn.TransitionTo(model.StateClosing)
		conn.Close(c.cfg.CloseCode, c.cfg.CloseReason)
		conn.TransitionTo(model.StateClosed)
		c.queue.Remove(conn.ID)
		c.reg.Unregister(conn)
	}

	for _, cb := range callbacks {
		if err := c.runCallback(ctx, cb); err != nil {
			ledger.CallbackFailures++
			if cb.Critical {
				ledger.ForceClosed++
				c.log.Error("critical shutdown callback failed", "callback", cb.Name, "error", err)
			} else {
				c.log.Warn("shutdown callback failed", "callback", cb.Name, "error", err)
			}
		}
	}

	ledger.EnterPhase(model.PhaseComplete)
	ledger.Success = ledger.Reconciled() && ledger.CallbackFailures == 0

	return ledger, nil
}

func (c *Coordinator) runCallback(ctx context.Context, cb Callback) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &CriticalCallbackError{Name: cb.Name, Err: recoveredAsError(r)}
		}
	}()
	if runErr := cb.Run(ctx); runErr != nil {
		if cb.Critical {
			return &CriticalCallbackError{Name: cb.Name, Err: runErr}
		}
		return runErr
	}
	return nil
}

func recoveredAsError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &panicValue{r}
}

type panicValue struct{ v any }

func (p *panicValue) Error() string {
	if s, ok := p.v.(string); ok {
		return s
	}
	return "panic during shutdown callback"
}

// Ledger returns the ledger from the most recent (or in-flight) run, or
// nil if Run has not been called yet.
func (c *Coordinator) Ledger() *model.ShutdownLedger { return c.ledger }
