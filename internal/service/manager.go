// Package service implements the top-level manager (C14): it composes
// the registry, queue, broadcaster, heartbeat, reconnect, shutdown, and
// telemetry components behind one facade and contains no I/O of its own
// beyond wiring them together and forwarding to the external
// collaborators (Auther, MessageHandler, SessionStore).
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/netra-systems/ws-fabric/internal/domain/broadcaster"
	"github.com/netra-systems/ws-fabric/internal/domain/heartbeat"
	"github.com/netra-systems/ws-fabric/internal/domain/model"
	"github.com/netra-systems/ws-fabric/internal/domain/queue"
	"github.com/netra-systems/ws-fabric/internal/domain/reconnect"
	"github.com/netra-systems/ws-fabric/internal/domain/registry"
	"github.com/netra-systems/ws-fabric/internal/domain/shutdown"
	"github.com/netra-systems/ws-fabric/internal/domain/telemetry"
)

// Sweeper is the large-message reassembler's expiry hook
// (internal/domain/codec.Reassembler.SweepExpired): declared locally so
// this package never imports codec directly, just the shape it sweeps.
type Sweeper interface {
	SweepExpired() []string
}

// Manager is the connection fabric's single entry point for code that
// does not speak directly to internal/handler/ws: admin surfaces,
// schedulers, and the out-of-process callers of connect/disconnect,
// broadcast, shutdown, and get_stats.
type Manager struct {
	reg   *registry.Registry
	queue *queue.Manager
	bcast *broadcaster.Broadcaster
	hb    *heartbeat.Supervisor
	rc    *reconnect.Ledger
	sd    *shutdown.Coordinator
	tel   *telemetry.Telemetry
	reasm Sweeper
	store SessionStore
	log   *slog.Logger
}

func NewManager(
	reg *registry.Registry,
	qm *queue.Manager,
	bcast *broadcaster.Broadcaster,
	hb *heartbeat.Supervisor,
	rc *reconnect.Ledger,
	sd *shutdown.Coordinator,
	tel *telemetry.Telemetry,
	reasm Sweeper,
	store SessionStore,
	log *slog.Logger,
) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{reg: reg, queue: qm, bcast: bcast, hb: hb, rc: rc, sd: sd, tel: tel, reasm: reasm, store: store, log: log}
}

// Connect registers a freshly handshaken connection and opens its
// per-connection queue, returning it so the caller's pump can enqueue
// and dequeue without a second lookup.
func (m *Manager) Connect(conn *model.Connection) *queue.Queue {
	m.reg.Register(conn)
	conn.TransitionTo(model.StateActive)
	m.tel.ConnectionOpened()
	return m.queue.GetOrCreate(conn)
}

// Disconnect tears down everything Connect set up: it removes conn's queue,
// unregisters it, and records the close in telemetry.
func (m *Manager) Disconnect(conn *model.Connection) {
	m.queue.Remove(conn.ID)
	m.reg.Unregister(conn)
	m.tel.ConnectionClosed()
}

// PrepareReconnect snapshots conn's counters under a fresh token and, if
// a SessionStore is wired, persists the context so another process
// could resume it.
func (m *Manager) PrepareReconnect(ctx context.Context, conn *model.Connection) string {
	token := m.rc.Prepare(conn)
	if m.store != nil {
		rctx := model.ReconnectionContext{
			Token:                token,
			UserID:               conn.UserID,
			OriginalConnectionID: conn.ID,
			Snapshot:             conn.TakeSnapshot(),
		}
		if err := m.store.SaveReconnectionContext(ctx, token, rctx); err != nil {
			m.log.Warn("failed to persist reconnection context", "token", token, "error", err)
		}
	}
	return token
}

// AttemptReconnect redeems token against newConn, restoring its prior
// counters.
func (m *Manager) AttemptReconnect(token string, newConn *model.Connection) (*model.ReconnectionContext, error) {
	return m.rc.Attempt(token, newConn)
}

// SendToUser enqueues (or direct-sends, for high-priority envelopes)
// env to every connection userID owns.
func (m *Manager) SendToUser(userID uuid.UUID, env model.OutboundEnvelope) broadcaster.Result {
	res := m.bcast.BroadcastUser(userID, env)
	m.recordBroadcast(res)
	return res
}

// BroadcastAll fans env out to every registered connection.
func (m *Manager) BroadcastAll(env model.OutboundEnvelope) broadcaster.Result {
	res := m.bcast.BroadcastAll(env)
	m.recordBroadcast(res)
	return res
}

// BroadcastRoom fans env out to roomID's members.
func (m *Manager) BroadcastRoom(roomID uuid.UUID, env model.OutboundEnvelope) broadcaster.Result {
	res := m.bcast.BroadcastRoom(roomID, env)
	m.recordBroadcast(res)
	return res
}

func (m *Manager) recordBroadcast(res broadcaster.Result) {
	for i := 0; i < res.Successful; i++ {
		m.tel.RecordBroadcastSuccess()
	}
	for i := 0; i < res.Failed; i++ {
		m.tel.RecordBroadcastFailure()
	}
}

// SendError delivers a structured, recoverable error envelope to userID.
func (m *Manager) SendError(userID uuid.UUID, errType, message string) {
	env := model.NewErrorEnvelope(errType, message, true)
	m.SendToUser(userID, model.NewOutboundEnvelope(env.Type, env.Payload))
}

// Log delivers a server-originated log line to userID's consoles, the
// way a sub-agent run's progress narration reaches the client.
func (m *Manager) Log(userID uuid.UUID, level, message string, fields map[string]any) {
	m.SendToUser(userID, model.NewOutboundEnvelope("log", map[string]any{
		"level":   level,
		"message": message,
		"fields":  fields,
	}))
}

// ToolCall notifies userID that a tool invocation has started.
func (m *Manager) ToolCall(userID uuid.UUID, toolName string, args map[string]any) {
	m.SendToUser(userID, model.NewOutboundEnvelope("tool_call", map[string]any{
		"tool": toolName,
		"args": args,
	}))
}

// ToolResult notifies userID of a completed tool invocation's result.
func (m *Manager) ToolResult(userID uuid.UUID, toolName string, result any) {
	m.SendToUser(userID, model.NewOutboundEnvelope("tool_result", map[string]any{
		"tool":   toolName,
		"result": result,
	}))
}

// SubAgentUpdate relays a sub-agent's progress payload to userID.
func (m *Manager) SubAgentUpdate(userID uuid.UUID, payload any) {
	m.SendToUser(userID, model.NewOutboundEnvelope("sub_agent_update", payload))
}

// HandleIncoming forwards a validated, non-state-sync inbound frame to
// handler, recording telemetry either way. It exists for callers that
// drive their own read loop instead of internal/handler/ws's pump.
func (m *Manager) HandleIncoming(ctx context.Context, handler MessageHandler, userID uuid.UUID, raw json.RawMessage) error {
	m.tel.RecordReceived()
	if handler == nil {
		return nil
	}
	if err := handler.HandleWebSocketMessage(ctx, userID, raw); err != nil {
		m.tel.RecordError()
		return err
	}
	return nil
}

// HandlePong records a liveness reply, sampling the observed RTT into
// telemetry when one is available.
func (m *Manager) HandlePong(conn *model.Connection) {
	rtt := m.hb.HandlePong(conn)
	if rtt > 0 {
		m.tel.SampleRTT(rtt)
	}
	m.tel.RecordHeartbeatReceived()
}

// Shutdown drives the five-phase coordinator, broadcasting a shutdown
// notice to every active connection via the broadcaster rather than a
// direct write, and persists the resulting ledger if a SessionStore is
// wired.
func (m *Manager) Shutdown(ctx context.Context, drainTimeoutSeconds int, callbacks []shutdown.Callback) (*model.ShutdownLedger, error) {
	notify := func(conn *model.Connection) {
		notice := model.NewShutdownNotice(drainTimeoutSeconds)
		env := model.NewOutboundEnvelope(notice.Type, notice)
		env.Priority = broadcaster.PriorityThreshold
		m.bcast.BroadcastUser(conn.UserID, env)
	}

	ledger, err := m.sd.Run(ctx, notify, callbacks)
	if err != nil {
		return nil, err
	}
	if m.store != nil {
		if saveErr := m.store.SaveShutdownLedger(ctx, *ledger); saveErr != nil {
			m.log.Warn("failed to persist shutdown ledger", "error", saveErr)
		}
	}
	return ledger, nil
}

// Stats aggregates telemetry, registry, and reconnection-ledger sizes
// for the get_stats surface.
type Stats struct {
	telemetry.Snapshot
	TotalUsers          int
	TotalRooms          int
	PendingReconnection int
}

// RunSweepers drives the registry's ghost sweep and the reconnection
// ledger's expiry sweep on a fixed interval until ctx is cancelled.
func (m *Manager) RunSweepers(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, conn := range m.reg.SweepGhosts() {
				m.queue.Remove(conn.ID)
				m.log.Debug("reaped ghost connection", "connection_id", conn.ID)
			}
			if n := m.rc.Sweep(); n > 0 {
				m.log.Debug("swept expired reconnection tokens", "count", n)
			}
			if m.reasm != nil {
				if expired := m.reasm.SweepExpired(); len(expired) > 0 {
					m.log.Debug("swept expired chunk transfers", "count", len(expired))
				}
			}
		}
	}
}

func (m *Manager) GetStats() Stats {
	regStats := m.reg.Stats()
	return Stats{
		Snapshot:            m.tel.Snapshot(),
		TotalUsers:          regStats.TotalUsers,
		TotalRooms:          regStats.TotalRooms,
		PendingReconnection: m.rc.Len(),
	}
}
