package model

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Connection is the per-socket record (C1). The
// Registry is its sole owner; the Sender borrows a reference for the
// duration of a single write. All mutable fields are atomics so readers
// (telemetry, heartbeat) never need to take a lock to observe them.
type Connection struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	EstablishedAt time.Time
	Subprotocol   string

	// Socket is the underlying transport. Only the Sender package may call
	// its Write* methods; every other component treats it as opaque.
	Socket *websocket.Conn

	// writeMu serializes frame writes so at most one write is in flight,
	// matching gorilla/websocket's single-writer requirement.
	writeMu sync.Mutex

	state     atomic.Int32
	isClosing atomic.Bool

	lastPingSentUnixNano     atomic.Int64
	lastPongReceivedUnixNano atomic.Int64
	missedPongCount          atomic.Int32
	rttMillisSmoothed        atomic.Int64
	heartbeatSequence        atomic.Int64
	lastMissedSequence       atomic.Int64

	messagesSent     atomic.Uint64
	messagesReceived atomic.Uint64
	errorCount       atomic.Uint64
	bytesIn          atomic.Uint64
	bytesOut         atomic.Uint64

	closingEnteredAtUnixNano atomic.Int64
	zombieEnteredAtUnixNano  atomic.Int64

	preferredCodec atomic.Value // string, set once at handshake
}

// NewConnection constructs a record fresh out of the Handshake in the
// CONNECTING state. Callers must call TransitionTo(StateActive) once
// registration succeeds.
func NewConnection(userID uuid.UUID, subprotocol string, socket *websocket.Conn) *Connection {
	c := &Connection{
		ID:            uuid.New(),
		UserID:        userID,
		EstablishedAt: time.Now(),
		Subprotocol:   subprotocol,
		Socket:        socket,
	}
	c.state.Store(int32(StateConnecting))
	return c
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	return State(c.state.Load())
}

// TransitionTo performs the compare-and-swap:
// concurrent callers racing for the same edge produce exactly one winner;
// losers observe the state that won and no-op.
func (c *Connection) TransitionTo(to State) bool {
	for {
		from := State(c.state.Load())
		if from == to {
			return false
		}
		if !CanTransition(from, to) {
			return false
		}
		if c.state.CompareAndSwap(int32(from), int32(to)) {
			switch to {
			case StateDraining, StateClosing:
				c.isClosing.Store(true)
			}
			if to == StateClosing {
				c.closingEnteredAtUnixNano.Store(time.Now().UnixNano())
			}
			if to == StateZombie {
				c.zombieEnteredAtUnixNano.Store(time.Now().UnixNano())
			}
			return true
		}
		// Someone else won the CAS race; re-read and retry the predicate,
		// since our target edge might still be legal from the new state.
	}
}

// IsClosing mirrors CLOSING/DRAINING.
func (c *Connection) IsClosing() bool { return c.isClosing.Load() }

// IsGhost reports whether a connection looks abandoned: FAILED, or stuck
// in CLOSING for more than 60 seconds.
func (c *Connection) IsGhost() bool {
	s := c.State()
	if s == StateFailed {
		return true
	}
	if s == StateClosing {
		entered := c.closingEnteredAtUnixNano.Load()
		if entered != 0 && time.Since(time.Unix(0, entered)) > 60*time.Second {
			return true
		}
	}
	return false
}

// IsCleanupEligible reports whether a terminal, ghost, or grace-expired
// zombie connection is safe for the registry to drop. A ZOMBIE connection
// is only eligible once it has sat unresponsive for longer than
// zombieGrace past the detection that demoted it — the scheduled
// cleanup delay that follows the separate zombie-detection phase.
func (c *Connection) IsCleanupEligible(zombieGrace time.Duration) bool {
	s := c.State()
	if s == StateFailed || s == StateClosed {
		return true
	}
	if s == StateZombie {
		return c.ZombieGraceElapsed(zombieGrace)
	}
	return c.IsGhost()
}

// ZombieGraceElapsed reports whether grace has passed since this
// connection was demoted to ZOMBIE. A connection that never entered
// ZOMBIE (zero timestamp) is never grace-elapsed.
func (c *Connection) ZombieGraceElapsed(grace time.Duration) bool {
	entered := c.zombieEnteredAtUnixNano.Load()
	if entered == 0 {
		return false
	}
	return time.Since(time.Unix(0, entered)) > grace
}

// --- liveness bookkeeping (C6 heartbeat collaborator) ---

func (c *Connection) RecordPingSent(seq int64) {
	c.lastPingSentUnixNano.Store(time.Now().UnixNano())
	c.heartbeatSequence.Store(seq)
}

func (c *Connection) RecordPong() time.Duration {
	now := time.Now()
	c.lastPongReceivedUnixNano.Store(now.UnixNano())
	c.missedPongCount.Store(0)

	sent := c.lastPingSentUnixNano.Load()
	if sent == 0 {
		return 0
	}
	rtt := now.Sub(time.Unix(0, sent))
	c.updateSmoothedRTT(rtt)
	return rtt
}

func (c *Connection) updateSmoothedRTT(sample time.Duration) {
	const alpha = 0.3 // exponential smoothing weight for the new sample
	prev := c.rttMillisSmoothed.Load()
	sampleMs := sample.Milliseconds()
	if prev == 0 {
		c.rttMillisSmoothed.Store(sampleMs)
		return
	}
	smoothed := int64(float64(prev)*(1-alpha) + float64(sampleMs)*alpha)
	c.rttMillisSmoothed.Store(smoothed)
}

func (c *Connection) SmoothedRTT() time.Duration {
	return time.Duration(c.rttMillisSmoothed.Load()) * time.Millisecond
}

func (c *Connection) IncrementMissedPong() int32 {
	return c.missedPongCount.Add(1)
}

// CheckMissedPong reports whether the outstanding ping (the most recent
// one sent) has gone unanswered for longer than timeout, incrementing the
// missed-pong count exactly once per ping sequence. Calling it repeatedly
// for the same unanswered ping after the first positive report is a no-op.
func (c *Connection) CheckMissedPong(timeout time.Duration) bool {
	seq := c.heartbeatSequence.Load()
	if seq == 0 || seq == c.lastMissedSequence.Load() {
		return false
	}
	sentAt := c.lastPingSentUnixNano.Load()
	if sentAt == 0 {
		return false
	}
	if c.lastPongReceivedUnixNano.Load() >= sentAt {
		return false
	}
	if time.Since(time.Unix(0, sentAt)) <= timeout {
		return false
	}
	c.lastMissedSequence.Store(seq)
	c.missedPongCount.Add(1)
	return true
}

func (c *Connection) MissedPongCount() int32 { return c.missedPongCount.Load() }

func (c *Connection) LastPongReceived() time.Time {
	v := c.lastPongReceivedUnixNano.Load()
	if v == 0 {
		return c.EstablishedAt
	}
	return time.Unix(0, v)
}

// --- counters ---

func (c *Connection) IncMessagesSent()          { c.messagesSent.Add(1) }
func (c *Connection) IncMessagesReceived()      { c.messagesReceived.Add(1) }
func (c *Connection) IncErrorCount()            { c.errorCount.Add(1) }
func (c *Connection) AddBytesIn(n int)          { c.bytesIn.Add(uint64(n)) }
func (c *Connection) AddBytesOut(n int)         { c.bytesOut.Add(uint64(n)) }
func (c *Connection) MessagesSent() uint64      { return c.messagesSent.Load() }
func (c *Connection) MessagesReceived() uint64  { return c.messagesReceived.Load() }
func (c *Connection) ErrorCount() uint64        { return c.errorCount.Load() }
func (c *Connection) BytesIn() uint64           { return c.bytesIn.Load() }
func (c *Connection) BytesOut() uint64          { return c.bytesOut.Load() }

// SetPreferredCodec records the compression codec this connection's
// handshake negotiated, read back by the Sender (C8/C4) when an outbound
// envelope is large enough to need chunking.
func (c *Connection) SetPreferredCodec(name string) { c.preferredCodec.Store(name) }

// PreferredCodecName returns the negotiated codec name, or "" if the
// handshake negotiated none (the client sent no preference list).
func (c *Connection) PreferredCodecName() string {
	v, _ := c.preferredCodec.Load().(string)
	return v
}

// WriteJSON is the sole write path to the socket. It is exported only for
// the Sender package to call (internal/domain/sender); every other caller
// must route through the per-user queue instead of reaching the socket
// directly, preserving the "only the Sender writes frames" invariant.
func (c *Connection) WriteJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Socket.WriteJSON(v)
}

// Close closes the underlying transport. Idempotent-safe to call multiple
// times; gorilla/websocket tolerates repeated Close calls. A nil Socket
// (as in a reconnection-pending or test-constructed record) is a no-op.
func (c *Connection) Close(code int, reason string) error {
	if c.Socket == nil {
		return nil
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(2 * time.Second)
	_ = c.Socket.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	return c.Socket.Close()
}

// Snapshot captures a point-in-time copy of counters for the reconnection
// ledger (C10) and telemetry (C13).
type Snapshot struct {
	ConnectionID     uuid.UUID
	UserID           uuid.UUID
	EstablishedAt    time.Time
	MessagesSent     uint64
	MessagesReceived uint64
	ErrorCount       uint64
	BytesIn          uint64
	BytesOut         uint64
}

func (c *Connection) TakeSnapshot() Snapshot {
	return Snapshot{
		ConnectionID:     c.ID,
		UserID:           c.UserID,
		EstablishedAt:    c.EstablishedAt,
		MessagesSent:     c.MessagesSent(),
		MessagesReceived: c.MessagesReceived(),
		ErrorCount:       c.ErrorCount(),
		BytesIn:          c.BytesIn(),
		BytesOut:         c.BytesOut(),
	}
}

// Restore applies a prior snapshot's counters onto a freshly reconnected
// record, carrying over history.
func (c *Connection) Restore(s Snapshot) {
	c.messagesSent.Store(s.MessagesSent)
	c.messagesReceived.Store(s.MessagesReceived)
	c.errorCount.Store(s.ErrorCount)
	c.bytesIn.Store(s.BytesIn)
	c.bytesOut.Store(s.BytesOut)
}
