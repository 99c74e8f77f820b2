// Package sender implements the single-writer gate (C8): it is the only
// component permitted to call Connection.WriteJSON, classifies every
// write error, and applies the matching state transition.
package sender

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/netra-systems/ws-fabric/internal/domain/codec"
	"github.com/netra-systems/ws-fabric/internal/domain/model"
)

// ChunkThreshold is the serialized payload size above which Send splits an
// envelope into chunk frames (C4) instead of writing it whole.
const ChunkThreshold = 32 * 1024

// Telemetry is the optional metrics collaborator (C13) the sender reports
// every write attempt's outcome to. Declared locally, structural, so this
// package never imports internal/domain/telemetry directly.
type Telemetry interface {
	RecordSent()
	RecordError()
}

// Sender gates writes to a connection's socket, refusing to send once a
// connection has entered a closing state and never holding a lock across
// the write itself.
type Sender struct {
	tel Telemetry
	log *slog.Logger
}

// New constructs a Sender. tel may be nil, in which case write outcomes
// are simply not recorded.
func New(tel Telemetry, log *slog.Logger) *Sender {
	if log == nil {
		log = slog.Default()
	}
	return &Sender{tel: tel, log: log}
}

// Send writes v to conn unless the connection is already closing. The
// payload is expected to already be sanitized; Sender does not mutate it.
// Envelopes that marshal past ChunkThreshold are compressed and split into
// chunk frames, negotiated against the codecs conn's handshake advertised.
// The returned ErrorKind lets a caller (typically the per-user queue)
// decide whether to revert a transactional send slot back to retry.
func (s *Sender) Send(conn *model.Connection, v any) (model.ErrorKind, error) {
	if conn.IsClosing() {
		return model.ErrorKindConnectionClosed, model.ErrConnectionClosing
	}

	env, ok := v.(model.OutboundEnvelope)
	if !ok {
		return s.write(conn, v)
	}

	raw, err := json.Marshal(env)
	if err != nil {
		s.log.Error("failed to marshal outbound envelope", "connection_id", conn.ID, "error", err)
		return model.ErrorKindUnexpected, err
	}
	if len(raw) <= ChunkThreshold {
		return s.write(conn, env)
	}

	preferred := codec.Name(conn.PreferredCodecName())
	if preferred == "" {
		preferred = codec.None
	}
	chunks, err := codec.Encode(env.Type, raw, preferred, codec.DefaultChunkSize)
	if err != nil {
		s.log.Error("failed to chunk oversized envelope", "connection_id", conn.ID, "error", err)
		return model.ErrorKindUnexpected, err
	}
	for _, ch := range chunks {
		if kind, err := s.write(conn, ch); err != nil {
			return kind, err
		}
	}
	return model.ErrorKindBenignCloseRace, nil
}

func (s *Sender) write(conn *model.Connection, v any) (model.ErrorKind, error) {
	err := conn.WriteJSON(v)
	if err == nil {
		conn.IncMessagesSent()
		if s.tel != nil {
			s.tel.RecordSent()
		}
		return model.ErrorKindBenignCloseRace, nil
	}

	kind := Classify(err)
	s.applyTransition(conn, kind)
	conn.IncErrorCount()
	if s.tel != nil {
		s.tel.RecordError()
	}
	return kind, err
}

func (s *Sender) applyTransition(conn *model.Connection, kind model.ErrorKind) {
	switch kind {
	case model.ErrorKindBenignCloseRace:
		s.log.Debug("benign close race on write", "connection_id", conn.ID)
		conn.TransitionTo(model.StateClosing)
	case model.ErrorKindConnectionClosed:
		s.log.Debug("write to already-closed connection", "connection_id", conn.ID)
		conn.TransitionTo(model.StateClosing)
	case model.ErrorKindTransientIO:
		s.log.Warn("transient write error", "connection_id", conn.ID)
		// Left ACTIVE: the caller reverts the send to failed_retry rather
		// than tearing the connection down for a single hiccup.
	case model.ErrorKindUnexpected:
		s.log.Error("unexpected write error", "connection_id", conn.ID)
		conn.TransitionTo(model.StateFailed)
	}
}

// Classify buckets a write error into one of the four kinds the send path
// distinguishes between. Order matters: more specific checks run first.
func Classify(err error) model.ErrorKind {
	if err == nil {
		return model.ErrorKindBenignCloseRace
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived) {
		return model.ErrorKindBenignCloseRace
	}

	if errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection") {
		return model.ErrorKindConnectionClosed
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.ErrorKindTransientIO
	}

	if websocket.IsUnexpectedCloseError(err) {
		return model.ErrorKindUnexpected
	}

	return model.ErrorKindUnexpected
}
