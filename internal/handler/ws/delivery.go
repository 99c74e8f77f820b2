package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/netra-systems/ws-fabric/internal/domain/codec"
	"github.com/netra-systems/ws-fabric/internal/domain/model"
	"github.com/netra-systems/ws-fabric/internal/domain/queue"
	"github.com/netra-systems/ws-fabric/internal/domain/ratelimit"
	"github.com/netra-systems/ws-fabric/internal/domain/registry"
	"github.com/netra-systems/ws-fabric/internal/domain/validator"
)

// MessageHandler is the external collaborator that owns application
// business logic; internal/handler/ws forwards every validated,
// non-state-sync inbound message to it. Mirrored in internal/service,
// which wires a concrete instance in but never implements it itself.
type MessageHandler interface {
	HandleWebSocketMessage(ctx context.Context, userID uuid.UUID, raw json.RawMessage) error
}

// PongHandler is the liveness collaborator: internal/service.Manager
// wraps the heartbeat supervisor's HandlePong plus RTT telemetry behind
// this shape, so every heartbeat_pong/heartbeat_response frame actually
// observed on the wire updates missed-pong counts and last-pong time.
type PongHandler interface {
	HandlePong(conn *model.Connection)
}

// Server wires the Handshake into the live connection pump: it upgrades,
// registers, and pumps inbound frames through validation, rate limiting,
// and into the message handler, while outbound delivery happens via the
// per-user Queue from other components (broadcaster, state-sync).
type Server struct {
	handshake *Handshake
	reg       *registry.Registry
	queues    *queue.Manager
	limiter   *ratelimit.Limiter
	validate  *validator.Validator
	handler   MessageHandler
	stateSync MessageHandler
	pong      PongHandler
	reasm     *codec.Reassembler
	log       *slog.Logger
}

// NewServer wires the pump to two independent MessageHandler
// collaborators with the same shape: handler receives every validated
// message outside the state-sync family, stateSync receives only
// {get_current_state, state_update, partial_state_update,
// client_state_update}. Either may be nil to drop its share silently.
// pong may also be nil, in which case heartbeat_pong/heartbeat_response
// frames are read and discarded without updating liveness bookkeeping.
// reasm is the process-wide Reassembler (internal/domain/codec.Module),
// shared with internal/service.Manager's periodic sweep so expired
// partial transfers are reclaimed outside the read loop.
func NewServer(
	handshake *Handshake,
	reg *registry.Registry,
	queues *queue.Manager,
	limiter *ratelimit.Limiter,
	validate *validator.Validator,
	handler MessageHandler,
	stateSync MessageHandler,
	pong PongHandler,
	reasm *codec.Reassembler,
	log *slog.Logger,
) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		handshake: handshake,
		reg:       reg,
		queues:    queues,
		limiter:   limiter,
		validate:  validate,
		handler:   handler,
		stateSync: stateSync,
		pong:      pong,
		reasm:     reasm,
		log:       log,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.handshake.Accept(w, r)
	if !ok {
		return
	}

	s.reg.Register(conn)
	conn.TransitionTo(model.StateActive)
	q := s.queues.GetOrCreate(conn)
	defer func() {
		q.Close()
		s.limiter.Forget(conn.ID)
		s.reg.Unregister(conn)
	}()

	s.log.Info("connection established", "connection_id", conn.ID, "user_id", conn.UserID)
	s.pump(r.Context(), conn)
}

// pump reads frames until the socket errors or the request context ends,
// running each through the rate limiter and validator before dispatch.
func (s *Server) pump(ctx context.Context, conn *model.Connection) {
	for {
		if ctx.Err() != nil {
			return
		}

		_, raw, err := conn.Socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err) {
				s.log.Warn("unexpected close", "connection_id", conn.ID, "error", err)
			}
			conn.TransitionTo(model.StateFailed)
			return
		}

		conn.IncMessagesReceived()
		conn.AddBytesIn(len(raw))

		decision := s.limiter.Allow(conn.ID)
		if !decision.Allowed {
			s.sendError(conn, "rate_limited", "message rate limit exceeded")
			continue
		}

		result, verr := s.validate.Validate(raw)
		if verr != nil {
			env := verr.ToErrorEnvelope()
			s.queues.GetOrCreate(conn).Enqueue(model.NewQueueItem(
				model.NewOutboundEnvelope(env.Type, env.Payload), model.SubQueuePriority))
			continue
		}

		if result.Fallback != nil {
			s.queues.GetOrCreate(conn).Enqueue(model.NewQueueItem(
				model.NewOutboundEnvelope(result.Fallback.Type, result.Fallback.Payload), model.SubQueueNormal))
			continue
		}

		if result.Message.Type == "chunk" {
			s.handleChunk(ctx, conn, raw)
			continue
		}

		if result.Message.Type == model.HeartbeatPongType || result.Message.Type == model.HeartbeatResponseType {
			if s.pong != nil {
				s.pong.HandlePong(conn)
			}
			continue
		}

		if model.StateSyncTypes[result.Message.Type] {
			if s.stateSync != nil {
				if err := s.stateSync.HandleWebSocketMessage(ctx, conn.UserID, json.RawMessage(raw)); err != nil {
					s.log.Warn("state-sync handler error", "connection_id", conn.ID, "error", err)
				}
			}
			continue
		}

		if s.handler != nil {
			if err := s.handler.HandleWebSocketMessage(ctx, conn.UserID, json.RawMessage(raw)); err != nil {
				s.log.Warn("message handler error", "connection_id", conn.ID, "error", err)
			}
		}
	}
}

// handleChunk feeds one inbound fragment into the reassembler and, once a
// transfer completes, redispatches the reassembled payload through the
// same path a single-frame message would have taken.
func (s *Server) handleChunk(ctx context.Context, conn *model.Connection, raw []byte) {
	var ch model.ChunkEnvelope
	if err := json.Unmarshal(raw, &ch); err != nil {
		s.sendError(conn, "structural_error", "malformed chunk envelope")
		return
	}

	complete, payload, err := s.reasm.AddChunk(ch)
	if err != nil {
		s.sendError(conn, "structural_error", "chunk reassembly failed")
		return
	}
	if !complete {
		if received, total, ok := s.reasm.Progress(ch.TransferID); ok {
			progress := model.NewUploadProgress(ch.TransferID, received, total)
			s.queues.GetOrCreate(conn).Enqueue(model.NewQueueItem(
				model.NewOutboundEnvelope(progress.Type, progress), model.SubQueueNormal))
		}
		return
	}

	if model.StateSyncTypes[ch.MessageType] {
		if s.stateSync != nil {
			if err := s.stateSync.HandleWebSocketMessage(ctx, conn.UserID, json.RawMessage(payload)); err != nil {
				s.log.Warn("state-sync handler error", "connection_id", conn.ID, "error", err)
			}
		}
		return
	}
	if s.handler != nil {
		if err := s.handler.HandleWebSocketMessage(ctx, conn.UserID, json.RawMessage(payload)); err != nil {
			s.log.Warn("message handler error", "connection_id", conn.ID, "error", err)
		}
	}
}

func (s *Server) sendError(conn *model.Connection, errType, message string) {
	env := model.NewErrorEnvelope(errType, message, true)
	s.queues.GetOrCreate(conn).Enqueue(model.NewQueueItem(
		model.NewOutboundEnvelope(env.Type, env.Payload), model.SubQueuePriority))
}
