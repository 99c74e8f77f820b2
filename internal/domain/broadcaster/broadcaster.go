// Package broadcaster implements the fan-out router (C9): broadcast to
// all connections, to a user's connections, or to a room's members, with
// a snapshot-then-release-lock discipline so sends never block registry
// mutation.
package broadcaster

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/netra-systems/ws-fabric/internal/domain/model"
	"github.com/netra-systems/ws-fabric/internal/domain/queue"
	"github.com/netra-systems/ws-fabric/internal/domain/registry"
	"github.com/netra-systems/ws-fabric/internal/domain/sender"
)

// PriorityThreshold is the envelope priority at or above which a send
// bypasses the per-user queue and goes direct through the Sender.
const PriorityThreshold = 8

// enqueueAckTimeout bounds how long a broadcast fan-out waits for a single
// connection's queued send to be attempted before counting it as failed,
// so one slow or wedged socket cannot stall delivery to every other
// recipient.
const enqueueAckTimeout = 2 * time.Second

// Result tallies the outcome of one fan-out call.
type Result struct {
	Successful int
	Failed     int
	Dead       []*model.Connection
}

// Relay is the optional cross-node extension (internal/adapter/pubsub):
// when wired, every locally-dispatched broadcast is also announced so
// sibling nodes can deliver it to their own locally-registered
// connections. Declared locally rather than imported so this package
// never depends on the transport the relay happens to use.
type Relay interface {
	PublishUser(ctx context.Context, userID uuid.UUID, env model.OutboundEnvelope) error
	PublishRoom(ctx context.Context, roomID uuid.UUID, env model.OutboundEnvelope) error
	PublishAll(ctx context.Context, env model.OutboundEnvelope) error
}

// Broadcaster fans envelopes out to connections resolved from the
// Registry, routing through the per-user queue unless the envelope's
// priority requests a direct, latency-sensitive send.
type Broadcaster struct {
	reg   *registry.Registry
	queue *queue.Manager
	snd   *sender.Sender
	relay Relay
	log   *slog.Logger
}

func New(reg *registry.Registry, qm *queue.Manager, snd *sender.Sender, log *slog.Logger) *Broadcaster {
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{reg: reg, queue: qm, snd: snd, log: log}
}

// WithRelay attaches the cross-node relay. A nil relay (the default)
// makes every broadcast node-local only.
func (b *Broadcaster) WithRelay(relay Relay) *Broadcaster {
	b.relay = relay
	return b
}

// BroadcastAll sends env to every connection currently registered, and
// announces it to sibling nodes if a Relay is attached.
func (b *Broadcaster) BroadcastAll(env model.OutboundEnvelope) Result {
	if b.relay != nil {
		if err := b.relay.PublishAll(context.Background(), env); err != nil {
			b.log.Warn("relay publish failed", "scope", "all", "error", err)
		}
	}
	return b.dispatch(env, b.reg.SnapshotAll())
}

// BroadcastUser sends env to every connection owned by userID.
func (b *Broadcaster) BroadcastUser(userID uuid.UUID, env model.OutboundEnvelope) Result {
	if b.relay != nil {
		if err := b.relay.PublishUser(context.Background(), userID, env); err != nil {
			b.log.Warn("relay publish failed", "scope", "user", "user_id", userID, "error", err)
		}
	}
	return b.dispatch(env, b.reg.UserConnections(userID))
}

// BroadcastRoom sends env to every connection registered under roomID.
// Members present in the room index but no longer in the registry are
// counted as failed and their stale membership is revoked.
func (b *Broadcaster) BroadcastRoom(roomID uuid.UUID, env model.OutboundEnvelope) Result {
	if b.relay != nil {
		if err := b.relay.PublishRoom(context.Background(), roomID, env); err != nil {
			b.log.Warn("relay publish failed", "scope", "room", "room_id", roomID, "error", err)
		}
	}
	found, missing := b.reg.RoomConnections(roomID)
	for _, connID := range missing {
		b.reg.LeaveRoom(roomID, connID)
	}
	res := b.dispatch(env, found)
	res.Failed += len(missing)
	return res
}

func (b *Broadcaster) dispatch(env model.OutboundEnvelope, targets []*model.Connection) Result {
	var res Result
	for _, conn := range targets {
		if b.send(conn, env) {
			res.Successful++
		} else {
			res.Failed++
			// A send just failed against conn: if it's already a zombie,
			// that's fresh evidence enough to reap it without waiting out
			// the scheduled grace delay.
			if conn.IsCleanupEligible(0) {
				res.Dead = append(res.Dead, conn)
			}
		}
	}
	if len(res.Dead) > 0 {
		b.cleanup(res.Dead)
	}
	return res
}

// send delivers env to conn and reports whether it was actually written,
// not merely accepted for delivery: both the direct (priority) path and
// the queued path wait for the Sender's outcome before returning, so
// BroadcastAll/BroadcastUser/BroadcastRoom's tallies reflect real
// successes and failures.
func (b *Broadcaster) send(conn *model.Connection, env model.OutboundEnvelope) bool {
	if env.Priority >= PriorityThreshold {
		_, err := b.snd.Send(conn, env)
		return err == nil
	}
	q := b.queue.GetOrCreate(conn)
	sub := model.SubQueueNormal
	if env.Priority > 0 {
		sub = model.SubQueuePriority
	}
	done := q.EnqueueNotify(model.NewQueueItem(env, sub))
	select {
	case ok := <-done:
		return ok
	case <-time.After(enqueueAckTimeout):
		return false
	}
}

// cleanup removes dead records through the normal disconnect path rather
// than mutating the registry inline during a fan-out pass.
func (b *Broadcaster) cleanup(dead []*model.Connection) {
	for _, conn := range dead {
		b.queue.Remove(conn.ID)
		b.reg.Unregister(conn)
		b.log.Debug("cleaned up dead connection after broadcast", "connection_id", conn.ID)
	}
}
