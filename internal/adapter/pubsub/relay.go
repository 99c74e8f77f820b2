// Package pubsub adapts the Broadcaster (C9) to a multi-node deployment:
// a node publishes every broadcast it originates so sibling nodes can
// relay it to their own locally-registered connections, adapted from the
// teacher's EventDispatcher/Bind locality-filter pattern.
package pubsub

import (
	"context"
	"encoding/json"
	"log/slog"
	"runtime/debug"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/netra-systems/ws-fabric/internal/domain/broadcaster"
	"github.com/netra-systems/ws-fabric/internal/domain/model"
	"github.com/netra-systems/ws-fabric/internal/domain/registry"
)

// Topic is the single exchange-bound topic every node publishes
// broadcasts to and subscribes for sibling broadcasts on.
const Topic = "ws_fabric.broadcast"

type targetKind string

const (
	targetUser targetKind = "user"
	targetRoom targetKind = "room"
	targetAll  targetKind = "all"
)

// relayMessage is the wire shape exchanged between nodes.
type relayMessage struct {
	Kind     targetKind             `json:"kind"`
	TargetID uuid.UUID              `json:"target_id,omitempty"`
	Envelope model.OutboundEnvelope `json:"envelope"`
}

// Relay publishes locally-originated broadcasts for sibling nodes and,
// on receipt of a sibling's broadcast, redelivers it to this node's own
// locally-registered connections.
type Relay struct {
	nodeID    string
	publisher message.Publisher
	bcast     *broadcaster.Broadcaster
	reg       *registry.Registry
	log       *slog.Logger
}

func NewRelay(nodeID string, pub message.Publisher, bcast *broadcaster.Broadcaster, reg *registry.Registry, log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{nodeID: nodeID, publisher: pub, bcast: bcast, reg: reg, log: log}
}

// PublishUser announces a user-targeted broadcast this node delivered
// locally so sibling nodes can deliver it to any connections of userID
// they themselves own.
func (r *Relay) PublishUser(ctx context.Context, userID uuid.UUID, env model.OutboundEnvelope) error {
	return r.publish(ctx, relayMessage{Kind: targetUser, TargetID: userID, Envelope: env})
}

func (r *Relay) PublishRoom(ctx context.Context, roomID uuid.UUID, env model.OutboundEnvelope) error {
	return r.publish(ctx, relayMessage{Kind: targetRoom, TargetID: roomID, Envelope: env})
}

func (r *Relay) PublishAll(ctx context.Context, env model.OutboundEnvelope) error {
	return r.publish(ctx, relayMessage{Kind: targetAll, Envelope: env})
}

func (r *Relay) publish(ctx context.Context, rm relayMessage) error {
	payload, err := json.Marshal(rm)
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("origin", r.nodeID)
	msg.SetContext(ctx)
	return r.publisher.Publish(Topic, msg)
}

// Handler is the watermill router handler: it drops messages this node
// itself originated (the echo it would otherwise receive back), then
// delivers locally, filtering user-targeted broadcasts by whether the
// target is actually connected here — the teacher's IsConnected locality
// filter from Bind.
func (r *Relay) Handler(msg *message.Message) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("relay handler panic", "panic", p, "stack", string(debug.Stack()))
		}
	}()

	if msg.Metadata.Get("origin") == r.nodeID {
		return nil
	}

	var rm relayMessage
	if err := json.Unmarshal(msg.Payload, &rm); err != nil {
		r.log.Warn("relay message decode failed", "error", err)
		return nil
	}

	switch rm.Kind {
	case targetUser:
		if r.reg.IsUserConnected(rm.TargetID) {
			r.bcast.BroadcastUser(rm.TargetID, rm.Envelope)
		}
	case targetRoom:
		r.bcast.BroadcastRoom(rm.TargetID, rm.Envelope)
	case targetAll:
		r.bcast.BroadcastAll(rm.Envelope)
	default:
		r.log.Warn("relay message has unknown kind", "kind", rm.Kind)
	}
	return nil
}
