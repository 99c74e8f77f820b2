package pubsub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/netra-systems/ws-fabric/internal/domain/broadcaster"
	"github.com/netra-systems/ws-fabric/internal/domain/model"
	"github.com/netra-systems/ws-fabric/internal/domain/queue"
	"github.com/netra-systems/ws-fabric/internal/domain/registry"
	"github.com/netra-systems/ws-fabric/internal/domain/sender"
)

func newRelayUnderTest(t *testing.T) (*Relay, *model.Connection, *websocket.Conn) {
	t.Helper()
	var upgrader websocket.Upgrader
	serverConnCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		serverConnCh <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + srv.URL[len("http"):]
	clientConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { clientConn.Close() })

	serverSocket := <-serverConnCh
	conn := model.NewConnection(uuid.New(), "jwt-auth", serverSocket)
	conn.TransitionTo(model.StateActive)

	reg := registry.New()
	reg.Register(conn)
	snd := sender.New(nil, nil)
	qm := queue.NewManager(queue.DefaultConfig(), snd, nil)
	bcast := broadcaster.New(reg, qm, snd, nil)

	relay := NewRelay("node-a", nil, bcast, reg, nil)
	return relay, conn, clientConn
}

func TestHandlerDeliversToLocallyConnectedUser(t *testing.T) {
	relay, conn, client := newRelayUnderTest(t)

	payload, err := json.Marshal(relayMessage{
		Kind:     targetUser,
		TargetID: conn.UserID,
		Envelope: model.NewOutboundEnvelope("message", map[string]any{"text": "from sibling node"}),
	})
	if err != nil {
		t.Fatalf("failed to marshal relay message: %v", err)
	}
	msg := message.NewMessage("id-1", payload)
	msg.Metadata.Set("origin", "node-b")

	if err := relay.Handler(msg); err != nil {
		t.Fatalf("unexpected handler error: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got model.OutboundEnvelope
	if err := client.ReadJSON(&got); err != nil {
		t.Fatalf("expected relayed envelope to be delivered locally, got error: %v", err)
	}
	if got.Type != "message" {
		t.Fatalf("expected type 'message', got %q", got.Type)
	}
}

func TestHandlerDropsSelfOriginatedMessage(t *testing.T) {
	relay, conn, client := newRelayUnderTest(t)

	payload, _ := json.Marshal(relayMessage{
		Kind:     targetUser,
		TargetID: conn.UserID,
		Envelope: model.NewOutboundEnvelope("message", nil),
	})
	msg := message.NewMessage("id-2", payload)
	msg.Metadata.Set("origin", "node-a") // same as relay's own nodeID

	if err := relay.Handler(msg); err != nil {
		t.Fatalf("unexpected handler error: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var got model.OutboundEnvelope
	if err := client.ReadJSON(&got); err == nil {
		t.Fatalf("expected self-originated message to be dropped, but got delivery")
	}
}
