package shutdown

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/netra-systems/ws-fabric/internal/domain/model"
	"github.com/netra-systems/ws-fabric/internal/domain/queue"
	"github.com/netra-systems/ws-fabric/internal/domain/registry"
	"github.com/netra-systems/ws-fabric/internal/domain/sender"
)

// newConnectedPair spins up a real websocket connection so the drain
// phase can exercise the queue's Sender against a live socket.
func newConnectedPair(t *testing.T) (*model.Connection, *websocket.Conn) {
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
	return conn, clientConn
}

func TestRunRejectsConcurrentShutdown(t *testing.T) {
	reg := registry.New()
	qm := queue.NewManager(queue.DefaultConfig(), sender.New(nil, nil), nil)
	c := New(DefaultConfig(), reg, qm, nil)
	c.inProgress.Store(true)

	_, err := c.Run(context.Background(), nil, nil)
	if err != model.ErrShutdownInProgress {
		t.Fatalf("expected ErrShutdownInProgress, got %v", err)
	}
}

func TestRunClosesActiveConnections(t *testing.T) {
	reg := registry.New()
	qm := queue.NewManager(queue.DefaultConfig(), sender.New(nil, nil), nil)
	c := New(Config{DrainTimeout: 0, CloseCode: 1001, CloseReason: "Server shutdown"}, reg, qm, nil)

	conn := model.NewConnection(uuid.New(), "jwt-auth", nil)
	conn.TransitionTo(model.StateActive)
	reg.Register(conn)

	notified := 0
	ledger, err := c.Run(context.Background(), func(*model.Connection) { notified++ }, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if notified != 1 {
		t.Fatalf("expected 1 notified connection, got %d", notified)
	}
	if ledger.TotalConnections != 1 || ledger.GracefullyClosed != 1 {
		t.Fatalf("expected 1 total and 1 gracefully closed, got %+v", ledger)
	}
	if conn.State() != model.StateClosed {
		t.Fatalf("expected connection to be CLOSED, got %s", conn.State())
	}
	if !ledger.Reconciled() {
		t.Fatalf("expected ledger to reconcile")
	}
}

func TestRunCountsCriticalCallbackFailure(t *testing.T) {
	reg := registry.New()
	qm := queue.NewManager(queue.DefaultConfig(), sender.New(nil, nil), nil)
	c := New(Config{DrainTimeout: 0}, reg, qm, nil)

	callbacks := []Callback{
		{Name: "flush-audit-log", Critical: true, Run: func(context.Context) error {
			return errors.New("disk full")
		}},
	}

	ledger, err := c.Run(context.Background(), nil, callbacks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ledger.CallbackFailures != 1 {
		t.Fatalf("expected 1 callback failure, got %d", ledger.CallbackFailures)
	}
	if ledger.Success {
		t.Fatalf("expected Success=false when a critical callback fails")
	}
}

func TestRunRecoversFromCallbackPanic(t *testing.T) {
	reg := registry.New()
	qm := queue.NewManager(queue.DefaultConfig(), sender.New(nil, nil), nil)
	c := New(Config{DrainTimeout: 0}, reg, qm, nil)

	callbacks := []Callback{
		{Name: "panicky", Critical: true, Run: func(context.Context) error {
			panic("boom")
		}},
	}

	ledger, err := c.Run(context.Background(), nil, callbacks)
	if err != nil {
		t.Fatalf("unexpected error from Run itself: %v", err)
	}
	if ledger.CallbackFailures != 1 {
		t.Fatalf("expected the panic to be recovered and counted, got %d", ledger.CallbackFailures)
	}
}

func TestRunPopulatesMessageLedgerFromDrain(t *testing.T) {
	reg := registry.New()
	qm := queue.NewManager(queue.DefaultConfig(), sender.New(nil, nil), nil)
	c := New(Config{DrainTimeout: 2 * time.Second, CloseCode: 1001, CloseReason: "Server shutdown"}, reg, qm, nil)

	const users = 3
	const perUser = 5
	clients := make([]*websocket.Conn, 0, users)
	for i := 0; i < users; i++ {
		conn, client := newConnectedPair(t)
		reg.Register(conn)
		clients = append(clients, client)

		q := qm.GetOrCreate(conn)
		for j := 0; j < perUser; j++ {
			env := model.NewOutboundEnvelope("message", map[string]any{"n": j})
			q.Enqueue(model.NewQueueItem(env, model.SubQueueNormal))
		}
	}

	// Drain clients concurrently so the server's writes don't block on a
	// full TCP buffer while Run is draining the queues.
	for _, client := range clients {
		client := client
		go func() {
			client.SetReadDeadline(time.Now().Add(3 * time.Second))
			for {
				if _, _, err := client.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}

	ledger, err := c.Run(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	const total = users * perUser
	if ledger.MessagesPreserved < int(0.7*float64(total)) {
		t.Fatalf("expected at least 70%% of %d messages preserved, got %d (lost=%d)",
			total, ledger.MessagesPreserved, ledger.MessagesLost)
	}
	if ledger.MessagesPreserved+ledger.MessagesLost > total {
		t.Fatalf("preserved+lost should not exceed enqueued total: preserved=%d lost=%d total=%d",
			ledger.MessagesPreserved, ledger.MessagesLost, total)
	}
}
