package heartbeat

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/netra-systems/ws-fabric/internal/domain/model"
)

func newActiveConnection(t *testing.T) *model.Connection {
	t.Helper()
	c := model.NewConnection(uuid.New(), "jwt-auth", nil)
	if !c.TransitionTo(model.StateActive) {
		t.Fatalf("expected CONNECTING -> ACTIVE to succeed")
	}
	return c
}

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

func TestEvaluateDemotesOnMissedPongThreshold(t *testing.T) {
	s := New(Config{MaxMissedPongs: 2, ZombieDetect: time.Hour}, nil, nil, nil)
	c := newActiveConnection(t)
	c.IncrementMissedPong()
	c.IncrementMissedPong()

	s.evaluate(c)
	if c.State() != model.StateZombie {
		t.Fatalf("expected ZOMBIE after exceeding missed pong threshold, got %s", c.State())
	}
}

func TestEvaluateLeavesHealthyConnectionActive(t *testing.T) {
	s := New(DefaultConfig(), nil, nil, nil)
	c := newActiveConnection(t)
	c.RecordPingSent(1)
	c.RecordPong()

	s.evaluate(c)
	if c.State() != model.StateActive {
		t.Fatalf("expected connection to remain ACTIVE, got %s", c.State())
	}
}

func TestIntervalShrinksOnMissedPong(t *testing.T) {
	s := New(DefaultConfig(), nil, nil, nil)
	c := newActiveConnection(t)
	base := s.interval(c)

	c.IncrementMissedPong()
	shrunk := s.interval(c)
	if shrunk >= base {
		t.Fatalf("expected interval to shrink after a missed pong: base=%s shrunk=%s", base, shrunk)
	}
}

func TestHandlePongRecordsRTT(t *testing.T) {
	s := New(DefaultConfig(), nil, nil, nil)
	c := newActiveConnection(t)
	c.RecordPingSent(1)
	time.Sleep(time.Millisecond)

	rtt := s.HandlePong(c)
	if rtt <= 0 {
		t.Fatalf("expected a positive RTT sample, got %s", rtt)
	}
}

type countingTelemetry struct {
	sent, missed, zombies int
}

func (c *countingTelemetry) RecordHeartbeatSent()   { c.sent++ }
func (c *countingTelemetry) RecordHeartbeatMissed() { c.missed++ }
func (c *countingTelemetry) RecordZombieDetection() { c.zombies++ }

func TestEvaluateDoesNotReapOnDetectionAlone(t *testing.T) {
	tel := &countingTelemetry{}
	s := New(Config{MaxMissedPongs: 100, ZombieDetect: time.Millisecond}, nil, tel, nil)
	c := newActiveConnection(t)
	time.Sleep(2 * time.Millisecond)

	s.evaluate(c)
	if c.State() != model.StateZombie {
		t.Fatalf("expected detection alone to demote to ZOMBIE, got %s", c.State())
	}
	if tel.zombies != 1 {
		t.Fatalf("expected one zombie detection recorded, got %d", tel.zombies)
	}

	// Detection only demotes; it must not itself decide cleanup eligibility.
	if c.IsCleanupEligible(time.Hour) {
		t.Fatalf("expected a freshly detected zombie to still be within its grace window")
	}
	if !c.IsCleanupEligible(0) {
		t.Fatalf("expected a zombie to be cleanup-eligible once its grace window is zero")
	}
}

func TestEvaluateRecordsMissedPongOncePerUnansweredPing(t *testing.T) {
	tel := &countingTelemetry{}
	s := New(Config{MaxMissedPongs: 100, ZombieDetect: time.Hour, PongTimeout: time.Millisecond}, nil, tel, nil)
	c := newActiveConnection(t)
	c.RecordPingSent(1)
	time.Sleep(2 * time.Millisecond)

	s.evaluate(c)
	if tel.missed != 1 {
		t.Fatalf("expected one missed-pong record, got %d", tel.missed)
	}
	if c.MissedPongCount() != 1 {
		t.Fatalf("expected missed pong count 1, got %d", c.MissedPongCount())
	}

	// The same unanswered ping must not be counted again on the next tick.
	s.evaluate(c)
	if tel.missed != 1 {
		t.Fatalf("expected the same unanswered ping to be counted only once, got %d", tel.missed)
	}
}

func TestPingRecordsTelemetryOnSuccessfulWrite(t *testing.T) {
	conn, client := newConnectedPair(t)
	t.Cleanup(func() { client.Close() })

	tel := &countingTelemetry{}
	s := New(DefaultConfig(), nil, tel, nil)

	s.ping(conn)
	if tel.sent != 1 {
		t.Fatalf("expected one heartbeat-sent telemetry record, got %d", tel.sent)
	}
}
