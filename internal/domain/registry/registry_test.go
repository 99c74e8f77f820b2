package registry

import (
	"testing"

	"github.com/google/uuid"
	"github.com/netra-systems/ws-fabric/internal/domain/model"
)

func newTestConnection(userID uuid.UUID) *model.Connection {
	return model.NewConnection(userID, "jwt-auth", nil)
}

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	userID := uuid.New()
	conn := newTestConnection(userID)

	r.Register(conn)

	got, ok := r.ByID(conn.ID)
	if !ok || got != conn {
		t.Fatalf("ByID: expected to find registered connection")
	}

	conns := r.UserConnections(userID)
	if len(conns) != 1 || conns[0] != conn {
		t.Fatalf("UserConnections: expected exactly one connection, got %d", len(conns))
	}
}

func TestUnregisterRemovesEmptyUserKey(t *testing.T) {
	r := New()
	userID := uuid.New()
	conn := newTestConnection(userID)
	r.Register(conn)

	r.Unregister(conn)

	if _, ok := r.ByID(conn.ID); ok {
		t.Fatalf("expected connection to be gone after Unregister")
	}
	if conns := r.UserConnections(userID); len(conns) != 0 {
		t.Fatalf("expected no connections for user after last unregister, got %d", len(conns))
	}
	if r.IsUserConnected(userID) {
		t.Fatalf("expected user key to be removed after last unregister")
	}
}

func TestEnforceLimitPerUser(t *testing.T) {
	r := New(WithMaxPerUser(2), WithMaxTotal(100))
	userID := uuid.New()

	for i := 0; i < 2; i++ {
		if r.EnforceLimit(userID) {
			t.Fatalf("unexpected limit reached at connection %d", i)
		}
		r.Register(newTestConnection(userID))
	}

	if !r.EnforceLimit(userID) {
		t.Fatalf("expected per-user limit to be reached")
	}
}

func TestEnforceLimitTotal(t *testing.T) {
	r := New(WithMaxPerUser(1000), WithMaxTotal(1))
	r.Register(newTestConnection(uuid.New()))

	if !r.EnforceLimit(uuid.New()) {
		t.Fatalf("expected total limit to be reached")
	}
}

func TestRoomMembershipConsistency(t *testing.T) {
	r := New()
	userID := uuid.New()
	conn := newTestConnection(userID)
	r.Register(conn)

	roomID := uuid.New()
	r.JoinRoom(roomID, conn.ID)

	found, missing := r.RoomConnections(roomID)
	if len(found) != 1 || len(missing) != 0 {
		t.Fatalf("expected one member and no missing entries, got found=%d missing=%d", len(found), len(missing))
	}

	r.LeaveRoom(roomID, conn.ID)
	found, _ = r.RoomConnections(roomID)
	if len(found) != 0 {
		t.Fatalf("expected room to be empty after LeaveRoom")
	}
}

func TestUnregisterRevokesRoomMembership(t *testing.T) {
	r := New()
	conn := newTestConnection(uuid.New())
	r.Register(conn)
	roomA, roomB := uuid.New(), uuid.New()
	r.JoinRoom(roomA, conn.ID)
	r.JoinRoom(roomB, conn.ID)

	r.Unregister(conn)

	for _, room := range []uuid.UUID{roomA, roomB} {
		found, missing := r.RoomConnections(room)
		if len(found) != 0 || len(missing) != 0 {
			t.Fatalf("expected room %s to be empty after owner unregister", room)
		}
	}
}

func TestSweepGhostsRemovesFailedConnections(t *testing.T) {
	r := New()
	conn := newTestConnection(uuid.New())
	r.Register(conn)
	conn.TransitionTo(model.StateFailed)

	reaped := r.SweepGhosts()
	if len(reaped) != 1 || reaped[0] != conn {
		t.Fatalf("expected SweepGhosts to reap the failed connection")
	}
	if _, ok := r.ByID(conn.ID); ok {
		t.Fatalf("expected connection removed from registry after sweep")
	}
}
