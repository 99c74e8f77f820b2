package reconnect

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/netra-systems/ws-fabric/internal/domain/model"
)

func TestPrepareThenAttemptRestoresCounters(t *testing.T) {
	l := New(DefaultConfig())
	orig := model.NewConnection(uuid.New(), "jwt-auth", nil)
	orig.IncMessagesSent()
	orig.IncMessagesSent()

	token := l.Prepare(orig)

	fresh := model.NewConnection(orig.UserID, "jwt-auth", nil)
	ctx, err := l.Attempt(token, fresh)
	if err != nil {
		t.Fatalf("unexpected error on first attempt: %v", err)
	}
	if ctx.Attempts != 1 {
		t.Fatalf("expected attempts to be 1, got %d", ctx.Attempts)
	}
	if fresh.MessagesSent() != 2 {
		t.Fatalf("expected restored counters, got %d", fresh.MessagesSent())
	}
}

func TestAttemptRejectsExpiredWindow(t *testing.T) {
	l := New(Config{Window: time.Millisecond, MaxAttempts: 5, Capacity: 10})
	orig := model.NewConnection(uuid.New(), "jwt-auth", nil)
	token := l.Prepare(orig)

	time.Sleep(5 * time.Millisecond)

	_, err := l.Attempt(token, model.NewConnection(orig.UserID, "jwt-auth", nil))
	if err != model.ErrReconnectionExpired {
		t.Fatalf("expected ErrReconnectionExpired, got %v", err)
	}
}

func TestAttemptRejectsUnknownToken(t *testing.T) {
	l := New(DefaultConfig())
	_, err := l.Attempt("does-not-exist", model.NewConnection(uuid.New(), "jwt-auth", nil))
	if err != model.ErrUnknownConnection {
		t.Fatalf("expected ErrUnknownConnection, got %v", err)
	}
}

func TestAttemptRejectsOnceBudgetExhausted(t *testing.T) {
	l := New(Config{Window: time.Hour, MaxAttempts: 1, Capacity: 10})
	orig := model.NewConnection(uuid.New(), "jwt-auth", nil)
	token := l.Prepare(orig)

	if _, err := l.Attempt(token, model.NewConnection(orig.UserID, "jwt-auth", nil)); err != nil {
		t.Fatalf("unexpected error on first attempt: %v", err)
	}
	if _, err := l.Attempt(token, model.NewConnection(orig.UserID, "jwt-auth", nil)); err != model.ErrReconnectionExpired {
		t.Fatalf("expected the second attempt to exhaust the budget, got %v", err)
	}
}

func TestSweepRemovesExpiredEntries(t *testing.T) {
	l := New(Config{Window: time.Millisecond, MaxAttempts: 5, Capacity: 10})
	l.Prepare(model.NewConnection(uuid.New(), "jwt-auth", nil))
	time.Sleep(5 * time.Millisecond)

	if removed := l.Sweep(); removed != 1 {
		t.Fatalf("expected 1 expired entry swept, got %d", removed)
	}
	if l.Len() != 0 {
		t.Fatalf("expected ledger to be empty after sweep, got %d", l.Len())
	}
}
