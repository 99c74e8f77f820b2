package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/netra-systems/ws-fabric/internal/domain/model"
	"github.com/netra-systems/ws-fabric/internal/domain/sender"
	"golang.org/x/sync/errgroup"
)

// Manager owns one Queue per live connection, keyed by connection id. A
// sync.Map keeps lookups lock-free on the hot path; Get/Remove only
// contend with each other, never with sends.
type Manager struct {
	cfg Config
	snd *sender.Sender
	log *slog.Logger

	queues sync.Map // uuid.UUID -> *Queue
}

func NewManager(cfg Config, snd *sender.Sender, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{cfg: cfg, snd: snd, log: log}
}

// GetOrCreate returns the queue for conn, starting its drain goroutine on
// first use.
func (m *Manager) GetOrCreate(conn *model.Connection) *Queue {
	if val, ok := m.queues.Load(conn.ID); ok {
		return val.(*Queue)
	}
	q := New(m.cfg, conn, m.snd, m.log)
	actual, loaded := m.queues.LoadOrStore(conn.ID, q)
	if loaded {
		q.Close()
		return actual.(*Queue)
	}
	return q
}

// Remove stops and discards the queue for connID, if any.
func (m *Manager) Remove(connID uuid.UUID) {
	if val, ok := m.queues.LoadAndDelete(connID); ok {
		val.(*Queue).Close()
	}
}

// DrainResult tallies the outcome of draining every managed queue, for the
// shutdown coordinator's ledger.
type DrainResult struct {
	Stuck             []uuid.UUID
	MessagesPreserved int
	MessagesLost      int
}

func depthSum(q *Queue) int {
	p, n, f := q.Depth()
	return p + n + f
}

// DrainAll blocks each managed queue until empty or the deadline elapses,
// used by the shutdown coordinator's drain phase. Messages dequeued and
// sent before the deadline count as preserved; anything still sitting in a
// sub-queue when the deadline elapses, plus any item already dropped to
// capacity overflow or retry exhaustion over the queue's lifetime, counts
// as lost.
func (m *Manager) DrainAll(deadline time.Duration) DrainResult {
	g := new(errgroup.Group)
	var mu sync.Mutex
	var res DrainResult

	m.queues.Range(func(key, value any) bool {
		connID := key.(uuid.UUID)
		q := value.(*Queue)
		g.Go(func() error {
			pendingBefore := depthSum(q)
			ctx, cancel := context.WithTimeout(context.Background(), deadline)
			ok := q.Drain(ctx)
			cancel()

			remaining := depthSum(q)
			drained := pendingBefore - remaining
			if drained < 0 {
				drained = 0
			}

			mu.Lock()
			res.MessagesPreserved += drained
			res.MessagesLost += remaining + int(q.MessagesLost())
			if !ok {
				res.Stuck = append(res.Stuck, connID)
			}
			mu.Unlock()
			return nil
		})
		return true
	})
	_ = g.Wait()
	return res
}

// Count returns the number of managed queues, for telemetry.
func (m *Manager) Count() int {
	n := 0
	m.queues.Range(func(_, _ any) bool { n++; return true })
	return n
}
