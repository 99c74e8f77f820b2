// Package queue implements the per-user send queue (C7): three FIFO
// sub-queues (priority, normal, failed_retry) feeding a transactional
// single-writer loop adapted from a predecessor actor/mailbox pattern —
// one goroutine per connection, woken by a buffered signal channel,
// batch-draining pending sends instead of looping on an expensive select.
package queue

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/netra-systems/ws-fabric/internal/domain/model"
	"github.com/netra-systems/ws-fabric/internal/domain/sender"
)

// Config tunes queue capacity and retry backoff.
type Config struct {
	Capacity      int
	RetryBackoff  time.Duration
	MaxBatchDrain int
	MaxRetries    int
}

func DefaultConfig() Config {
	return Config{Capacity: 1000, RetryBackoff: 500 * time.Millisecond, MaxBatchDrain: 64, MaxRetries: 5}
}

// entry wraps one queued item with an optional completion channel, fired
// once the item is either delivered, permanently failed, or dropped after
// exhausting its retries. Enqueue never populates done; EnqueueNotify does,
// for callers (the broadcaster) that need an accurate success/failure
// tally instead of a fire-and-forget enqueue.
type entry struct {
	item model.QueueItem
	done chan bool
}

func notify(e *entry, ok bool) {
	if e.done != nil {
		e.done <- ok
	}
}

// Queue is the send path for a single connection: callers Enqueue
// envelopes, and a background goroutine drains them through the Sender
// one at a time, honoring the sub-queue priority order.
type Queue struct {
	cfg  Config
	conn *model.Connection
	snd  *sender.Sender
	log  *slog.Logger

	mu           sync.Mutex
	priority     *list.List
	normal       *list.List
	failedRetry  *list.List
	sending      *model.QueueItem
	messagesLost uint64

	wake   chan struct{}
	doneCh chan struct{}
}

func New(cfg Config, conn *model.Connection, snd *sender.Sender, log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}
	q := &Queue{
		cfg:         cfg,
		conn:        conn,
		snd:         snd,
		log:         log,
		priority:    list.New(),
		normal:      list.New(),
		failedRetry: list.New(),
		wake:        make(chan struct{}, 1),
		doneCh:      make(chan struct{}),
	}
	go q.loop()
	return q
}

// Enqueue appends item to its designated sub-queue, dropping the oldest
// entry in that sub-queue if it is already at capacity. Items currently
// occupying the SENDING slot are never evicted.
func (q *Queue) Enqueue(item model.QueueItem) {
	q.enqueue(&entry{item: item})
}

// EnqueueNotify behaves like Enqueue but returns a channel that receives
// the item's eventual outcome: true once the Sender reports a successful
// write, false if it is evicted by capacity overflow, fails with a
// non-retriable error, or is dropped after exhausting its retries.
func (q *Queue) EnqueueNotify(item model.QueueItem) <-chan bool {
	done := make(chan bool, 1)
	q.enqueue(&entry{item: item, done: done})
	return done
}

func (q *Queue) enqueue(e *entry) {
	q.mu.Lock()
	l := q.listFor(e.item.Sub)
	var evicted *entry
	if l.Len() >= q.cfg.Capacity {
		if oldest := l.Front(); oldest != nil {
			l.Remove(oldest)
			q.messagesLost++
			evicted = oldest.Value.(*entry)
		}
	}
	l.PushBack(e)
	q.mu.Unlock()

	if evicted != nil {
		notify(evicted, false)
	}

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) listFor(sub model.SubQueue) *list.List {
	switch sub {
	case model.SubQueuePriority:
		return q.priority
	case model.SubQueueFailedRetry:
		return q.failedRetry
	default:
		return q.normal
	}
}

// loop is the single-writer goroutine: it pulls at most one item into the
// SENDING slot, sends it, and reacts to the Sender's classification
// before pulling the next.
func (q *Queue) loop() {
	for {
		select {
		case <-q.doneCh:
			return
		case <-q.wake:
			drained := 0
			for drained < q.cfg.MaxBatchDrain {
				if !q.sendNext() {
					break
				}
				drained++
			}
		}
	}
}

// sendNext pulls one item (priority first) into the SENDING slot and
// dispatches it through the Sender. It returns false when there is
// nothing left to send.
func (q *Queue) sendNext() bool {
	q.mu.Lock()
	e, ok := q.popNextLocked()
	if !ok {
		q.mu.Unlock()
		return false
	}
	q.sending = &e.item
	q.mu.Unlock()

	kind, err := q.snd.Send(q.conn, e.item.Envelope)

	q.mu.Lock()
	q.sending = nil
	q.mu.Unlock()

	if err == nil {
		notify(e, true)
		return true
	}
	if kind == model.ErrorKindTransientIO {
		q.revert(e)
		return true
	}
	// Benign/closed/unexpected errors mean the connection is tearing down;
	// stop pulling from this queue until it is explicitly closed.
	notify(e, false)
	return false
}

func (q *Queue) popNextLocked() (*entry, bool) {
	for _, l := range []*list.List{q.priority, q.normal, q.failedRetry} {
		if front := l.Front(); front != nil {
			l.Remove(front)
			return front.Value.(*entry), true
		}
	}
	return nil, false
}

// revert places a transiently-failed send back at the head of
// failed_retry with an incremented retry counter, after a short backoff.
// An item that has already exhausted MaxRetries is dropped and counted as
// lost instead of being requeued again.
func (q *Queue) revert(e *entry) {
	e.item.RetryCount++
	if e.item.RetryCount > q.cfg.MaxRetries {
		q.mu.Lock()
		q.messagesLost++
		q.mu.Unlock()
		q.log.Warn("dropping item after exhausting retries",
			"connection_id", q.conn.ID, "retry_count", e.item.RetryCount)
		notify(e, false)
		return
	}
	e.item.Sub = model.SubQueueFailedRetry
	time.AfterFunc(q.cfg.RetryBackoff, func() {
		q.mu.Lock()
		q.failedRetry.PushFront(e)
		q.mu.Unlock()
		select {
		case q.wake <- struct{}{}:
		default:
		}
	})
}

// MessagesLost returns the count of entries dropped due to capacity
// overflow or after exhausting MaxRetries, for telemetry.
func (q *Queue) MessagesLost() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.messagesLost
}

// Depth reports the current size of each sub-queue, for telemetry.
func (q *Queue) Depth() (priority, normal, failedRetry int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.priority.Len(), q.normal.Len(), q.failedRetry.Len()
}

// Close stops the drain goroutine. Items still queued are discarded; the
// shutdown coordinator is responsible for draining queues before closing
// them during a graceful shutdown.
func (q *Queue) Close() {
	close(q.doneCh)
}

// Drain blocks until every sub-queue (and the SENDING slot) is empty or
// ctx is cancelled, used by the shutdown coordinator's drain phase.
func (q *Queue) Drain(ctx context.Context) bool {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		q.mu.Lock()
		empty := q.priority.Len() == 0 && q.normal.Len() == 0 && q.failedRetry.Len() == 0 && q.sending == nil
		q.mu.Unlock()
		if empty {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
