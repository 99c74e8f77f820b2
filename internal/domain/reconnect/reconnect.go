// Package reconnect implements the reconnection ledger (C10): a
// short-lived token lets a client resume session state — counters and
// identity — within a bounded window and a bounded number of attempts.
package reconnect

import (
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/netra-systems/ws-fabric/internal/domain/model"
)

// Config tunes the reconnection window and retry budget.
type Config struct {
	Window      time.Duration
	MaxAttempts int
	Capacity    int
}

func DefaultConfig() Config {
	return Config{Window: 300 * time.Second, MaxAttempts: 5, Capacity: 10000}
}

// Ledger tracks in-flight reconnection tokens. The backing LRU cache
// bounds memory even if tokens are never consumed; Sweep additionally
// evicts entries whose window has elapsed.
type Ledger struct {
	cfg Config

	mu    sync.Mutex
	cache *lru.Cache[string, *model.ReconnectionContext]
}

func New(cfg Config) *Ledger {
	cache, err := lru.New[string, *model.ReconnectionContext](cfg.Capacity)
	if err != nil {
		// Only returned for a non-positive size, which DefaultConfig never
		// produces; callers that override Capacity are expected to pass a
		// sane value.
		cache, _ = lru.New[string, *model.ReconnectionContext](1)
	}
	return &Ledger{cfg: cfg, cache: cache}
}

// Prepare captures a connection's counters under a freshly minted token,
// for a client that may reconnect within the configured window.
func (l *Ledger) Prepare(conn *model.Connection) string {
	token := uuid.NewString()
	ctx := &model.ReconnectionContext{
		Token:                token,
		UserID:               conn.UserID,
		OriginalConnectionID: conn.ID,
		Snapshot:             conn.TakeSnapshot(),
		CreatedAt:            time.Now(),
	}

	l.mu.Lock()
	l.cache.Add(token, ctx)
	l.mu.Unlock()

	return token
}

// Attempt redeems token against a freshly handshaken connection, carrying
// over the prior snapshot's counters. It fails once the window has
// elapsed or the attempt budget is exhausted; on success the token
// remains valid for any remaining attempts within the window.
func (l *Ledger) Attempt(token string, newConn *model.Connection) (*model.ReconnectionContext, error) {
	l.mu.Lock()
	ctx, ok := l.cache.Get(token)
	if !ok {
		l.mu.Unlock()
		return nil, model.ErrUnknownConnection
	}
	if ctx.Expired(l.cfg.Window) {
		l.cache.Remove(token)
		l.mu.Unlock()
		return nil, model.ErrReconnectionExpired
	}
	if ctx.Attempts >= l.cfg.MaxAttempts {
		l.cache.Remove(token)
		l.mu.Unlock()
		return nil, model.ErrReconnectionExpired
	}
	ctx.Attempts++
	l.mu.Unlock()

	newConn.Restore(ctx.Snapshot)
	return ctx, nil
}

// Sweep evicts every entry whose window has elapsed and returns how many
// were removed.
func (l *Ledger) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for _, token := range l.cache.Keys() {
		ctx, ok := l.cache.Peek(token)
		if ok && ctx.Expired(l.cfg.Window) {
			l.cache.Remove(token)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked tokens, for telemetry.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cache.Len()
}
