package service

import (
	"context"
	"time"

	"github.com/netra-systems/ws-fabric/internal/domain/model"
	"github.com/sony/gobreaker"
)

// BreakerAuther wraps an external Auther in a circuit breaker so a
// flapping auth service degrades handshakes to fast failures instead of
// hanging every connecting client on its timeout.
type BreakerAuther struct {
	next    Auther
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerAuther trips open after 5 consecutive failures and probes
// again after 15s, matching the handshake's own short patience budget.
func NewBreakerAuther(next Auther) *BreakerAuther {
	st := gobreaker.Settings{
		Name:        "auther",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &BreakerAuther{next: next, breaker: gobreaker.NewCircuitBreaker(st)}
}

func (a *BreakerAuther) ValidateToken(ctx context.Context, token string) (model.AuthResult, error) {
	result, err := a.breaker.Execute(func() (any, error) {
		return a.next.ValidateToken(ctx, token)
	})
	if err != nil {
		return model.AuthResult{}, err
	}
	return result.(model.AuthResult), nil
}
