package registry

import "time"

// Option configures a Registry at construction time: connection limits
// (max_connections_per_user, max_total_connections) are set this way
// rather than via exported struct fields.
type Option func(*Registry)

// WithMaxPerUser sets the per-user connection cap (default 5).
func WithMaxPerUser(n int) Option {
	return func(r *Registry) { r.maxPerUser = n }
}

// WithMaxTotal sets the process-wide connection cap (default 1000).
func WithMaxTotal(n int) Option {
	return func(r *Registry) { r.maxTotal = n }
}

// WithZombieGrace sets the delay SweepGhosts waits after a connection is
// demoted to ZOMBIE before it is reaped, the cleanup-scheduling phase
// that follows zombie detection (default 30s).
func WithZombieGrace(d time.Duration) Option {
	return func(r *Registry) { r.zombieGrace = d }
}
