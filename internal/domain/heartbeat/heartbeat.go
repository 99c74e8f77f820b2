// Package heartbeat implements the liveness supervisor (C6): it drives
// the ping cadence for every registered connection, adapts the interval
// to observed RTT, and demotes connections that stop answering into the
// ZOMBIE state for the registry to reap.
package heartbeat

import (
	"context"
	"log/slog"
	"time"

	"github.com/netra-systems/ws-fabric/internal/domain/model"
	"github.com/netra-systems/ws-fabric/internal/domain/registry"
)

// Config tunes cadence, adaptation, and the zombie-detection predicate.
// Detection and cleanup are two separate phases: ZombieDetect gates this
// supervisor's ACTIVE -> ZOMBIE demotion, while the subsequent cleanup
// delay (registry.WithZombieGrace) is a registry concern, not a
// heartbeat one — a demoted connection sits in ZOMBIE for that long
// before the registry's sweep reaps it.
type Config struct {
	BaseInterval   time.Duration
	MinInterval    time.Duration
	MaxInterval    time.Duration
	PongTimeout    time.Duration
	MaxMissedPongs int32
	ZombieDetect   time.Duration
}

func DefaultConfig() Config {
	return Config{
		BaseInterval:   30 * time.Second,
		MinInterval:    10 * time.Second,
		MaxInterval:    120 * time.Second,
		PongTimeout:    10 * time.Second,
		MaxMissedPongs: 3,
		ZombieDetect:   60 * time.Second,
	}
}

// Telemetry is the optional metrics collaborator (C13) the supervisor
// reports ping/zombie observations to. Declared locally, structural, so
// this package never imports internal/domain/telemetry directly.
type Telemetry interface {
	RecordHeartbeatSent()
	RecordHeartbeatMissed()
	RecordZombieDetection()
}

// Supervisor periodically pings every registered connection and evaluates
// the zombie predicate on each tick.
type Supervisor struct {
	cfg Config
	reg *registry.Registry
	tel Telemetry
	log *slog.Logger

	sequence int64
}

// New constructs a Supervisor. tel may be nil, in which case ping/zombie
// observations are simply not recorded.
func New(cfg Config, reg *registry.Registry, tel Telemetry, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{cfg: cfg, reg: reg, tel: tel, log: log}
}

// Run drives the ping/evaluate loop until ctx is cancelled. Each
// connection is pinged at its own adaptive interval, tracked via
// nextDueAt, so a slow connection does not throttle the rest.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.MinInterval)
	defer ticker.Stop()

	nextDueAt := make(map[string]time.Time)

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, conn := range s.reg.SnapshotAll() {
				if conn.IsClosing() {
					continue
				}
				key := conn.ID.String()
				due, ok := nextDueAt[key]
				if ok && now.Before(due) {
					continue
				}
				s.evaluate(conn)
				if conn.State() != model.StateZombie {
					s.ping(conn)
				}
				nextDueAt[key] = now.Add(s.interval(conn))
			}
		}
	}
}

// interval computes the adaptive ping cadence for a connection from its
// smoothed RTT and recent miss history.
func (s *Supervisor) interval(conn *model.Connection) time.Duration {
	base := s.cfg.BaseInterval
	rtt := conn.SmoothedRTT()

	switch {
	case rtt > 1000*time.Millisecond:
		base = time.Duration(float64(base) * 1.5)
	case rtt > 0 && rtt < 50*time.Millisecond:
		base = time.Duration(float64(base) * 0.8)
	}

	if conn.MissedPongCount() > 0 {
		base = time.Duration(float64(base) * 0.7)
	}

	if base < s.cfg.MinInterval {
		base = s.cfg.MinInterval
	}
	if base > s.cfg.MaxInterval {
		base = s.cfg.MaxInterval
	}
	return base
}

func (s *Supervisor) ping(conn *model.Connection) {
	s.sequence++
	seq := s.sequence
	conn.RecordPingSent(seq)
	if err := conn.WriteJSON(model.NewHeartbeatPing(conn.ID.String(), seq)); err != nil {
		s.log.Warn("heartbeat ping failed", "connection_id", conn.ID, "error", err)
		return
	}
	if s.tel != nil {
		s.tel.RecordHeartbeatSent()
	}
}

// evaluate demotes a connection to ZOMBIE once it exceeds the miss
// threshold or has gone silent for longer than ZombieDetect. Cleanup is
// a later, separate phase: the registry leaves a freshly demoted
// connection in place for its own grace delay before reaping it.
func (s *Supervisor) evaluate(conn *model.Connection) {
	if conn.State() != model.StateActive {
		return
	}
	if s.cfg.PongTimeout > 0 && conn.CheckMissedPong(s.cfg.PongTimeout) {
		if s.tel != nil {
			s.tel.RecordHeartbeatMissed()
		}
	}
	missed := conn.MissedPongCount()
	silentFor := time.Since(conn.LastPongReceived())

	if missed >= s.cfg.MaxMissedPongs || silentFor > s.cfg.ZombieDetect {
		if conn.TransitionTo(model.StateZombie) {
			s.log.Info("connection demoted to zombie",
				"connection_id", conn.ID, "missed_pongs", missed, "silent_for", silentFor)
			if s.tel != nil {
				s.tel.RecordZombieDetection()
			}
		}
	}
}

// HandlePong records a client's liveness reply and reactivates a
// connection that a missed beat alone had not yet condemned.
func (s *Supervisor) HandlePong(conn *model.Connection) time.Duration {
	return conn.RecordPong()
}

// HandleMissedTick increments conn's missed-pong count by one and returns
// the new count. Nothing in this module calls it; the supervisor's own
// evaluate pass counts misses through Connection.CheckMissedPong.
func (s *Supervisor) HandleMissedTick(conn *model.Connection) int32 {
	return conn.IncrementMissedPong()
}
