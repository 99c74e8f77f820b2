package model

import "time"

// ShutdownPhase enumerates the five sequential phases.
type ShutdownPhase int

const (
	PhaseNotStarted ShutdownPhase = iota
	PhaseStopAccepting
	PhaseNotifyClients
	PhaseDrain
	PhaseHeartbeatStop
	PhaseForceClose
	PhaseComplete
)

func (p ShutdownPhase) String() string {
	switch p {
	case PhaseNotStarted:
		return "NOT_STARTED"
	case PhaseStopAccepting:
		return "STOP_ACCEPTING"
	case PhaseNotifyClients:
		return "NOTIFY_CLIENTS"
	case PhaseDrain:
		return "DRAIN"
	case PhaseHeartbeatStop:
		return "HEARTBEAT_STOP"
	case PhaseForceClose:
		return "FORCE_CLOSE"
	case PhaseComplete:
		return "COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// ShutdownLedger accumulates the metrics the shutdown coordinator reports to be
// emitted at the end of a drain cycle.
type ShutdownLedger struct {
	Phase             ShutdownPhase
	PhaseEnteredAt    time.Time
	PhaseDurations    map[ShutdownPhase]time.Duration
	TotalConnections  int
	GracefullyClosed  int
	ForceClosed       int
	MessagesPreserved int
	MessagesLost      int
	CallbackFailures  int
	Success           bool
}

func NewShutdownLedger() *ShutdownLedger {
	return &ShutdownLedger{
		Phase:          PhaseNotStarted,
		PhaseEnteredAt: time.Now(),
		PhaseDurations: make(map[ShutdownPhase]time.Duration),
	}
}

func (l *ShutdownLedger) EnterPhase(p ShutdownPhase) {
	now := time.Now()
	l.PhaseDurations[l.Phase] += now.Sub(l.PhaseEnteredAt)
	l.Phase = p
	l.PhaseEnteredAt = now
}

// Reconciled checks that every connection present at shutdown was
// accounted for: gracefully_closed + force_closed == total_connections.
func (l *ShutdownLedger) Reconciled() bool {
	return l.GracefullyClosed+l.ForceClosed == l.TotalConnections
}
