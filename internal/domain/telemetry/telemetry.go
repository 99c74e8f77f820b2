// Package telemetry implements the counters, rolling samples, and derived
// health score of component C13, exported as Prometheus gauges/counters
// alongside an in-process rolling history for trend reporting.
package telemetry

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HealthStatus classifies the derived health score into a human label.
type HealthStatus string

const (
	HealthExcellent HealthStatus = "excellent"
	HealthGood      HealthStatus = "good"
	HealthDegraded  HealthStatus = "degraded"
	HealthPoor      HealthStatus = "poor"
)

const historyCap = 1000

// Telemetry aggregates process-wide counters and bounded rolling samples.
// All counters are atomics; SampleRTT/SampleMemory append under a mutex.
type Telemetry struct {
	active atomic.Int64
	peak   atomic.Int64

	sent     atomic.Uint64
	received atomic.Uint64
	errors   atomic.Uint64

	heartbeatsSent     atomic.Uint64
	heartbeatsReceived atomic.Uint64
	heartbeatsMissed   atomic.Uint64

	broadcastSuccess atomic.Uint64
	broadcastFailure atomic.Uint64
	zombieDetections atomic.Uint64

	mu          sync.Mutex
	rttHistory  []time.Duration
	memHistory  []uint64

	registry *prometheus.Registry

	promActive           prometheus.Gauge
	promSent             prometheus.Counter
	promReceived         prometheus.Counter
	promErrors           prometheus.Counter
	promZombieDetections prometheus.Counter
}

func New() *Telemetry {
	reg := prometheus.NewRegistry()
	t := &Telemetry{
		registry: reg,
		promActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ws_fabric_active_connections",
			Help: "Number of currently active connections.",
		}),
		promSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ws_fabric_messages_sent_total",
			Help: "Total messages sent to clients.",
		}),
		promReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ws_fabric_messages_received_total",
			Help: "Total messages received from clients.",
		}),
		promErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ws_fabric_errors_total",
			Help: "Total send/receive errors observed.",
		}),
		promZombieDetections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ws_fabric_zombie_detections_total",
			Help: "Total connections demoted to the zombie state.",
		}),
	}
	reg.MustRegister(t.promActive, t.promSent, t.promReceived, t.promErrors, t.promZombieDetections)
	return t
}

// Registry exposes the Prometheus registry for the metrics HTTP handler.
func (t *Telemetry) Registry() *prometheus.Registry { return t.registry }

func (t *Telemetry) ConnectionOpened() {
	active := t.active.Add(1)
	t.promActive.Set(float64(active))
	for {
		peak := t.peak.Load()
		if active <= peak || t.peak.CompareAndSwap(peak, active) {
			break
		}
	}
}

func (t *Telemetry) ConnectionClosed() {
	active := t.active.Add(-1)
	t.promActive.Set(float64(active))
}

func (t *Telemetry) RecordSent()     { t.sent.Add(1); t.promSent.Inc() }
func (t *Telemetry) RecordReceived() { t.received.Add(1); t.promReceived.Inc() }
func (t *Telemetry) RecordError()    { t.errors.Add(1); t.promErrors.Inc() }

func (t *Telemetry) RecordHeartbeatSent()     { t.heartbeatsSent.Add(1) }
func (t *Telemetry) RecordHeartbeatReceived() { t.heartbeatsReceived.Add(1) }
func (t *Telemetry) RecordHeartbeatMissed()   { t.heartbeatsMissed.Add(1) }

func (t *Telemetry) RecordBroadcastSuccess() { t.broadcastSuccess.Add(1) }
func (t *Telemetry) RecordBroadcastFailure() { t.broadcastFailure.Add(1) }

func (t *Telemetry) RecordZombieDetection() {
	t.zombieDetections.Add(1)
	t.promZombieDetections.Inc()
}

// SampleRTT appends one RTT observation to the bounded rolling history.
func (t *Telemetry) SampleRTT(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rttHistory = append(t.rttHistory, d)
	if len(t.rttHistory) > historyCap {
		t.rttHistory = t.rttHistory[len(t.rttHistory)-historyCap:]
	}
}

// SampleMemory appends the process's current heap allocation to a bounded
// rolling history, the Go analogue of a per-process memory trend gauge.
func (t *Telemetry) SampleMemory() uint64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.memHistory = append(t.memHistory, stats.Alloc)
	if len(t.memHistory) > historyCap {
		t.memHistory = t.memHistory[len(t.memHistory)-historyCap:]
	}
	return stats.Alloc
}

// AverageRTT returns the mean of the rolling RTT history, or zero if empty.
func (t *Telemetry) AverageRTT() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.rttHistory) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range t.rttHistory {
		total += d
	}
	return total / time.Duration(len(t.rttHistory))
}

// Snapshot is a point-in-time read of every counter, for the manager's
// get_stats surface.
type Snapshot struct {
	ActiveConnections  int64
	PeakConnections    int64
	MessagesSent       uint64
	MessagesReceived   uint64
	Errors             uint64
	HeartbeatsSent     uint64
	HeartbeatsReceived uint64
	HeartbeatsMissed   uint64
	BroadcastSuccess   uint64
	BroadcastFailure   uint64
	ZombieDetections   uint64
	AverageRTT         time.Duration
	HealthScore        float64
	Health             HealthStatus
}

func (t *Telemetry) Snapshot() Snapshot {
	s := Snapshot{
		ActiveConnections:  t.active.Load(),
		PeakConnections:    t.peak.Load(),
		MessagesSent:       t.sent.Load(),
		MessagesReceived:   t.received.Load(),
		Errors:             t.errors.Load(),
		HeartbeatsSent:     t.heartbeatsSent.Load(),
		HeartbeatsReceived: t.heartbeatsReceived.Load(),
		HeartbeatsMissed:   t.heartbeatsMissed.Load(),
		BroadcastSuccess:   t.broadcastSuccess.Load(),
		BroadcastFailure:   t.broadcastFailure.Load(),
		ZombieDetections:   t.zombieDetections.Load(),
		AverageRTT:         t.AverageRTT(),
	}
	s.HealthScore, s.Health = healthScore(s)
	return s
}

// healthScore implements health_score = (healthy_ratio + response_rate) / 2
// and buckets it into a status label.
func healthScore(s Snapshot) (float64, HealthStatus) {
	const epsilon = 1e-9

	total := float64(s.ActiveConnections)
	unhealthy := float64(s.ZombieDetections)
	healthyRatio := 1.0
	if total+epsilon > 0 {
		healthyRatio = (total - unhealthy) / (total + epsilon)
		if healthyRatio < 0 {
			healthyRatio = 0
		}
	}

	responseRate := 1.0
	if s.HeartbeatsSent > 0 {
		responseRate = float64(s.HeartbeatsReceived) / float64(s.HeartbeatsSent)
	}

	score := (healthyRatio + responseRate) / 2

	switch {
	case score >= 0.9:
		return score, HealthExcellent
	case score >= 0.75:
		return score, HealthGood
	case score >= 0.5:
		return score, HealthDegraded
	default:
		return score, HealthPoor
	}
}
