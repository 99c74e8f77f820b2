package model

import "time"

// HeartbeatSample is one rolling-history entry for a connection's liveness
// trend.
type HeartbeatSample struct {
	At      time.Time
	RTT     time.Duration
	Missed  bool
}

// HeartbeatMetrics is the per-connection `{sent, received, missed,
// avg_rtt}` bundle, plus a bounded rolling history.
type HeartbeatMetrics struct {
	Sent     uint64
	Received uint64
	Missed   uint64
	AvgRTT   time.Duration

	history    []HeartbeatSample
	historyCap int
}

func NewHeartbeatMetrics(historyCap int) *HeartbeatMetrics {
	if historyCap <= 0 {
		historyCap = 64
	}
	return &HeartbeatMetrics{historyCap: historyCap}
}

func (m *HeartbeatMetrics) RecordPingSent() {
	m.Sent++
}

func (m *HeartbeatMetrics) RecordPongReceived(rtt time.Duration) {
	m.Received++
	m.appendHistory(HeartbeatSample{At: time.Now(), RTT: rtt})
	m.recomputeAvg()
}

func (m *HeartbeatMetrics) RecordMissed() {
	m.Missed++
	m.appendHistory(HeartbeatSample{At: time.Now(), Missed: true})
}

func (m *HeartbeatMetrics) appendHistory(s HeartbeatSample) {
	m.history = append(m.history, s)
	if len(m.history) > m.historyCap {
		m.history = m.history[len(m.history)-m.historyCap:]
	}
}

func (m *HeartbeatMetrics) recomputeAvg() {
	var total time.Duration
	var n int
	for _, s := range m.history {
		if !s.Missed {
			total += s.RTT
			n++
		}
	}
	if n == 0 {
		m.AvgRTT = 0
		return
	}
	m.AvgRTT = total / time.Duration(n)
}
