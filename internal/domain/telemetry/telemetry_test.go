package telemetry

import (
	"testing"
	"time"
)

func TestConnectionOpenedTracksPeak(t *testing.T) {
	tel := New()
	tel.ConnectionOpened()
	tel.ConnectionOpened()
	tel.ConnectionClosed()

	snap := tel.Snapshot()
	if snap.ActiveConnections != 1 {
		t.Fatalf("expected 1 active connection, got %d", snap.ActiveConnections)
	}
	if snap.PeakConnections != 2 {
		t.Fatalf("expected peak of 2, got %d", snap.PeakConnections)
	}
}

func TestAverageRTTComputesMean(t *testing.T) {
	tel := New()
	tel.SampleRTT(100 * time.Millisecond)
	tel.SampleRTT(200 * time.Millisecond)

	if got := tel.AverageRTT(); got != 150*time.Millisecond {
		t.Fatalf("expected average RTT of 150ms, got %s", got)
	}
}

func TestHealthScoreExcellentWithNoZombiesAndFullResponseRate(t *testing.T) {
	tel := New()
	tel.ConnectionOpened()
	tel.RecordHeartbeatSent()
	tel.RecordHeartbeatReceived()

	snap := tel.Snapshot()
	if snap.Health != HealthExcellent {
		t.Fatalf("expected excellent health, got %s (score=%f)", snap.Health, snap.HealthScore)
	}
}

func TestHealthScorePoorWithNoHeartbeatResponses(t *testing.T) {
	tel := New()
	tel.ConnectionOpened()
	tel.RecordHeartbeatSent()
	tel.RecordHeartbeatSent()
	tel.RecordZombieDetection()
	tel.RecordZombieDetection()

	snap := tel.Snapshot()
	if snap.Health != HealthPoor {
		t.Fatalf("expected poor health, got %s (score=%f)", snap.Health, snap.HealthScore)
	}
}

func TestSampleMemoryReturnsNonZeroAlloc(t *testing.T) {
	tel := New()
	if got := tel.SampleMemory(); got == 0 {
		t.Fatalf("expected a non-zero heap allocation sample")
	}
}
