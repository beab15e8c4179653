package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNew(t *testing.T) {
	// Use a custom registry for testing to avoid conflicts
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", "0.1.0", reg)

	if m == nil {
		t.Fatal("Expected metrics instance, got nil")
	}

	if m.RequestsTotal == nil {
		t.Error("RequestsTotal should not be nil")
	}
	if m.RequestDuration == nil {
		t.Error("RequestDuration should not be nil")
	}
	if m.ErrorsTotal == nil {
		t.Error("ErrorsTotal should not be nil")
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", "0.1.0", reg)

	// Should not panic
	m.RecordHTTPRequest("test-service", "GET", "/api/test", "200", 100*time.Millisecond)
	m.RecordHTTPRequest("test-service", "POST", "/api/test", "201", 200*time.Millisecond)
	m.RecordHTTPRequest("test-service", "GET", "/api/test", "404", 50*time.Millisecond)
}

func TestRecordError(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", "0.1.0", reg)

	// Should not panic
	m.RecordError("test-service", "validation", "create_task")
	m.RecordError("test-service", "store", "commit")
}

func TestRecordWriteCommit(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", "0.1.0", reg)

	// Should not panic
	m.RecordWriteCommit("escrows", "ok", 2*time.Millisecond)
	m.RecordWriteCommit("escrows", "rolled_back", 1*time.Millisecond)
}

func TestRecordEnvelopeVerification(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", "0.1.0", reg)

	// Should not panic
	m.RecordEnvelopeVerification("ok")
	m.RecordEnvelopeVerification("bad_signature")
}

func TestRecordEscrowOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", "0.1.0", reg)

	// Should not panic
	m.RecordEscrowOperation("reserve", "ok")
	m.RecordEscrowOperation("release", "insufficient_funds")
}

func TestRecordDisputeRuling(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", "0.1.0", reg)

	// Should not panic
	m.RecordDisputeRuling("claimant")
	m.RecordDisputeRuling("split")
}

func TestSetWriteQueueDepth(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", "0.1.0", reg)

	// Should not panic
	m.SetWriteQueueDepth(10)
	m.SetWriteQueueDepth(0)
}

func TestUpdateUptime(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", "0.1.0", reg)
	startTime := time.Now().Add(-1 * time.Hour)

	// Should not panic
	m.UpdateUptime(startTime)
}

func TestInFlightCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", "0.1.0", reg)

	// Should not panic
	m.IncrementInFlight()
	m.IncrementInFlight()
	m.DecrementInFlight()
	m.DecrementInFlight()
}

func TestNewWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", "0.1.0", reg)

	if m == nil {
		t.Fatal("Expected metrics instance, got nil")
	}

	// Verify metrics are registered
	metricFamilies, err := reg.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	if len(metricFamilies) == 0 {
		t.Error("Expected metrics to be registered")
	}
}
