package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	if m == nil {
		t.Fatal("NewWithRegistry() returned nil")
	}
	if m.RequestsTotal == nil || m.RequestDuration == nil || m.ErrorsTotal == nil {
		t.Fatal("expected HTTP/error collectors to be initialized")
	}
	if m.TasksByStatus == nil || m.TaskTransitions == nil || m.StagedQueueDepth == nil {
		t.Fatal("expected task lifecycle collectors to be initialized")
	}

	metricFamilies, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if len(metricFamilies) == 0 {
		t.Error("expected metrics to be registered")
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.RecordHTTPRequest("test-service", "POST", "/tasks", "201", 100*time.Millisecond)
	m.RecordHTTPRequest("test-service", "GET", "/tasks/1", "404", 5*time.Millisecond)
}

func TestRecordError(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.RecordError("management", "PermissionDenied", "ApproveTask")
	m.RecordError("management", "Conflict", "AssignData")
}

func TestTaskLifecycleMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.RecordTaskTransition("Ready", "Approved")
	m.SetTasksByStatus("Staged", 3)
	m.SetStagedQueueDepth(3)
	m.SetExecutorPoolSize(2)
}

func TestStorageMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.RecordStorageOp("enqueue", "ok", time.Millisecond)
	m.SetStorageConnections(1)
}

func TestUpdateUptimeAndInFlight(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.UpdateUptime(time.Now().Add(-time.Hour))
	m.IncrementInFlight()
	m.IncrementInFlight()
	m.DecrementInFlight()
}

func TestInitAndGlobal(t *testing.T) {
	m1 := Init("svc-a")
	m2 := Global()
	if m1 != m2 {
		t.Error("Global() should return the same instance as Init()")
	}

	m3 := Init("svc-b")
	if m1 != m3 {
		t.Error("Init() should be idempotent and return the first instance")
	}
}
