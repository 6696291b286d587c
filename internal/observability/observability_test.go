package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jkaninda/sanduku/internal/config"
	"github.com/jkaninda/sanduku/internal/sandbox"
)

// --- No-op Path ---

func TestNew_NilConfig(t *testing.T) {
	obs, err := New(nil, nil)
	if err != nil {
		t.Fatalf("New(nil) error: %v", err)
	}
	if obs != nil {
		t.Fatal("expected nil Observability for nil config")
	}
}

func TestNew_AllDisabled(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if obs == nil {
		t.Fatal("expected non-nil Observability")
	}
	if obs.Metrics != nil {
		t.Error("metrics should be nil when not enabled")
	}
	if obs.Tracer != nil {
		t.Error("tracer should be nil when not enabled")
	}
	if obs.Health == nil {
		t.Error("health checker should always be created")
	}
}

func TestObservability_ShutdownNil(t *testing.T) {
	// Should not panic.
	var obs *Observability
	obs.Shutdown(context.Background())
}

func TestTracerOrNil_Nil(t *testing.T) {
	var obs *Observability
	if obs.TracerOrNil() != nil {
		t.Error("expected nil tracer from nil Observability")
	}
}

// --- TracerSetup ---

func TestNewTracerSetup_Disabled(t *testing.T) {
	setup, err := NewTracerSetup(nil)
	if err != nil || setup != nil {
		t.Fatalf("nil config: setup=%v, err=%v, want nil/nil", setup, err)
	}
	setup, err = NewTracerSetup(&config.TracingConfig{Enabled: false, Endpoint: "localhost:4317"})
	if err != nil || setup != nil {
		t.Fatalf("disabled: setup=%v, err=%v, want nil/nil", setup, err)
	}
}

func TestTracerSetup_NilIsUsable(t *testing.T) {
	var setup *TracerSetup
	if setup.Tracer() == nil {
		t.Error("nil setup must hand out a noop tracer, not nil")
	}
	if err := setup.Shutdown(context.Background()); err != nil {
		t.Errorf("nil setup shutdown: %v", err)
	}
}

// --- MetricsCollector ---

func TestMetricsCollector_Created(t *testing.T) {
	m := NewMetricsCollector()
	if m == nil {
		t.Fatal("expected non-nil MetricsCollector")
	}
	if m.Registry == nil {
		t.Fatal("expected non-nil Registry")
	}

	m.SandboxExecutionsTotal.WithLabelValues("container", "success").Inc()
	m.RecordDecision("auto-approve")

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gathering: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("no metric families registered")
	}
}

func TestRecordDecision_NilCollector(t *testing.T) {
	// Should not panic.
	var m *MetricsCollector
	m.RecordDecision("confirm")
}

// --- InstrumentedBackend ---

type stubBackend struct {
	result *sandbox.Result
	err    error
}

func (s *stubBackend) Run(_ context.Context, _ string, _ time.Duration) (*sandbox.Result, error) {
	return s.result, s.err
}
func (s *stubBackend) Cleanup(context.Context)      {}
func (s *stubBackend) Kind() sandbox.Kind           { return sandbox.KindSubprocess }
func (s *stubBackend) Isolation() sandbox.Isolation { return sandbox.IsolationNone }

func TestInstrumentedBackend_PassesThrough(t *testing.T) {
	want := &sandbox.Result{Output: "ok", ExitCode: 0}
	b := NewInstrumentedBackend(&stubBackend{result: want}, NewMetricsCollector(), nil)

	got, err := b.Run(context.Background(), "true", time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("result was not passed through unchanged")
	}
	if b.Kind() != sandbox.KindSubprocess {
		t.Errorf("kind = %q", b.Kind())
	}
}

func TestInstrumentedBackend_RecordsTimeout(t *testing.T) {
	m := NewMetricsCollector()
	b := NewInstrumentedBackend(&stubBackend{result: &sandbox.Result{TimedOut: true, ExitCode: 124}}, m, nil)

	if _, err := b.Run(context.Background(), "sleep 999", time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gathering: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "sanduku_sandbox_timeouts_total" {
			found = true
		}
	}
	if !found {
		t.Error("timeout counter not registered after a timed-out run")
	}
}

func TestInstrumentedBackend_PropagatesError(t *testing.T) {
	wantErr := errors.New("runtime down")
	b := NewInstrumentedBackend(&stubBackend{err: wantErr}, NewMetricsCollector(), nil)

	if _, err := b.Run(context.Background(), "true", time.Second); !errors.Is(err, wantErr) {
		t.Errorf("error not propagated: %v", err)
	}
}

// --- HealthChecker ---

func TestHealthChecker_AllPass(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("runtime", func(context.Context) error { return nil })

	status := h.CheckReady(context.Background())
	if status.Status != "ok" {
		t.Errorf("status = %q, want ok", status.Status)
	}
}

func TestHealthChecker_Degraded(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("runtime", func(context.Context) error { return errors.New("docker info failed") })
	h.AddCheck("history", func(context.Context) error { return nil })

	status := h.CheckReady(context.Background())
	if status.Status != "degraded" {
		t.Errorf("status = %q, want degraded", status.Status)
	}
	if status.Checks["runtime"].Status != "fail" {
		t.Errorf("runtime check = %+v", status.Checks["runtime"])
	}
	if status.Checks["history"].Status != "ok" {
		t.Errorf("history check = %+v", status.Checks["history"])
	}
}
