package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterAndHelpers(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	// Second call is a no-op.
	if err := Register(reg); err != nil {
		t.Fatalf("re-register: %v", err)
	}

	RecordStateTransition("b", "starting", "healthy")
	SetCurrentState("b", "healthy", true)
	ObserveProbe("b", 0.05, true)
	ObserveProbe("b", 2.0, false)
	IncRestart("b")
	IncStart("b")
	IncStop("b")
	IncFlush("b", "timeout")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := map[string]bool{}
	for _, mf := range mfs {
		found[mf.GetName()] = true
	}
	for _, name := range []string{
		"sidewatch_backend_state_transitions_total",
		"sidewatch_backend_current_state",
		"sidewatch_backend_health_probes_total",
		"sidewatch_backend_health_probe_duration_seconds",
		"sidewatch_backend_restarts_total",
		"sidewatch_backend_starts_total",
		"sidewatch_backend_stops_total",
		"sidewatch_backend_shutdown_flush_total",
	} {
		if !found[name] {
			t.Fatalf("metric %s not gathered", name)
		}
	}
}
