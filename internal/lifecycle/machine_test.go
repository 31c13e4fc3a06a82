package lifecycle

import "testing"

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from, to State
		ok       bool
	}{
		{NotStarted, Starting, true},
		{NotStarted, Healthy, false},
		{Starting, Healthy, true},
		{Starting, Stopping, true},
		{Starting, Crashed, true},
		{Starting, Unhealthy, false},
		{Healthy, Unhealthy, true},
		{Healthy, Stopping, true},
		{Healthy, Crashed, true},
		{Unhealthy, Healthy, true},
		{Unhealthy, Stopping, true},
		{Unhealthy, Crashed, true},
		// spontaneous clean exit
		{Starting, StoppedClean, true},
		{Healthy, StoppedClean, true},
		{Unhealthy, StoppedClean, true},
		// a forced stop always passes through Stopping
		{Healthy, StoppedForce, false},
		{Stopping, StoppedClean, true},
		{Stopping, StoppedForce, true},
		{Stopping, Healthy, false},
		// terminal states have no outgoing edges
		{StoppedClean, Starting, false},
		{StoppedForce, Starting, false},
		{Crashed, Starting, false},
		{Crashed, Healthy, false},
	}
	for _, tc := range cases {
		m := NewMachine("t")
		m.state = tc.from
		if got := m.Transition(tc.to); got != tc.ok {
			t.Fatalf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.ok)
		}
		want := tc.from
		if tc.ok {
			want = tc.to
		}
		if m.State() != want {
			t.Fatalf("%s -> %s: state is %s", tc.from, tc.to, m.State())
		}
	}
}

func TestTransition_SameStateIsNoOp(t *testing.T) {
	m := NewMachine("t")
	m.state = Healthy
	if !m.Transition(Healthy) {
		t.Fatal("setting the current state again should succeed")
	}
	if m.State() != Healthy {
		t.Fatalf("state changed: %s", m.State())
	}
}

// A late health result cannot resurrect a crashed instance: the exit
// watcher's terminal write wins.
func TestCrashBeatsLateHealthResult(t *testing.T) {
	m := NewMachine("t")
	m.state = Starting
	if !m.Transition(Crashed) {
		t.Fatal("Starting -> Crashed must be allowed")
	}
	if m.Transition(Healthy) {
		t.Fatal("Crashed -> Healthy must be rejected")
	}
	if m.State() != Crashed {
		t.Fatalf("state is %s, want crashed", m.State())
	}
}

func TestReset(t *testing.T) {
	m := NewMachine("t")
	m.state = Crashed
	if !m.Reset() {
		t.Fatal("reset from terminal state should succeed")
	}
	if m.State() != NotStarted {
		t.Fatalf("state is %s after reset", m.State())
	}

	m.state = Healthy
	if m.Reset() {
		t.Fatal("reset while running must be rejected")
	}
}

func TestStatePredicates(t *testing.T) {
	if !Starting.IsRunning() || !Healthy.IsRunning() {
		t.Fatal("Starting and Healthy are running states")
	}
	if Unhealthy.IsRunning() || Stopping.IsRunning() || Crashed.IsRunning() {
		t.Fatal("only Starting and Healthy are running states")
	}
	if !Healthy.IsHealthy() || Unhealthy.IsHealthy() {
		t.Fatal("IsHealthy must hold exactly for Healthy")
	}
	for _, s := range []State{StoppedClean, StoppedForce, Crashed} {
		if !s.IsTerminal() || !s.CanRestart() {
			t.Fatalf("%s must be terminal and restartable", s)
		}
	}
	for _, s := range []State{NotStarted, Starting, Healthy, Unhealthy, Stopping} {
		if s.IsTerminal() || s.CanRestart() {
			t.Fatalf("%s must not be terminal", s)
		}
	}
}

func TestStateStrings(t *testing.T) {
	if Crashed.String() != "crashed" || StoppedClean.String() != "stopped_clean" {
		t.Fatal("unexpected state names")
	}
	if StoppedForce.Description() != "Stopped (Forced)" {
		t.Fatalf("unexpected description: %s", StoppedForce.Description())
	}
}
