package lifecycle

// State is the lifecycle state of one supervised backend instance.
type State int32

const (
	// NotStarted is the initial state before any spawn.
	NotStarted State = iota
	// Starting means the process has been spawned but is not yet healthy.
	Starting
	// Healthy means the backend answers health probes with ready=true.
	Healthy
	// Unhealthy means the process runs but health probes keep failing.
	Unhealthy
	// Stopping means a graceful shutdown is in progress.
	Stopping
	// StoppedClean means the backend exited with status 0.
	StoppedClean
	// StoppedForce means the backend had to be killed.
	StoppedForce
	// Crashed means the backend exited unexpectedly or never became healthy.
	Crashed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Starting:
		return "starting"
	case Healthy:
		return "healthy"
	case Unhealthy:
		return "unhealthy"
	case Stopping:
		return "stopping"
	case StoppedClean:
		return "stopped_clean"
	case StoppedForce:
		return "stopped_force"
	case Crashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// Description returns a human-readable label for UIs.
func (s State) Description() string {
	switch s {
	case NotStarted:
		return "Not Started"
	case Starting:
		return "Starting"
	case Healthy:
		return "Healthy"
	case Unhealthy:
		return "Unhealthy"
	case Stopping:
		return "Stopping"
	case StoppedClean:
		return "Stopped (Clean)"
	case StoppedForce:
		return "Stopped (Forced)"
	case Crashed:
		return "Crashed"
	default:
		return "Unknown"
	}
}

// IsRunning reports whether the process is expected to be alive and serving
// (Starting and Healthy are the only running states; Unhealthy has a live
// process but is reported separately).
func (s State) IsRunning() bool {
	return s == Starting || s == Healthy
}

func (s State) IsHealthy() bool { return s == Healthy }

// IsTerminal reports whether monitoring for this instance is over.
func (s State) IsTerminal() bool {
	return s == StoppedClean || s == StoppedForce || s == Crashed
}

// CanRestart is true only once the instance reached a terminal state.
func (s State) CanRestart() bool { return s.IsTerminal() }
