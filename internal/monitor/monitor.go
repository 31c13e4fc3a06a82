package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/sidewatch/internal/config"
	"github.com/loykin/sidewatch/internal/health"
	"github.com/loykin/sidewatch/internal/history"
	"github.com/loykin/sidewatch/internal/launch"
	"github.com/loykin/sidewatch/internal/lifecycle"
	"github.com/loykin/sidewatch/internal/metrics"
	"github.com/loykin/sidewatch/internal/notify"
)

const (
	// unhealthyThreshold is how many consecutive failed probes flip a
	// Healthy backend to Unhealthy. One successful probe flips it back.
	unhealthyThreshold = 3

	reapGrace     = 5 * time.Second
	historySendTO = 2 * time.Second
)

// restartDelay is the pause before respawning a crashed backend. A
// variable so tests can shorten it.
var restartDelay = 2 * time.Second

// Options carries the optional collaborators of a Monitor.
type Options struct {
	Log      *slog.Logger
	Notifier notify.Sink
	History  history.Sink
}

// Monitor owns one backend instance end to end: it spawns the process,
// watches for exit, polls health, drives the state machine, and applies
// the auto-restart policy. All monitoring goroutines belong to the
// monitor and are joined by Close.
type Monitor struct {
	cfg      config.Config
	log      *slog.Logger
	machine  *lifecycle.Machine
	launcher *launch.Launcher
	checker  *health.Checker
	notifier notify.Sink
	history  history.Sink

	mu         sync.Mutex
	child      *launch.Child
	restarts   uint32
	lastHealth health.Status
	failReason string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg config.Config, opts Options) *Monitor {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.NewSlogSink(log)
	}
	return &Monitor{
		cfg:      cfg,
		log:      log,
		machine:  lifecycle.NewMachine(cfg.Name),
		launcher: launch.NewLauncher(log),
		checker:  health.NewChecker(),
		notifier: notifier,
		history:  opts.History,
	}
}

// State returns the current lifecycle state.
func (m *Monitor) State() lifecycle.State { return m.machine.State() }

// Restarts returns how many automatic restarts have been consumed since
// the last manual (re)start.
func (m *Monitor) Restarts() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.restarts
}

// Start spawns the backend and begins monitoring. It returns once the
// process is running; readiness is reported asynchronously through the
// notifier and observable via Status.
func (m *Monitor) Start(ctx context.Context) error {
	if st := m.machine.State(); st != lifecycle.NotStarted {
		return fmt.Errorf("backend %s cannot start from state %s", m.cfg.Name, st)
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	m.cancel = cancel
	m.mu.Unlock()
	return m.begin(runCtx)
}

// begin performs one spawn attempt and launches the per-instance
// goroutines. Called from Start and from the auto-restart path.
func (m *Monitor) begin(ctx context.Context) error {
	if !m.machine.Transition(lifecycle.Starting) {
		return fmt.Errorf("backend %s cannot start from state %s", m.cfg.Name, m.machine.State())
	}

	child, err := m.launcher.Spawn(m.cfg)
	if err != nil {
		m.machine.Transition(lifecycle.Crashed)
		m.notifier.Crashed(err.Error())
		m.record(history.EventCrashed, 0, err.Error())
		return err
	}

	m.mu.Lock()
	m.child = child
	m.failReason = ""
	m.mu.Unlock()

	metrics.IncStart(m.cfg.Name)
	m.record(history.EventStart, child.PID(), "")

	instCtx, instCancel := context.WithCancel(ctx)
	m.wg.Add(2)
	go m.exitWatch(ctx, instCancel, child)
	go m.awaitReady(instCtx, child)
	return nil
}

// awaitReady drives Starting to Healthy (or failure) using the startup
// wait policy. On timeout the process is terminated so the exit watcher
// records the crash.
func (m *Monitor) awaitReady(ctx context.Context, child *launch.Child) {
	defer m.wg.Done()

	st, err := m.checker.WaitUntilHealthy(ctx, m.cfg)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if m.machine.State() != lifecycle.Starting {
			return
		}
		m.log.Error("backend failed to become healthy", "name", m.cfg.Name, "error", err)
		m.setFailReason(err.Error())
		if terr := child.Terminate(); terr != nil {
			_ = child.Kill()
			return
		}
		if !waitDone(child, reapGrace) {
			_ = child.Kill()
		}
		return
	}

	m.setLastHealth(st)
	if m.machine.Transition(lifecycle.Healthy) {
		m.notifier.Ready()
		m.record(history.EventReady, child.PID(), "")
		m.wg.Add(1)
		go m.healthLoop(ctx, child)
	}
}

// healthLoop polls the backend at the configured interval while it is in
// a running, post-startup state. Consecutive failures beyond the
// threshold mark the backend Unhealthy; a single success marks it
// Healthy again.
func (m *Monitor) healthLoop(ctx context.Context, child *launch.Child) {
	defer m.wg.Done()

	failures := 0
	for {
		if !waitCtx(ctx, m.cfg.HealthCheckInterval) {
			return
		}
		switch m.machine.State() {
		case lifecycle.Healthy, lifecycle.Unhealthy:
		default:
			return
		}

		st, err := m.checker.ProbeOnce(ctx, m.cfg)
		if err != nil || !st.Ready {
			failures++
			if failures >= unhealthyThreshold && m.machine.State() == lifecycle.Healthy {
				if m.machine.Transition(lifecycle.Unhealthy) {
					reason := "not ready"
					if err != nil {
						reason = err.Error()
					}
					m.log.Warn("backend became unhealthy",
						"name", m.cfg.Name, "failures", failures, "reason", reason)
					m.notifier.Unhealthy()
					m.record(history.EventUnhealthy, child.PID(), reason)
				}
			}
			continue
		}

		failures = 0
		m.setLastHealth(st)
		if m.machine.State() == lifecycle.Unhealthy && m.machine.Transition(lifecycle.Healthy) {
			m.log.Info("backend recovered", "name", m.cfg.Name)
			m.notifier.Ready()
			m.record(history.EventRecovered, child.PID(), "")
		}
	}
}

// exitWatch is the single waiter on the child process. It classifies the
// exit, records it, and applies the auto-restart policy.
func (m *Monitor) exitWatch(ctx context.Context, instCancel context.CancelFunc, child *launch.Child) {
	defer m.wg.Done()

	code, werr := child.Wait()
	instCancel()

	reason := m.takeFailReason()
	stopping := m.machine.State() == lifecycle.Stopping

	// Exit code 0 is a stop even when nobody asked for one, unless the
	// startup waiter already recorded a failure for this instance. The
	// restart policy only applies to crashes.
	if stopping || (code == 0 && werr == nil && reason == "") {
		to := lifecycle.StoppedForce
		if code == 0 && werr == nil {
			to = lifecycle.StoppedClean
		}
		m.machine.Transition(to)
		metrics.IncStop(m.cfg.Name)
		m.log.Info("backend stopped", "name", m.cfg.Name, "pid", child.PID(), "exit_code", code)
		m.notifier.Stopped()
		m.record(history.EventStopped, child.PID(), fmt.Sprintf("exit code %d", code))
		return
	}

	if reason == "" {
		reason = fmt.Sprintf("exited unexpectedly with code %d", code)
		if werr != nil {
			reason = fmt.Sprintf("wait failed: %v", werr)
		}
	}
	if m.machine.Transition(lifecycle.Crashed) {
		m.log.Error("backend crashed",
			"name", m.cfg.Name, "pid", child.PID(), "exit_code", code, "reason", reason)
		m.notifier.Crashed(reason)
		m.record(history.EventCrashed, child.PID(), reason)
	}

	m.maybeRestart(ctx)
}

// maybeRestart consumes one restart attempt if the policy allows it.
// The counter is cumulative across automatic restarts and only a manual
// restart resets it, so a crash-looping backend cannot restart forever.
func (m *Monitor) maybeRestart(ctx context.Context) {
	if !m.cfg.AutoRestart || ctx.Err() != nil {
		return
	}

	m.mu.Lock()
	m.restarts++
	n := m.restarts
	m.mu.Unlock()

	if n > m.cfg.MaxRestartAttempts {
		m.log.Error("restart limit reached; leaving backend stopped",
			"name", m.cfg.Name, "attempts", n-1, "limit", m.cfg.MaxRestartAttempts)
		m.notifier.Error(fmt.Sprintf("backend crashed %d times; automatic restarts disabled", n-1))
		return
	}

	m.log.Info("restarting backend after crash",
		"name", m.cfg.Name, "attempt", n, "limit", m.cfg.MaxRestartAttempts)
	if !waitCtx(ctx, restartDelay) {
		return
	}
	if !m.machine.Reset() {
		return
	}
	metrics.IncRestart(m.cfg.Name)
	m.record(history.EventRestart, 0, fmt.Sprintf("attempt %d of %d", n, m.cfg.MaxRestartAttempts))

	if err := m.begin(ctx); err != nil {
		m.log.Error("restart failed", "name", m.cfg.Name, "error", err)
	}
}

// Terminate stops the backend gracefully: a termination signal, a
// bounded wait for exit, then a forced kill of the process group. State
// bookkeeping happens in the exit watcher. Terminate only returns an
// error when the process could not be brought down.
func (m *Monitor) Terminate(ctx context.Context) error {
	m.mu.Lock()
	child := m.child
	m.mu.Unlock()

	st := m.machine.State()
	if child == nil || st == lifecycle.NotStarted || st.IsTerminal() {
		return nil
	}
	if child.Exited() {
		return nil
	}
	if !m.machine.Transition(lifecycle.Stopping) {
		return nil
	}

	m.log.Info("stopping backend", "name", m.cfg.Name, "pid", child.PID())
	if err := child.Terminate(); err != nil {
		m.log.Warn("termination signal failed; killing", "pid", child.PID(), "error", err)
		if kerr := child.Kill(); kerr != nil {
			return fmt.Errorf("kill backend pid %d: %w", child.PID(), kerr)
		}
	}

	grace := time.NewTimer(m.cfg.ShutdownTimeout)
	defer grace.Stop()
	select {
	case <-child.Done():
		return nil
	case <-grace.C:
	case <-ctx.Done():
	}

	m.log.Warn("backend did not exit within the shutdown timeout; killing process group",
		"name", m.cfg.Name, "pid", child.PID(), "timeout", m.cfg.ShutdownTimeout)
	if err := child.Kill(); err != nil && !child.Exited() {
		return fmt.Errorf("kill backend pid %d: %w", child.PID(), err)
	}
	if !waitDone(child, reapGrace) {
		return fmt.Errorf("backend pid %d did not exit after kill", child.PID())
	}
	return nil
}

// ResetForRestart prepares a fresh run after a terminal state and clears
// the restart budget. Reports false when the backend is still running.
func (m *Monitor) ResetForRestart() bool {
	if !m.machine.Reset() {
		return false
	}
	m.mu.Lock()
	m.restarts = 0
	m.mu.Unlock()
	return true
}

// Probe performs one ad-hoc health check, independent of the poll loop.
func (m *Monitor) Probe(ctx context.Context) (health.Status, error) {
	return m.checker.ProbeOnce(ctx, m.cfg)
}

// Snapshot is a point-in-time view of the supervised backend.
type Snapshot struct {
	Name        string        `json:"name"`
	State       string        `json:"state"`
	Description string        `json:"description"`
	PID         int           `json:"pid,omitempty"`
	StartedAt   time.Time     `json:"started_at,omitzero"`
	Uptime      time.Duration `json:"uptime,omitempty"`
	IsRunning   bool          `json:"is_running"`
	IsHealthy   bool          `json:"is_healthy"`
	CanRestart  bool          `json:"can_restart"`
	Restarts    uint32        `json:"restarts"`
	LastHealth  health.Status `json:"last_health,omitzero"`
}

// Status returns a consistent snapshot for callers and the HTTP API.
func (m *Monitor) Status() Snapshot {
	st := m.machine.State()
	m.mu.Lock()
	child := m.child
	restarts := m.restarts
	last := m.lastHealth
	m.mu.Unlock()

	s := Snapshot{
		Name:        m.cfg.Name,
		State:       st.String(),
		Description: st.Description(),
		IsRunning:   st.IsRunning(),
		IsHealthy:   st.IsHealthy(),
		CanRestart:  st.CanRestart(),
		Restarts:    restarts,
		LastHealth:  last,
	}
	if child != nil && !child.Exited() {
		s.PID = child.PID()
		s.StartedAt = child.StartedAt()
		s.Uptime = time.Since(child.StartedAt())
	}
	return s
}

// Close cancels the monitoring goroutines and waits for them to finish.
// The backend itself is not signalled; call Terminate first.
func (m *Monitor) Close() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

func (m *Monitor) setLastHealth(st health.Status) {
	m.mu.Lock()
	m.lastHealth = st
	m.mu.Unlock()
}

func (m *Monitor) setFailReason(reason string) {
	m.mu.Lock()
	if m.failReason == "" {
		m.failReason = reason
	}
	m.mu.Unlock()
}

func (m *Monitor) takeFailReason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.failReason
	m.failReason = ""
	return r
}

// record sends one event to the history sink, best effort.
func (m *Monitor) record(t history.EventType, pid int, reason string) {
	if m.history == nil {
		return
	}
	now := time.Now()
	ev := history.Event{
		Type:       t,
		OccurredAt: now,
		Record: history.Record{
			Name:      m.cfg.Name,
			PID:       pid,
			State:     m.machine.State().String(),
			Reason:    reason,
			UpdatedAt: now,
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), historySendTO)
	defer cancel()
	if err := m.history.Send(ctx, ev); err != nil {
		m.log.Warn("history sink send failed", "type", string(t), "error", err)
	}
}

func waitDone(child *launch.Child, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-child.Done():
		return true
	case <-t.C:
		return false
	}
}

func waitCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
