package sidewatch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/sidewatch/internal/config"
	"github.com/loykin/sidewatch/internal/health"
	"github.com/loykin/sidewatch/internal/history"
	"github.com/loykin/sidewatch/internal/history/factory"
	"github.com/loykin/sidewatch/internal/lifecycle"
	"github.com/loykin/sidewatch/internal/logger"
	"github.com/loykin/sidewatch/internal/metrics"
	"github.com/loykin/sidewatch/internal/monitor"
	"github.com/loykin/sidewatch/internal/notify"
	iapi "github.com/loykin/sidewatch/internal/server"
	"github.com/loykin/sidewatch/internal/shutdown"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.Config

type HistoryConfig = cfg.HistoryConfig

type HistorySink = history.Sink

type HistoryEvent = history.Event

type Snapshot = monitor.Snapshot

type HealthStatus = health.Status

type State = lifecycle.State

type Notifier = notify.Sink

type NotifyEvent = notify.Event

type ChanNotifier = notify.ChanSink

// DefaultConfig returns a config with defaults filled in; the caller
// sets at least BinaryPath.
func DefaultConfig() Config { return cfg.Default() }

// LoadConfig reads a TOML config file plus env files and SIDEWATCH_*
// overrides.
func LoadConfig(path string) (Config, error) { return cfg.Load(path) }

// NewChanNotifier returns a notifier that forwards events to a buffered
// channel, for UIs and tests.
func NewChanNotifier(buf int) *ChanNotifier { return notify.NewChanSink(buf) }

// NewLogger builds the standard colored slog logger at the given level
// ("debug", "info", "warn", "error").
func NewLogger(level string) *slog.Logger {
	return logger.New(logger.ParseLevel(level))
}

// Option customizes a Supervisor.
type Option func(*Supervisor)

func WithLogger(log *slog.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

func WithNotifier(n Notifier) Option {
	return func(s *Supervisor) { s.notifier = n }
}

// WithHistory replaces the config-driven history sink with a custom one.
func WithHistory(h HistorySink) Option {
	return func(s *Supervisor) { s.hist = h }
}

// Supervisor manages one backend instance from spawn to exit. Each
// Supervisor is independent; there is no shared global state, so tests
// and embedders may run several side by side.
type Supervisor struct {
	cfg      Config
	log      *slog.Logger
	notifier Notifier
	hist     HistorySink

	mon       *monitor.Monitor
	coord     *shutdown.Coordinator
	histClose func() error

	closeOnce sync.Once
	closeErr  error
}

// New validates cfg and builds a supervisor. The backend is not started.
func New(c Config, opts ...Option) (*Supervisor, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	s := &Supervisor{cfg: c.Clone()}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.notifier == nil {
		s.notifier = notify.NewSlogSink(s.log)
	}
	if s.hist == nil && c.History.Type != "" {
		sink, err := factory.New(c.History)
		if err != nil {
			return nil, fmt.Errorf("configure history sink: %w", err)
		}
		if sink != nil {
			s.hist = sink
			s.histClose = sink.Close
		}
	}

	s.mon = monitor.New(s.cfg, monitor.Options{
		Log:      s.log,
		Notifier: s.notifier,
		History:  s.hist,
	})
	s.coord = shutdown.NewCoordinator(s.log)
	s.coord.Register(s.cfg)
	return s, nil
}

// Start checks that the backend port is free, spawns the process and
// begins monitoring. Readiness is asynchronous; use WaitUntilHealthy or
// watch a notifier.
func (s *Supervisor) Start(ctx context.Context) error {
	free, err := s.cfg.IsPortAvailable()
	if err != nil {
		return err
	}
	if !free {
		return &cfg.PortBoundError{Port: s.cfg.Port}
	}
	return s.mon.Start(ctx)
}

// WaitUntilHealthy blocks until the backend reports ready or the startup
// timeout elapses.
func (s *Supervisor) WaitUntilHealthy(ctx context.Context) (HealthStatus, error) {
	return health.NewChecker().WaitUntilHealthy(ctx, s.cfg)
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State { return s.mon.State() }

// Status returns a point-in-time snapshot of the backend.
func (s *Supervisor) Status() Snapshot { return s.mon.Status() }

// Health performs one ad-hoc probe, independent of the poll loop.
func (s *Supervisor) Health(ctx context.Context) (HealthStatus, error) {
	return s.mon.Probe(ctx)
}

// Shutdown runs the exit sequence: a bounded backup-flush attempt, then
// graceful termination escalating to a forced kill. Safe to call when
// the backend is already down.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	err := s.coord.Shutdown(ctx, s.mon)
	s.mon.Close()
	return err
}

// Restart brings a terminal backend (stopped or crashed) back up with a
// fresh restart budget. Running backends are not restarted implicitly;
// call Shutdown first.
func (s *Supervisor) Restart(ctx context.Context) error {
	st := s.mon.State()
	if !st.CanRestart() {
		return fmt.Errorf("backend %s cannot restart from state %s", s.cfg.Name, st)
	}
	if !s.mon.ResetForRestart() {
		return fmt.Errorf("backend %s cannot restart from state %s", s.cfg.Name, s.mon.State())
	}
	metrics.IncRestart(s.cfg.Name)
	return s.mon.Start(ctx)
}

// Close releases the supervisor's resources. It terminates the backend
// if it is still running, stops the monitoring goroutines and closes the
// history sink.
func (s *Supervisor) Close() error {
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout+10*time.Second)
		defer cancel()
		s.closeErr = s.mon.Terminate(ctx)
		s.mon.Close()
		if s.histClose != nil {
			if err := s.histClose(); err != nil && s.closeErr == nil {
				s.closeErr = err
			}
		}
	})
	return s.closeErr
}

// NewHTTPServer starts an HTTP server on addr exposing the supervisor
// API under basePath. Stop it with http.Server's Shutdown.
func NewHTTPServer(addr, basePath string, s *Supervisor) *http.Server {
	r := iapi.NewRouter(s, basePath)
	if hr, ok := s.hist.(iapi.HistoryReader); ok {
		r = r.WithHistory(hr)
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

// APIHandler returns the supervisor API as an http.Handler for mounting
// into an embedder's own server.
func APIHandler(basePath string, s *Supervisor) http.Handler {
	r := iapi.NewRouter(s, basePath)
	if hr, ok := s.hist.(iapi.HistoryReader); ok {
		r = r.WithHistory(hr)
	}
	return r.Handler()
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// MetricsHandler returns the Prometheus scrape handler for the default
// registry.
func MetricsHandler() http.Handler { return metrics.Handler() }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the
// default registry. It runs in the caller's goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
