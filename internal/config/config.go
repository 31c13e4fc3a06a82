package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"syscall"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/loykin/sidewatch/internal/logger"
)

// Defaults applied when a field is absent from file and environment.
const (
	DefaultHost                = "127.0.0.1"
	DefaultPort                = 8000
	DefaultStartupTimeout      = 30 * time.Second
	DefaultShutdownTimeout     = 30 * time.Second
	DefaultHealthCheckInterval = 5 * time.Second
	DefaultMaxRestartAttempts  = 3

	MinPort            = 1024
	MaxPort            = 65535
	MinStartupTimeout  = 5 * time.Second
	MinShutdownTimeout = 10 * time.Second
)

// Config describes how to reach and launch the supervised backend.
// It is immutable after Validate; workers receive clones.
type Config struct {
	Name                string        // label used in logs, metrics and history
	Host                string        // backend listen host
	Port                int           // backend listen port, 1024..65535
	BinaryPath          string        // backend executable
	DataDir             string        // directory handed to the backend via DATA_DIR
	StartupTimeout      time.Duration // overall wait for first healthy probe
	ShutdownTimeout     time.Duration // graceful termination deadline
	HealthCheckInterval time.Duration // steady-state poll interval
	AutoRestart         bool
	MaxRestartAttempts  uint32

	// Env holds user-supplied variables for the backend process in
	// declaration order. Later entries for the same key override earlier
	// ones (last-write-wins).
	Env *orderedmap.OrderedMap[string, string]

	Log     logger.Config
	History HistoryConfig
}

// HistoryConfig selects an optional lifecycle-event sink.
type HistoryConfig struct {
	Type  string `mapstructure:"type"` // "", "sqlite", "postgres", "clickhouse"
	Path  string `mapstructure:"path"` // sqlite database file
	DSN   string `mapstructure:"dsn"`  // postgres / clickhouse
	Table string `mapstructure:"table"`
}

// Default returns a config populated with defaults and an empty env map.
func Default() Config {
	return Config{
		Name:                "backend",
		Host:                DefaultHost,
		Port:                DefaultPort,
		StartupTimeout:      DefaultStartupTimeout,
		ShutdownTimeout:     DefaultShutdownTimeout,
		HealthCheckInterval: DefaultHealthCheckInterval,
		AutoRestart:         true,
		MaxRestartAttempts:  DefaultMaxRestartAttempts,
		Env:                 orderedmap.New[string, string](),
	}
}

// ValidationError reports a bad setting. It is never retried; startup fails fast.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Reason)
}

// BinaryNotFoundError reports a missing backend executable.
type BinaryNotFoundError struct {
	Path string
}

func (e *BinaryNotFoundError) Error() string {
	return fmt.Sprintf("backend binary not found: %s", e.Path)
}

// PortBoundError reports that the configured port is already taken.
type PortBoundError struct {
	Port int
}

func (e *PortBoundError) Error() string {
	return fmt.Sprintf("port %d is already in use; stop the other instance or change the port", e.Port)
}

// Validate checks the configuration. Checks are independent; the first
// failing one is reported.
func (c *Config) Validate() error {
	if c.Host == "" {
		return &ValidationError{Field: "host", Reason: "cannot be empty"}
	}
	if c.Port < MinPort || c.Port > MaxPort {
		return &ValidationError{
			Field:  "port",
			Reason: fmt.Sprintf("must be between %d and %d, got %d", MinPort, MaxPort, c.Port),
		}
	}
	if c.BinaryPath == "" {
		return &ValidationError{Field: "binary_path", Reason: "cannot be empty"}
	}
	if _, err := os.Stat(c.BinaryPath); err != nil {
		return &BinaryNotFoundError{Path: c.BinaryPath}
	}
	if c.StartupTimeout < MinStartupTimeout {
		return &ValidationError{
			Field:  "startup_timeout",
			Reason: fmt.Sprintf("must be at least %s", MinStartupTimeout),
		}
	}
	if c.ShutdownTimeout < MinShutdownTimeout {
		// The backend needs time to flush backups before forced termination.
		return &ValidationError{
			Field:  "shutdown_timeout",
			Reason: fmt.Sprintf("must be at least %s to allow backups to complete", MinShutdownTimeout),
		}
	}
	return nil
}

// IsPortAvailable probes the configured address by binding a test listener.
// "address in use" yields (false, nil); any other bind error is surfaced,
// never silently treated as available.
func (c *Config) IsPortAvailable() (bool, error) {
	ln, err := net.Listen("tcp", c.Addr())
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return false, nil
		}
		return false, fmt.Errorf("probe port %d: %w", c.Port, err)
	}
	_ = ln.Close()
	return true, nil
}

// Addr returns host:port of the backend.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// BaseURL returns the backend's base HTTP URL.
func (c *Config) BaseURL() string {
	return "http://" + c.Addr()
}

// HealthURL returns the health probe URL.
func (c *Config) HealthURL() string {
	return c.BaseURL() + "/health"
}

// BackupTriggerURL returns the best-effort flush endpoint used at shutdown.
func (c *Config) BackupTriggerURL() string {
	return c.BaseURL() + "/backups/trigger"
}

// SetEnv appends or overrides a backend environment variable. Existing keys
// keep their position; the value is replaced (last write wins).
func (c *Config) SetEnv(key, value string) {
	if c.Env == nil {
		c.Env = orderedmap.New[string, string]()
	}
	c.Env.Set(key, value)
}

// EnvSlice renders Env as KEY=VALUE pairs in declaration order.
func (c *Config) EnvSlice() []string {
	if c.Env == nil {
		return nil
	}
	out := make([]string, 0, c.Env.Len())
	for pair := c.Env.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key+"="+pair.Value)
	}
	return out
}

// Clone deep-copies the config so concurrent workers never share the env map.
func (c *Config) Clone() Config {
	cp := *c
	cp.Env = orderedmap.New[string, string]()
	if c.Env != nil {
		for pair := c.Env.Oldest(); pair != nil; pair = pair.Next() {
			cp.Env.Set(pair.Key, pair.Value)
		}
	}
	return cp
}
