package launch

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/loykin/sidewatch/internal/config"
)

// SupervisedEnvMarker tells the backend it runs under a supervisor.
const SupervisedEnvMarker = "SIDEWATCH_SUPERVISED"

// SpawnError reports a failed attempt to start the backend process.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn backend %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Launcher starts the backend as a child process.
type Launcher struct {
	log *slog.Logger
}

func NewLauncher(log *slog.Logger) *Launcher {
	if log == nil {
		log = slog.Default()
	}
	return &Launcher{log: log}
}

// Spawn starts the backend described by cfg and returns its handle.
// The working directory is the parent directory of the binary. The child
// environment is the supervisor's environment plus the backend address,
// the supervised-mode marker, DATA_DIR, and all configured variables in
// declaration order; exec.Cmd uses the last entry on duplicate keys, so
// user overrides win.
func (l *Launcher) Spawn(cfg config.Config) (*Child, error) {
	workDir := filepath.Dir(cfg.BinaryPath)

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = filepath.Join(workDir, "data")
	}
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, &SpawnError{Path: cfg.BinaryPath, Err: fmt.Errorf("create data dir: %w", err)}
	}

	cmd := exec.Command(cfg.BinaryPath) // #nosec G204 -- path comes from validated config
	cmd.Dir = workDir

	env := append([]string(nil), os.Environ()...)
	env = append(env,
		"BACKEND_HOST="+cfg.Host,
		"BACKEND_PORT="+strconv.Itoa(cfg.Port),
		SupervisedEnvMarker+"=true",
		"DATA_DIR="+dataDir,
	)
	env = append(env, cfg.EnvSlice()...)
	cmd.Env = env

	configureSysProcAttr(cmd)

	var outW, errW io.WriteCloser
	if cfg.Log.Enabled() {
		if cfg.Log.Dir != "" {
			_ = os.MkdirAll(cfg.Log.Dir, 0o750)
		}
		outW, errW = cfg.Log.Writers()
	}
	if outW != nil {
		cmd.Stdout = outW
	} else {
		cmd.Stdout = os.Stdout
	}
	if errW != nil {
		cmd.Stderr = errW
	} else {
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		closeWriters(outW, errW)
		return nil, &SpawnError{Path: cfg.BinaryPath, Err: err}
	}

	l.log.Info("backend process spawned",
		"pid", cmd.Process.Pid,
		"binary", cfg.BinaryPath,
		"workdir", workDir,
		"data_dir", dataDir)

	return &Child{
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		outW:      outW,
		errW:      errW,
		done:      make(chan struct{}),
	}, nil
}

func closeWriters(ws ...io.WriteCloser) {
	for _, w := range ws {
		if w != nil {
			_ = w.Close()
		}
	}
}

// Child is the handle to one running backend process. It is exclusively
// owned by the monitor: only one goroutine may call Wait, everyone else
// watches Done.
type Child struct {
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	outW      io.WriteCloser
	errW      io.WriteCloser

	waitOnce sync.Once
	done     chan struct{}

	mu       sync.Mutex
	exitCode int
	exitErr  error
}

func (c *Child) PID() int { return c.pid }

func (c *Child) StartedAt() time.Time { return c.startedAt }

// Wait blocks until the process exits and returns its exit code. A negative
// code with a non-nil error means the wait itself failed. Safe to call more
// than once; later calls return the recorded result.
func (c *Child) Wait() (int, error) {
	c.waitOnce.Do(func() {
		err := c.cmd.Wait()
		code := 0
		if err != nil {
			if ee, ok := err.(*exec.ExitError); ok {
				code = ee.ExitCode()
				err = nil
			} else {
				code = -1
			}
		}
		c.mu.Lock()
		c.exitCode = code
		c.exitErr = err
		c.mu.Unlock()
		closeWriters(c.outW, c.errW)
		close(c.done)
	})
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitCode, c.exitErr
}

// Done is closed once the process has exited and been reaped.
func (c *Child) Done() <-chan struct{} { return c.done }

// Exited reports whether the process has been reaped.
func (c *Child) Exited() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Terminate asks the process (group) to stop gracefully.
func (c *Child) Terminate() error { return terminate(c.pid) }

// Kill forcibly ends the process (group).
func (c *Child) Kill() error { return kill(c.pid) }
