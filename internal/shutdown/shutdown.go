package shutdown

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/loykin/sidewatch/internal/config"
	"github.com/loykin/sidewatch/internal/metrics"
)

// Flush budget: the coordinator never delays application exit for more
// than FlushBound waiting on the backup trigger. The HTTP client is cut
// even tighter so a hung backend cannot consume the whole budget on a
// single connect.
const (
	FlushBound     = 400 * time.Millisecond
	flushConnectTO = 200 * time.Millisecond
	flushTotalTO   = 300 * time.Millisecond
)

// Terminator stops a running backend. Satisfied by the monitor.
type Terminator interface {
	Terminate(ctx context.Context) error
}

// Coordinator runs the application-exit sequence: give the backend a
// bounded chance to flush data via its backup trigger, then terminate it
// unconditionally. Flush failures are logged, never returned; only a
// failed termination surfaces as an error.
type Coordinator struct {
	log *slog.Logger

	mu  sync.Mutex
	cfg *config.Config
}

func NewCoordinator(log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{log: log}
}

// Register tells the coordinator which backend to flush on shutdown.
// Without a registered config the flush step is skipped.
func (c *Coordinator) Register(cfg config.Config) {
	c.mu.Lock()
	c.cfg = &cfg
	c.mu.Unlock()
}

// Shutdown runs the exit sequence against t. The flush attempt and the
// bound race; whichever finishes first, termination follows.
func (c *Coordinator) Shutdown(ctx context.Context, t Terminator) error {
	c.mu.Lock()
	cfg := c.cfg
	c.mu.Unlock()

	if cfg != nil {
		c.flush(ctx, *cfg)
	}
	return t.Terminate(ctx)
}

// flush fires the backup trigger and waits at most FlushBound for the
// attempt to complete. The request keeps running in its goroutine past
// the bound; its client timeout reaps it shortly after.
func (c *Coordinator) flush(ctx context.Context, cfg config.Config) {
	attempted := make(chan error, 1)
	go func() {
		attempted <- c.trigger(ctx, cfg)
	}()

	bound := time.NewTimer(FlushBound)
	defer bound.Stop()
	select {
	case err := <-attempted:
		if err != nil {
			c.log.Warn("backup trigger failed; continuing shutdown",
				"name", cfg.Name, "error", err)
			metrics.IncFlush(cfg.Name, "error")
		} else {
			c.log.Info("backup trigger delivered", "name", cfg.Name)
			metrics.IncFlush(cfg.Name, "ok")
		}
	case <-bound.C:
		c.log.Warn("backup trigger still pending at flush bound; continuing shutdown",
			"name", cfg.Name, "bound", FlushBound)
		metrics.IncFlush(cfg.Name, "timeout")
	case <-ctx.Done():
		metrics.IncFlush(cfg.Name, "cancelled")
	}
}

func (c *Coordinator) trigger(ctx context.Context, cfg config.Config) error {
	client := &http.Client{
		Timeout: flushTotalTO,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: flushConnectTO}).DialContext,
		},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BackupTriggerURL(), nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	return nil
}
