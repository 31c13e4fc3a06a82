package shutdown

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loykin/sidewatch/internal/config"
)

type fakeTerminator struct {
	calls atomic.Int32
	err   error
}

func (f *fakeTerminator) Terminate(context.Context) error {
	f.calls.Add(1)
	return f.err
}

func cfgForListener(t *testing.T, addr net.Addr) config.Config {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	cfg := config.Default()
	cfg.Host = host
	cfg.Port = port
	return cfg
}

func TestShutdown_WithoutRegisteredConfig(t *testing.T) {
	term := &fakeTerminator{}
	c := NewCoordinator(nil)
	if err := c.Shutdown(context.Background(), term); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if term.calls.Load() != 1 {
		t.Fatal("terminate must be called exactly once")
	}
}

func TestShutdown_FlushDelivered(t *testing.T) {
	var triggered atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/backups/trigger" {
			triggered.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewCoordinator(nil)
	c.Register(cfgForListener(t, srv.Listener.Addr()))

	term := &fakeTerminator{}
	if err := c.Shutdown(context.Background(), term); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if triggered.Load() != 1 {
		t.Fatal("backup trigger was not delivered")
	}
	if term.calls.Load() != 1 {
		t.Fatal("terminate must follow the flush")
	}
}

// A dead backend must not delay exit: the flush fails or times out and
// termination still runs.
func TestShutdown_UnreachableBackendStillTerminates(t *testing.T) {
	cfg := config.Default()
	cfg.Port = 64998 // nothing listening

	c := NewCoordinator(nil)
	c.Register(cfg)

	term := &fakeTerminator{}
	start := time.Now()
	if err := c.Shutdown(context.Background(), term); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if term.calls.Load() != 1 {
		t.Fatal("terminate must be called despite flush failure")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("shutdown took too long: %v", elapsed)
	}
}

// A hung backend is cut off at the flush bound.
func TestShutdown_SlowFlushBounded(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer func() {
		close(release)
		srv.Close()
	}()

	c := NewCoordinator(nil)
	c.Register(cfgForListener(t, srv.Listener.Addr()))

	term := &fakeTerminator{}
	start := time.Now()
	if err := c.Shutdown(context.Background(), term); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	elapsed := time.Since(start)
	if elapsed > FlushBound+300*time.Millisecond {
		t.Fatalf("flush was not bounded: %v", elapsed)
	}
	if term.calls.Load() != 1 {
		t.Fatal("terminate must run after the bound")
	}
}

func TestShutdown_TerminateErrorSurfaces(t *testing.T) {
	term := &fakeTerminator{err: errors.New("kill failed")}
	c := NewCoordinator(nil)
	if err := c.Shutdown(context.Background(), term); err == nil {
		t.Fatal("terminate error must surface")
	}
}
