//go:build !windows

package sidewatch

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	cfgpkg "github.com/loykin/sidewatch/internal/config"
	"github.com/loykin/sidewatch/internal/lifecycle"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backend")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

func waitForState(t *testing.T, sup *Supervisor, want lifecycle.State, within time.Duration) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if sup.State() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("state is %s, want %s", sup.State(), want)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BinaryPath = "" // invalid
	if _, err := New(cfg); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestStart_PortBound(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BinaryPath = writeScript(t, "exit 0")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = ln.Close() }()
	cfg.Port = ln.Addr().(*net.TCPAddr).Port

	sup, err := New(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = sup.Close() }()

	err = sup.Start(context.Background())
	var pbe *cfgpkg.PortBoundError
	if !errors.As(err, &pbe) {
		t.Fatalf("expected PortBoundError, got %v", err)
	}
	if pbe.Port != cfg.Port {
		t.Fatalf("error carries port %d, want %d", pbe.Port, cfg.Port)
	}
}

func TestSupervisor_CrashThenRestartThenShutdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Name = "crashy"
	cfg.Port = freePort(t)
	cfg.BinaryPath = writeScript(t, "exit 1")
	cfg.AutoRestart = false

	notifier := NewChanNotifier(16)
	sup, err := New(cfg, WithNotifier(notifier))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = sup.Close() }()

	ctx := context.Background()
	if err := sup.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForState(t, sup, lifecycle.Crashed, 10*time.Second)

	snap := sup.Status()
	if snap.IsRunning || !snap.CanRestart || snap.State != "crashed" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	// Restart from a terminal state gets a fresh budget and crashes again.
	if err := sup.Restart(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	waitForState(t, sup, lifecycle.Crashed, 10*time.Second)

	if got := sup.Status().Restarts; got != 0 {
		t.Fatalf("manual restart must reset the budget, got %d", got)
	}

	// Shutdown of an already-dead backend is safe.
	shCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := sup.Shutdown(shCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSupervisor_RestartRejectedWhileRunning(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Name = "steady"
	cfg.Port = freePort(t)
	cfg.BinaryPath = writeScript(t, `trap 'exit 0' TERM
while true; do sleep 0.1; done`)
	cfg.AutoRestart = false

	sup, err := New(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = sup.Close() }()

	ctx := context.Background()
	if err := sup.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	// Starting is not a terminal state; restart must be refused.
	if err := sup.Restart(ctx); err == nil {
		t.Fatal("restart while running must be rejected")
	}

	shCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	if err := sup.Shutdown(shCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	waitForState(t, sup, lifecycle.StoppedClean, 10*time.Second)
}

func TestNew_ConfiguredSQLiteHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	cfg := DefaultConfig()
	cfg.BinaryPath = writeScript(t, "exit 0")
	cfg.History = HistoryConfig{Type: "sqlite", Path: path}

	sup, err := New(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := sup.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("history journal not created: %v", err)
	}
}

func TestAPIHandler_ServesStatus(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BinaryPath = writeScript(t, "exit 0")

	sup, err := New(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = sup.Close() }()

	srv := httptest.NewServer(APIHandler("", sup))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.State != "not_started" || snap.IsRunning {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}
