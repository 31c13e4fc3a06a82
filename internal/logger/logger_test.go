package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bananas": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestConfig_Enabled(t *testing.T) {
	if (Config{}).Enabled() {
		t.Fatal("zero config must be disabled")
	}
	if !(Config{Dir: "/tmp"}).Enabled() {
		t.Fatal("dir-only config must be enabled")
	}
	if !(Config{StderrPath: "/tmp/err.log"}).Enabled() {
		t.Fatal("stderr-only config must be enabled")
	}
}

func TestConfig_WritersFromDir(t *testing.T) {
	dir := t.TempDir()
	c := Config{Dir: dir}
	outW, errW := c.Writers()
	if outW == nil || errW == nil {
		t.Fatal("expected both writers")
	}
	if _, err := outW.Write([]byte("hello out\n")); err != nil {
		t.Fatalf("write stdout: %v", err)
	}
	if _, err := errW.Write([]byte("hello err\n")); err != nil {
		t.Fatalf("write stderr: %v", err)
	}
	_ = outW.Close()
	_ = errW.Close()

	for _, name := range []string{"backend.stdout.log", "backend.stderr.log"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("%s not created: %v", name, err)
		}
	}
}

func TestConfig_ExplicitPathsWin(t *testing.T) {
	dir := t.TempDir()
	c := Config{
		Dir:        dir,
		StdoutPath: filepath.Join(dir, "custom.out"),
	}
	outW, errW := c.Writers()
	if _, err := outW.Write([]byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = outW.Close()
	_ = errW.Close()

	if _, err := os.Stat(filepath.Join(dir, "custom.out")); err != nil {
		t.Fatalf("custom stdout path not used: %v", err)
	}
}

func TestNew_LogsAtLevel(t *testing.T) {
	log := New(slog.LevelWarn)
	if log.Enabled(nil, slog.LevelInfo) {
		t.Fatal("info should be filtered at warn level")
	}
	if !log.Enabled(nil, slog.LevelError) {
		t.Fatal("error should pass at warn level")
	}
}
