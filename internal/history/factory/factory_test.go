package factory

import (
	"path/filepath"
	"testing"

	"github.com/loykin/sidewatch/internal/config"
)

func TestNew_EmptyTypeMeansNoSink(t *testing.T) {
	sink, err := New(config.HistoryConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sink != nil {
		t.Fatal("expected no sink for empty type")
	}
}

func TestNew_SQLite(t *testing.T) {
	hc := config.HistoryConfig{
		Type: "sqlite",
		Path: filepath.Join(t.TempDir(), "history.db"),
	}
	sink, err := New(hc)
	if err != nil {
		t.Fatalf("sqlite sink: %v", err)
	}
	if sink == nil {
		t.Fatal("expected a sink")
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestNew_UnknownType(t *testing.T) {
	if _, err := New(config.HistoryConfig{Type: "mongodb"}); err == nil {
		t.Fatal("expected error for unknown sink type")
	}
}

func TestNew_PostgresNeedsDSN(t *testing.T) {
	if _, err := New(config.HistoryConfig{Type: "postgres"}); err == nil {
		t.Fatal("expected error for missing DSN")
	}
}
