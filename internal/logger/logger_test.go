package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogger_WritesLevelFiles(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, "info")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer l.Close()

	l.Info("session %s started", "abc")
	l.Warning("slow worker")
	l.Error("worker dropped")
	l.Debug("hidden")

	info, err := os.ReadFile(filepath.Join(dir, InfoFile))
	if err != nil {
		t.Fatalf("Failed to read info log: %v", err)
	}
	if !strings.Contains(string(info), "session abc started") {
		t.Errorf("Expected info entry, got: %s", info)
	}
	if strings.Contains(string(info), "hidden") {
		t.Error("Debug entry should not be written at info level")
	}

	errLog, _ := os.ReadFile(filepath.Join(dir, ErrorFile))
	if !strings.Contains(string(errLog), "worker dropped") {
		t.Errorf("Expected error entry, got: %s", errLog)
	}
}

func TestLogger_WithPrefix(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, "debug")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer l.Close()

	l.WithPrefix("s-1").WithPrefix("Car").Debug("reading result")

	info, _ := os.ReadFile(filepath.Join(dir, InfoFile))
	if !strings.Contains(string(info), "[s-1] [Car] reading result") {
		t.Errorf("Expected prefixed debug entry, got: %s", info)
	}
}

func TestLogger_CleanLogs(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, "info")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer l.Close()

	l.Warning("something")
	if err := l.CleanLogs(WarningFile); err != nil {
		t.Fatalf("CleanLogs failed: %v", err)
	}

	data, _ := os.ReadFile(filepath.Join(dir, WarningFile))
	if len(data) != 0 {
		t.Errorf("Expected empty warning log, got %d bytes", len(data))
	}
}
