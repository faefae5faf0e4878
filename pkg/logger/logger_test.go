package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewHandlerFormats(t *testing.T) {
	var buf bytes.Buffer
	slog.New(NewHandler("json", &buf, nil)).Info("hello", slog.String("agent", "Agent1"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON output: %v", err)
	}
	if entry["agent"] != "Agent1" {
		t.Fatalf("unexpected entry %v", entry)
	}

	buf.Reset()
	slog.New(NewHandler("TEXT", &buf, nil)).Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Fatalf("expected text output, got %q", buf.String())
	}
}

func TestInitWritesToFileAndAudit(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "app.log")
	auditPath := filepath.Join(dir, "audit", "audit.log")

	if err := Init(Config{
		Level:       "debug",
		OutputPaths: []string{logPath},
		Audit:       AuditConfig{Enabled: true, Path: auditPath},
	}); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		_ = Sync()
		_ = Init(Config{})
	})

	ForAgent("Agent1").Debug("debug line")
	Audit().Info("transfer submitted")
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(content), "debug line") || !strings.Contains(string(content), "Agent1") {
		t.Fatalf("unexpected log content %q", content)
	}
	audit, err := os.ReadFile(auditPath)
	if err != nil {
		t.Fatalf("read audit: %v", err)
	}
	if !strings.Contains(string(audit), "transfer submitted") {
		t.Fatalf("unexpected audit content %q", audit)
	}
}

func TestRotatingWriterShiftsBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	w, err := newRotatingWriter(path, 1, 2, 1)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	w.maxSize = 10
	defer w.Close()

	for _, chunk := range []string{"0123456789", "abcdefghij", "ABCDEFGHIJ"} {
		if _, err := w.Write([]byte(chunk)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	current, _ := os.ReadFile(path)
	first, _ := os.ReadFile(path + ".1")
	second, _ := os.ReadFile(path + ".2")
	if string(current) != "ABCDEFGHIJ" || string(first) != "abcdefghij" || string(second) != "0123456789" {
		t.Fatalf("unexpected rotation: current=%q .1=%q .2=%q", current, first, second)
	}
}
