package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

func TestFileWriterDefaults(t *testing.T) {
	if w := (Config{}).FileWriter(); w != nil {
		t.Fatalf("expected nil writer without File")
	}
	w := Config{File: filepath.Join(t.TempDir(), "botvisor.log")}.FileWriter()
	l, ok := w.(*lj.Logger)
	if !ok {
		t.Fatalf("expected *lumberjack.Logger, got %T", w)
	}
	if l.MaxSize != DefaultMaxSizeMB || l.MaxBackups != DefaultMaxBackups || l.MaxAge != DefaultMaxAgeDays {
		t.Fatalf("unexpected defaults: %+v", l)
	}
	_ = w.Close()
}

func TestNewWritesToFileAndConsole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "botvisor.log")
	var console bytes.Buffer
	log, closer, err := NewWithWriter(Config{Level: "debug", File: path}, &console)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	log.Debug("hello", "bot", "echo")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(b), "msg=hello") || !strings.Contains(console.String(), "bot=echo") {
		t.Fatalf("record missing: file=%q console=%q", b, console.String())
	}
}

func TestNewJSONFormatAndLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log, _, err := NewWithWriter(Config{Level: "warn", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	log.Info("dropped")
	log.Warn("kept", "n", 1)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one record, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not json: %v", err)
	}
	if rec["msg"] != "kept" {
		t.Fatalf("unexpected record: %v", rec)
	}
}

func TestColorHandlerKeepsColorOnDerivedLoggers(t *testing.T) {
	var buf bytes.Buffer
	log, _, err := NewWithWriter(Config{Color: true}, &buf)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	log.With("component", "supervisor").Error("boom")
	out := buf.String()
	if !strings.Contains(out, "[31mERROR") || !strings.Contains(out, "component=supervisor") {
		t.Fatalf("expected colored level and attrs, got %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if _, _, err := NewWithWriter(Config{Format: "xml"}, nil); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}
