package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" WARN ":  zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for raw, want := range tests {
		if got := parseLevel(raw); got != want {
			t.Fatalf("parseLevel(%q)=%v, want %v", raw, got, want)
		}
	}
}

func TestNewTagsComponentInRotatedFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	log, err := New(Config{
		Level: "debug",
		File:  FileConfig{Enabled: true, Path: dir},
	}, ComponentGateway)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	log.Debug("gateway connection opened")
	_ = log.Sync()

	data, err := os.ReadFile(filepath.Join(dir, "gateway.log"))
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	line, _, _ := strings.Cut(string(data), "\n")
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("entry %q: %v", line, err)
	}
	if entry["component"] != ComponentGateway || entry["msg"] != "gateway connection opened" {
		t.Fatalf("entry=%v, want component=%s", entry, ComponentGateway)
	}
}

func TestNewHonorsFileName(t *testing.T) {
	dir := t.TempDir()
	log, err := New(Config{
		Level: "info",
		File:  FileConfig{Enabled: true, Path: dir, Name: "calls.log"},
	}, ComponentCLI)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	log.Debug("filtered")
	log.Info("comet connected")
	_ = log.Sync()

	data, err := os.ReadFile(filepath.Join(dir, "calls.log"))
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	if strings.Contains(string(data), "filtered") || !strings.Contains(string(data), `"component":"cometctl"`) {
		t.Fatalf("log=%s", data)
	}
}

func TestNewFailsOnUnwritableDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "plain")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}
	_, err := New(Config{File: FileConfig{Enabled: true, Path: filepath.Join(file, "logs")}}, ComponentGateway)
	if err == nil {
		t.Fatal("New error=nil, want directory error")
	}
}
