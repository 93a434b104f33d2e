package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tracehub/internal/config"
)

func TestNewWithConsoleTagsServiceAndComponent(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	logger, closeFn, err := NewWithConsole(config.LogConfig{
		Console: config.LogSinkConfig{Enabled: true, Level: "info", Format: "json"},
	}, "tracehub", &out)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer closeFn()

	Component(logger, "hub").Info("operation recorded", "corridor", "SEN-MLI")
	Component(logger, "hub").Debug("hidden")

	text := out.String()
	if !strings.Contains(text, `"service":"tracehub"`) || !strings.Contains(text, `"component":"hub"`) {
		t.Fatalf("missing attributes: %s", text)
	}
	if strings.Contains(text, "hidden") {
		t.Fatalf("debug record written at info level: %s", text)
	}
}

func TestTeeWritesConsoleAndFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tracehub.log")
	var out bytes.Buffer
	logger, closeFn, err := NewWithConsole(config.LogConfig{
		Console: config.LogSinkConfig{Enabled: true, Level: "warn", Format: "line"},
		File:    config.LogSinkConfig{Enabled: true, Level: "debug", Format: "json", Path: path},
	}, "", &out)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Debug("file only")
	logger.Warn("both sinks", "corridor", "SEN-MLI")
	closeFn()

	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(body), "file only") || !strings.Contains(string(body), "both sinks") {
		t.Fatalf("file sink missing records: %s", body)
	}
	console := out.String()
	if strings.Contains(console, "file only") || !strings.Contains(console, ansiYellow) || !strings.Contains(console, ansiCyan+"SEN-MLI") {
		t.Fatalf("unexpected console output %q", console)
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	t.Parallel()

	_, _, err := NewWithConsole(config.LogConfig{
		Console: config.LogSinkConfig{Enabled: true, Level: "loud", Format: "line"},
	}, "", &bytes.Buffer{})
	if err == nil {
		t.Fatalf("expected level error")
	}
	if _, _, err := NewWithConsole(config.LogConfig{}, "", &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error without sinks")
	}
}
