package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"typewitness/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
		hasError bool
	}{
		{"debug", LevelDebug, false},
		{"DEBUG", LevelDebug, false},
		{"info", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"invalid", LevelInfo, true},
		{"", LevelInfo, true},
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			level, err := ParseLevel(test.input)
			if test.hasError && err == nil {
				t.Error("expected error, got nil")
			}
			if !test.hasError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !test.hasError && level != test.expected {
				t.Errorf("expected %v, got %v", test.expected, level)
			}
		})
	}
}

func TestLevelString(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{LevelDebug, "debug"},
		{LevelInfo, "info"},
		{LevelWarn, "warn"},
		{LevelError, "error"},
	}

	for _, test := range tests {
		if got := LevelString(test.level); got != test.expected {
			t.Errorf("LevelString(%v) = %q, expected %q", test.level, got, test.expected)
		}
	}
}

func TestFromSettings(t *testing.T) {
	cfg, err := FromSettings(config.LoggingConfig{
		Level:      "debug",
		Format:     "json",
		Output:     "file",
		FilePath:   "/tmp/tw.log",
		MaxSizeMB:  7,
		MaxBackups: 2,
	})
	if err != nil {
		t.Fatalf("FromSettings failed: %v", err)
	}
	if cfg.Level != LevelDebug || cfg.Format != FormatJSON {
		t.Errorf("unexpected level/format: %v/%v", cfg.Level, cfg.Format)
	}
	if cfg.Output != "file" || cfg.FilePath != "/tmp/tw.log" {
		t.Errorf("unexpected output: %s %s", cfg.Output, cfg.FilePath)
	}
	if cfg.MaxSize != 7 || cfg.MaxBackups != 2 {
		t.Errorf("unexpected rotation settings: %d %d", cfg.MaxSize, cfg.MaxBackups)
	}

	if _, err := FromSettings(config.LoggingConfig{Level: "loud"}); err == nil {
		t.Error("expected error for invalid level")
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&Config{
		Level:     LevelInfo,
		Format:    FormatJSON,
		Writer:    &buf,
		Component: "test",
	})
	if err != nil {
		t.Fatalf("failed to create JSON logger: %v", err)
	}
	defer logger.Close()

	logger.Info("analyzed", "session_id", "sess-1", "risk", 2)
	logger.Debug("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if entry["msg"] != "analyzed" || entry["component"] != "test" {
		t.Errorf("unexpected entry: %v", entry)
	}
	if entry["session_id"] != "sess-1" {
		t.Errorf("session ids must not be redacted: %v", entry["session_id"])
	}
}

func TestRedaction(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&Config{Level: LevelInfo, Format: FormatText, Writer: &buf})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	logger.Info("paste", "payload_text", "my essay", "editor_html", "<p>x</p>", "event_id", "e1")
	out := buf.String()

	if strings.Contains(out, "my essay") || strings.Contains(out, "<p>x</p>") {
		t.Errorf("document text leaked: %s", out)
	}
	if !strings.Contains(out, "event_id=e1") {
		t.Errorf("event id missing: %s", out)
	}
}

func TestShouldRedact(t *testing.T) {
	tests := []struct {
		key      string
		expected bool
	}{
		{"password", true},
		{"auth_token", true},
		{"payload_text", true},
		{"clipboard_text", true},
		{"editorHTML", true},
		{"cookie", true},
		{"session_id", false},
		{"event_id", false},
		{"verdict", false},
		{"path", false},
	}

	for _, test := range tests {
		t.Run(test.key, func(t *testing.T) {
			if got := shouldRedact(test.key); got != test.expected {
				t.Errorf("shouldRedact(%q) = %v, expected %v", test.key, got, test.expected)
			}
		})
	}
}

func TestWithComponentAndRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&Config{Level: LevelInfo, Writer: &buf, Component: "typewitness"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	ctx := ContextWithRequestID(context.Background(), "req-7")
	logger.WithComponent("server").WithContext(ctx).Info("handled")

	out := buf.String()
	if !strings.Contains(out, "component=server") {
		t.Errorf("component missing: %s", out)
	}
	if !strings.Contains(out, "request_id=req-7") {
		t.Errorf("request id missing: %s", out)
	}
}

func TestSetLevelReachesDerivedLoggers(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&Config{Level: LevelInfo, Writer: &buf})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	child := logger.WithComponent("watcher")

	child.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug logged at info level: %s", buf.String())
	}

	logger.SetLevel(LevelDebug)
	if logger.Level() != LevelDebug || child.Level() != LevelDebug {
		t.Errorf("level not shared: %v %v", logger.Level(), child.Level())
	}
	child.Debug("shown")
	if !strings.Contains(buf.String(), "msg=shown") {
		t.Errorf("debug missing after SetLevel: %s", buf.String())
	}

	buf.Reset()
	logger.SetLevel(LevelError)
	child.Warn("dropped")
	if buf.Len() != 0 {
		t.Errorf("warn logged at error level: %s", buf.String())
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "test-request-456")
	if got := RequestIDFromContext(ctx); got != "test-request-456" {
		t.Errorf("expected test-request-456, got %q", got)
	}
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
	if got := RequestIDFromContext(nil); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}

func TestNewRequestID(t *testing.T) {
	logger, err := New(&Config{Writer: &bytes.Buffer{}, Component: "test"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	id1 := logger.NewRequestID()
	id2 := logger.WithComponent("child").NewRequestID()

	if id1 == id2 {
		t.Error("NewRequestID returned duplicate IDs")
	}
	if !strings.HasPrefix(id1, "test-") {
		t.Errorf("NewRequestID should start with component name, got %q", id1)
	}
}

func TestDiscard(t *testing.T) {
	l := Discard()
	l.Error("dropped")
	if err := l.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestFileOutput(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "tw.log")

	logger, err := New(&Config{Level: LevelInfo, Output: "file", FilePath: logPath, MaxSize: 1})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	logger.Info("to file")
	if err := logger.Sync(); err != nil {
		t.Errorf("sync failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Errorf("log file missing entry: %q", data)
	}
}

func TestFileRotatorRequiresPath(t *testing.T) {
	if _, err := NewFileRotator(&Config{}); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestFileRotatorRotation(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")

	// MaxSize 0 rolls over on every write after the first.
	rotator, err := NewFileRotator(&Config{FilePath: logPath, MaxSize: 0, MaxBackups: 2})
	if err != nil {
		t.Fatalf("failed to create rotator: %v", err)
	}

	for i := 0; i < 5; i++ {
		line := []byte("line " + string(rune('A'+i)) + "\n")
		n, err := rotator.Write(line)
		if err != nil {
			t.Fatalf("write %d failed: %v", i, err)
		}
		if n != len(line) {
			t.Errorf("expected to write %d bytes, wrote %d", len(line), n)
		}
	}
	if err := rotator.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if rotated := rotator.rotatedFiles(); len(rotated) != 2 {
		t.Errorf("expected 2 retained backups, got %d: %v", len(rotated), rotated)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if string(data) != "line E\n" {
		t.Errorf("current log = %q", data)
	}
}
