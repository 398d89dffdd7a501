package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Iron-Ham/wamux/internal/errors"
)

func decodeLines(t *testing.T, raw string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestNew(t *testing.T) {
	t.Run("writes to file when configured", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "wamux.log")

		logger, err := New(Options{Level: "debug", File: path})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		logger.Info("hello")
		if err := logger.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("failed to read log file: %v", err)
		}
		if !strings.Contains(string(data), `"msg":"hello"`) {
			t.Errorf("log file missing message: %s", data)
		}
	})

	t.Run("stderr logger closes cleanly", func(t *testing.T) {
		logger, err := New(Options{Level: "info"})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if err := logger.Close(); err != nil {
			t.Errorf("Close() = %v, want nil", err)
		}
	})
}

func TestLevelFiltering(t *testing.T) {
	tests := []struct {
		level string
		want  []string
	}{
		{"debug", []string{"DEBUG", "INFO", "WARN", "ERROR"}},
		{"INFO", []string{"INFO", "WARN", "ERROR"}},
		{"warning", []string{"WARN", "ERROR"}},
		{"error", []string{"ERROR"}},
		{"bogus", []string{"INFO", "WARN", "ERROR"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewWithWriter(&buf, tt.level, FormatJSON)
			logger.Debug("d")
			logger.Info("i")
			logger.Warn("w")
			logger.Error("e")

			entries := decodeLines(t, buf.String())
			if len(entries) != len(tt.want) {
				t.Fatalf("got %d entries, want %d", len(entries), len(tt.want))
			}
			for i, entry := range entries {
				if entry["level"] != tt.want[i] {
					t.Errorf("entry %d level = %v, want %s", i, entry["level"], tt.want[i])
				}
			}
		})
	}
}

func TestLogError_LevelFromSeverity(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"plain error", errors.New("boom"), "ERROR"},
		{"startup timeout", errors.NewTimeoutError("client startup", 0), "WARN"},
		{"soft timeout", errors.NewTimeoutError("browser close", 0).AsSoft(), "INFO"},
		{"debug session error", errors.NewSessionError("noise", nil).WithSeverity(errors.SeverityDebug), "DEBUG"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewWithWriter(&buf, "debug", FormatJSON)
			logger.LogError("failed", tt.err, "session_id", "alice")

			entries := decodeLines(t, buf.String())
			if len(entries) != 1 {
				t.Fatalf("got %d entries, want 1", len(entries))
			}
			if entries[0]["level"] != tt.want {
				t.Errorf("level = %v, want %s", entries[0]["level"], tt.want)
			}
			if entries[0]["error"] != tt.err.Error() {
				t.Errorf("error = %v, want %q", entries[0]["error"], tt.err.Error())
			}
			if entries[0]["session_id"] != "alice" {
				t.Errorf("session_id = %v, want alice", entries[0]["session_id"])
			}
		})
	}
}

func TestChildLoggers(t *testing.T) {
	var buf bytes.Buffer
	root := NewWithWriter(&buf, LevelDebug, FormatJSON)

	root.WithSession("alice").
		WithCategory("message").
		With("attempt", 2, 42, "skipped").
		Info("dispatched", "channel", "webhook")

	entries := decodeLines(t, buf.String())
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e["session_id"] != "alice" {
		t.Errorf("session_id = %v", e["session_id"])
	}
	if e["category"] != "message" {
		t.Errorf("category = %v", e["category"])
	}
	if e["attempt"] != float64(2) {
		t.Errorf("attempt = %v", e["attempt"])
	}
	if e["channel"] != "webhook" {
		t.Errorf("channel = %v", e["channel"])
	}
	if _, ok := e["42"]; ok {
		t.Error("non-string key should be skipped")
	}
}

func TestChildDoesNotLeakIntoParent(t *testing.T) {
	var buf bytes.Buffer
	root := NewWithWriter(&buf, LevelInfo, FormatJSON)
	_ = root.WithSession("bob")
	root.Info("plain")

	entries := decodeLines(t, buf.String())
	if _, ok := entries[0]["session_id"]; ok {
		t.Error("parent logger picked up child attribute")
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, LevelInfo, "TEXT")
	logger.WithSession("alice").Warn("slow client")

	out := buf.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "session_id=alice") {
		t.Errorf("unexpected text output: %q", out)
	}
}

func TestSlog(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&buf, LevelInfo, FormatJSON).WithComponent("ws").Slog().Info("upgrade")

	entries := decodeLines(t, buf.String())
	if entries[0]["component"] != "ws" {
		t.Errorf("component = %v, want ws", entries[0]["component"])
	}
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()
	logger.WithSession("x").Error("ignored")
	if err := logger.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

func TestIsValidLevel(t *testing.T) {
	for _, lvl := range ValidLevels() {
		if !IsValidLevel(strings.ToLower(lvl)) {
			t.Errorf("IsValidLevel(%q) = false", lvl)
		}
	}
	if IsValidLevel("trace") {
		t.Error("IsValidLevel(trace) = true")
	}
}
