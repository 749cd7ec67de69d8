package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNew_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "daemon.log")
	logger, closer, err := New(Options{Level: "info", File: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info().Str("queue", "1293").Msg("queue stats refreshed")
	logger.Debug().Msg("suppressed at info")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), data)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if entry["queue"] != "1293" || entry["message"] != "queue stats refreshed" {
		t.Errorf("entry = %v", entry)
	}
}

func TestNew_InvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New(Options{Level: "loud", Console: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Debug().Msg("hidden")
	out := buf.String()
	if !strings.Contains(out, "invalid log level") {
		t.Errorf("expected fallback warning, got %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("debug line written at info level: %q", out)
	}
}

func TestProtocolTrace(t *testing.T) {
	var buf bytes.Buffer
	tr := NewTrace(&buf)
	tr.now = func() time.Time { return time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC) }

	tr.Trace(">>", "Action: Login\r\nSecret: ***\r\n\r\n")
	tr.Trace("<<", "Response: Success\r\n\r\n")

	out := buf.String()
	if !strings.Contains(out, "[2026-03-02 09:30:00] SEND\nAction: Login\r\nSecret: ***\n\n") {
		t.Errorf("unexpected send trace: %q", out)
	}
	if !strings.Contains(out, "RECV\nResponse: Success\n") {
		t.Errorf("unexpected recv trace: %q", out)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
