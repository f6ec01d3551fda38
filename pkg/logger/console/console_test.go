package console

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestConsoleLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleLogger(ConsoleLoggerParams{JSON: true, Output: &buf})

	l.Info("[Match] Finished", "matched", 3)

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected json line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "[Match] Finished" {
		t.Fatalf("unexpected msg %v", entry["msg"])
	}
	if entry["matched"] != float64(3) {
		t.Fatalf("expected matched=3, got %v", entry["matched"])
	}
}

func TestConsoleLogger_DebugLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleLogger(ConsoleLoggerParams{Output: &buf})
	l.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug output without debug flag: %q", buf.String())
	}

	buf.Reset()
	l = NewConsoleLogger(ConsoleLoggerParams{Debug: true, Output: &buf})
	l.Debug("shown", "k", "v")
	if !strings.Contains(buf.String(), "shown") || !strings.Contains(buf.String(), "k=v") {
		t.Fatalf("expected debug line, got %q", buf.String())
	}
}
