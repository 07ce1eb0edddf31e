package observability

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("info", "json", &buf)
	l.Debug("hidden")
	l.Info("pairing requested", "peer", "TestDapp")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not json: %v", err)
	}
	if entry["msg"] != "pairing requested" || entry["peer"] != "TestDapp" || entry["service"] != "txlens" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestNewLoggerTextDebug(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("DEBUG", "text", &buf)
	l.Debug("visible")
	if !strings.Contains(buf.String(), "msg=visible") {
		t.Fatalf("text output missing debug line: %q", buf.String())
	}
}
