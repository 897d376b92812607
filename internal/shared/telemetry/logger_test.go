package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestInfoWritesJSONLine(t *testing.T) {
	var buf bytes.Buffer
	restore := SetOutput(&buf)
	defer restore()

	Info("analysis.status", map[string]any{"process_id": "p-1", "error": errors.New("boom"), "msg": "ignored"})

	line := strings.TrimSpace(buf.String())
	var payload map[string]any
	if err := json.Unmarshal([]byte(line), &payload); err != nil {
		t.Fatalf("decode log line %q: %v", line, err)
	}
	if payload["level"] != "info" || payload["msg"] != "analysis.status" {
		t.Fatalf("unexpected level/msg: %#v", payload)
	}
	if payload["process_id"] != "p-1" {
		t.Fatalf("expected process_id field, got %#v", payload["process_id"])
	}
	if payload["error"] != "boom" {
		t.Fatalf("expected error rendered as string, got %#v", payload["error"])
	}
}

func TestFieldsLaterWins(t *testing.T) {
	got := Fields(map[string]any{"a": 1, "b": 1}, map[string]any{"b": 2})
	if got["a"] != 1 || got["b"] != 2 {
		t.Fatalf("unexpected merge: %#v", got)
	}
}
