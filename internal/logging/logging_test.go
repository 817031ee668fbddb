package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestComponentTagsEveryEntry(t *testing.T) {
	var buf bytes.Buffer
	InitWithHandler(slog.NewJSONHandler(&buf, nil))

	log := Component("bloom")
	log.Info("warm-up complete", "ids", 42)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log entry: %v", err)
	}
	if entry["component"] != "bloom" {
		t.Errorf("component = %v, want bloom", entry["component"])
	}
	if entry["msg"] != "warm-up complete" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["ids"] != float64(42) {
		t.Errorf("ids = %v, want 42", entry["ids"])
	}
}

func TestComponentInitializesLazily(t *testing.T) {
	Logger = nil
	if log := Component("manager"); log == nil {
		t.Fatal("Component must initialize the global logger on first use")
	}
	if Logger == nil {
		t.Error("global logger still nil after lazy init")
	}
}
