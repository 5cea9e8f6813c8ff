package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestEmptyEngineConfigDefaults(t *testing.T) {
	cfg := EmptyEngineConfig()

	if got := cfg.GetDefaultCooldown(); got != 3*time.Second {
		t.Errorf("GetDefaultCooldown() = %v, want 3s", got)
	}
	if got := cfg.GetRetryInitial(); got != 500*time.Millisecond {
		t.Errorf("GetRetryInitial() = %v, want 500ms", got)
	}
	if got := cfg.GetRetryMax(); got != 30*time.Second {
		t.Errorf("GetRetryMax() = %v, want 30s", got)
	}
	if got := cfg.GetRetryAttempts(); got != 10 {
		t.Errorf("GetRetryAttempts() = %d, want 10", got)
	}
	if got := cfg.GetPersistBatchSize(); got != 64 {
		t.Errorf("GetPersistBatchSize() = %d, want 64", got)
	}
	if got := cfg.GetPersistFlushInterval(); got != time.Second {
		t.Errorf("GetPersistFlushInterval() = %v, want 1s", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("empty config should validate, got %v", err)
	}
}

func TestLoadEngineConfig(t *testing.T) {
	path := writeConfig(t, "crossing.json", `{
  "default_cooldown": "2s",
  "retry_initial": "100ms",
  "retry_max": "5s",
  "retry_attempts": 3,
  "persist_batch_size": 10,
  "persist_flush_interval": "250ms",
  "sources": [
    {"id": "cam-1", "line": [150, 0, 150, 480], "frame_source": "udp://127.0.0.1:9100"},
    {"id": "cam-2", "line": [0, 240, 640, 240], "frame_source": "file:///tmp/cam2.ndjson", "cooldown": "5s", "enabled": false}
  ]
}`)

	cfg, err := LoadEngineConfig(path)
	if err != nil {
		t.Fatalf("LoadEngineConfig: %v", err)
	}
	if got := cfg.GetDefaultCooldown(); got != 2*time.Second {
		t.Errorf("GetDefaultCooldown() = %v, want 2s", got)
	}
	if got := cfg.GetRetryAttempts(); got != 3 {
		t.Errorf("GetRetryAttempts() = %d, want 3", got)
	}
	if got := cfg.GetPersistFlushInterval(); got != 250*time.Millisecond {
		t.Errorf("GetPersistFlushInterval() = %v, want 250ms", got)
	}
	if len(cfg.Sources) != 2 {
		t.Fatalf("len(Sources) = %d, want 2", len(cfg.Sources))
	}

	cam1, cam2 := cfg.Sources[0], cfg.Sources[1]
	if cam1.Line != [4]float64{150, 0, 150, 480} {
		t.Errorf("cam-1 line = %v", cam1.Line)
	}
	if !cam1.IsEnabled() || cam1.GetCooldown() != 0 {
		t.Errorf("cam-1: enabled=%v cooldown=%v, want true/0", cam1.IsEnabled(), cam1.GetCooldown())
	}
	if cam2.IsEnabled() {
		t.Error("cam-2 should be disabled")
	}
	if got := cam2.GetCooldown(); got != 5*time.Second {
		t.Errorf("cam-2 cooldown = %v, want 5s", got)
	}
}

func TestLoadEngineConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"wrong extension", "crossing.yaml", `{}`, ".json extension"},
		{"bad json", "c.json", `{`, "failed to parse"},
		{"bad duration", "c.json", `{"retry_max": "soon"}`, "invalid retry_max"},
		{"negative duration", "c.json", `{"default_cooldown": "-1s"}`, "non-negative"},
		{"negative attempts", "c.json", `{"retry_attempts": -1}`, "retry_attempts"},
		{"zero batch", "c.json", `{"persist_batch_size": 0}`, "persist_batch_size"},
		{"initial above max", "c.json", `{"retry_initial": "1m", "retry_max": "1s"}`, "exceeds retry_max"},
		{"missing id", "c.json", `{"sources": [{"frame_source": "udp://:1"}]}`, "id is required"},
		{"duplicate id", "c.json", `{"sources": [{"id": "a", "frame_source": "udp://:1"}, {"id": "a", "frame_source": "udp://:2"}]}`, "duplicate id"},
		{"missing frame source", "c.json", `{"sources": [{"id": "a"}]}`, "frame_source is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.file, tt.body)
			_, err := LoadEngineConfig(path)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadEngineConfig_Missing(t *testing.T) {
	if _, err := LoadEngineConfig(filepath.Join(t.TempDir(), "none.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadEngineConfig_TooLarge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.json")
	if err := os.WriteFile(path, make([]byte, maxFileSize+1), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadEngineConfig(path)
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Fatalf("expected size error, got %v", err)
	}
}
