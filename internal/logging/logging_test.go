package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("Expected default level %s, got %s", LevelInfo, cfg.Level)
	}
	if cfg.Format != FormatText {
		t.Errorf("Expected default format %s, got %s", FormatText, cfg.Format)
	}
	if cfg.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got '%s'", cfg.Output)
	}
	if cfg.Rotation.Enabled {
		t.Error("Expected rotation to be disabled by default")
	}
}

func TestNewLogger(t *testing.T) {
	t.Run("stdout text logger", func(t *testing.T) {
		logger, err := New(Config{Level: LevelInfo, Format: FormatText, Output: "stdout"})
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if logger == nil {
			t.Fatal("Expected logger to be created")
		}
		if err := logger.Close(); err != nil {
			t.Errorf("Close on stdout should be a no-op, got %v", err)
		}
	})

	t.Run("plain file logger", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "cr4wler.log")
		logger, err := New(Config{Level: LevelInfo, Format: FormatJSON, Output: path})
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		logger.Info("hello", "key", "value")
		if err := logger.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("Failed to read log file: %v", err)
		}
		if !strings.Contains(string(data), `"key":"value"`) {
			t.Errorf("Expected log line in file, got %q", data)
		}
	})

	t.Run("rotating file logger", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rotated.log")
		cfg := DefaultConfig()
		cfg.Output = path
		cfg.Rotation.Enabled = true
		logger, err := New(cfg)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		logger.Info("rotated line")
		if err := logger.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("Failed to read log file: %v", err)
		}
		if !strings.Contains(string(data), "rotated line") {
			t.Errorf("Expected log line in file, got %q", data)
		}
	})
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: LevelWarn, Format: FormatText}, &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info message should be filtered at warn level")
	}
	if !strings.Contains(out, "shown") {
		t.Error("warn message should be logged")
	}
}

func TestComponentHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: LevelDebug, Format: FormatJSON}, &buf)

	logger.WarnEnrichment("lookup degraded", "geolocation", "1.2.3.4", errors.New("timeout"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected JSON log line: %v", err)
	}
	if entry["component"] != "enrichment" {
		t.Errorf("Expected component enrichment, got %v", entry["component"])
	}
	if entry["provider"] != "geolocation" {
		t.Errorf("Expected provider geolocation, got %v", entry["provider"])
	}
	if entry["target"] != "1.2.3.4" {
		t.Errorf("Expected target 1.2.3.4, got %v", entry["target"])
	}
	if entry["level"] != "WARN" {
		t.Errorf("Expected WARN level, got %v", entry["level"])
	}
}

func TestWithRunID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: LevelInfo, Format: FormatText}, &buf).WithRunID("abc")
	logger.InfoDatabase("batch saved", "accepted", 2)

	out := buf.String()
	for _, want := range []string{"run_id=abc", "component=database", "accepted=2"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in %q", want, out)
		}
	}
}

func TestDefaultLogger(t *testing.T) {
	original := Default()
	defer SetDefault(original)

	var buf bytes.Buffer
	SetDefault(NewWithWriter(Config{Level: LevelInfo, Format: FormatText}, &buf))
	ErrorScan("deep scan failed", "10.0.0.1", errors.New("exit 1"))

	if !strings.Contains(buf.String(), "target=10.0.0.1") {
		t.Errorf("Expected default logger output, got %q", buf.String())
	}
}
