package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"docflow/internal/config"
	"docflow/internal/logging"
	"docflow/internal/services"
)

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg, "docflowd.log")
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("daemon started")

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "docflowd.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(content), &line); err != nil {
		t.Fatalf("expected a JSON log line, got %q: %v", content, err)
	}
	if line["message"] != "daemon started" {
		t.Fatalf("expected message in log file, got %q", content)
	}
}

func TestConsoleHandlerHoistsDocumentAndStage(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := services.WithDocumentID(context.Background(), "3f2a9c1e-0000-4000-8000-000000000000")
	ctx = services.WithStage(ctx, "extracting")
	log := logging.WithContext(ctx, logging.NewComponentLogger(logger, "extraction"))
	log.Info("page done", logging.Int("page", 2), logging.String("note", "two words"))

	line := buf.String()
	for _, fragment := range []string{"INFO", "extraction: [3f2a9c1e extracting] page done", "page=2", `note="two words"`} {
		if !strings.Contains(line, fragment) {
			t.Fatalf("expected %q in %q", fragment, line)
		}
	}
	if strings.Contains(line, "document_id=") {
		t.Fatalf("document id should be hoisted, got %q", line)
	}
	if strings.Contains(line, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", line)
	}
}

func TestJSONHandlerEmitsStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logging.WarnWithContext(logger, "entity lookup degraded", "entity_degraded", logging.String(logging.FieldDocumentID, "doc-1"))

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode json log: %v (%q)", err, buf.String())
	}
	if payload["level"] != "warn" || payload["document_id"] != "doc-1" {
		t.Fatalf("unexpected payload %v", payload)
	}
	if payload[logging.FieldEventType] != "entity_degraded" || payload[logging.FieldErrorHint] == nil {
		t.Fatalf("expected injected event fields, got %v", payload)
	}
	if _, ok := payload["ts"]; !ok {
		t.Fatalf("expected ts key, got %v", payload)
	}
	if payload["message"] != "entity lookup degraded" {
		t.Fatalf("expected message key, got %v", payload)
	}
}

func TestJSONHandlerDropsEmptyStrings(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("stage idle", logging.String(logging.FieldStage, ""), logging.String("engine", "http"))

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode json log: %v (%q)", err, buf.String())
	}
	if _, ok := payload[logging.FieldStage]; ok {
		t.Fatalf("expected empty stage to be dropped, got %v", payload)
	}
	if payload["engine"] != "http" {
		t.Fatalf("expected engine attr, got %v", payload)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "warn", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestUnsupportedFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := logging.NewNop()
	logger.Error("nothing")
	if logger.Enabled(context.Background(), 100) {
		t.Fatal("expected nop logger to be disabled")
	}
}

func TestErrorWithContextDerivesKindAndHint(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cause := services.Wrap(services.ErrConfiguration, "refining", "llm complete", "api key required", nil)
	logging.ErrorWithContext(logger, "stage failed", "stage_failure", logging.Error(cause))

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode json log: %v (%q)", err, buf.String())
	}
	if payload[logging.FieldErrorKind] != "configuration" {
		t.Fatalf("expected configuration kind, got %v", payload)
	}
	if payload[logging.FieldErrorHint] != "run docflow config validate" {
		t.Fatalf("unexpected hint %v", payload[logging.FieldErrorHint])
	}
}
