package logging_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"kometaai/internal/logging"
	"kometaai/internal/services"
)

func newFileLogger(t *testing.T) (string, func() string) {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "logs", "kometaai.log")
	return logPath, func() string {
		content, err := os.ReadFile(logPath)
		if err != nil {
			t.Fatalf("read log file: %v", err)
		}
		return string(content)
	}
}

func TestConsoleLoggerFormatsComponentAndFields(t *testing.T) {
	logPath, read := newFileLogger(t)
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logging.NewComponentLogger(logger, "classifier").Info("batch done", logging.Int("items", 3), logging.String("note", "two words"))
	logger.Debug("hidden")

	content := read()
	if !strings.Contains(content, "INFO classifier: batch done") {
		t.Fatalf("expected component prefix, got %q", content)
	}
	if !strings.Contains(content, "items=3") || !strings.Contains(content, `note="two words"`) {
		t.Fatalf("expected formatted fields, got %q", content)
	}
	if strings.Contains(content, "hidden") {
		t.Fatalf("debug record should be filtered at info level, got %q", content)
	}
	if strings.Contains(content, "\x1b[") {
		t.Fatalf("file output should not be colourized, got %q", content)
	}
	if strings.Contains(content, ".go:") {
		t.Fatalf("expected no source information at info level, got %q", content)
	}
}

func TestJSONLoggerUsesStableKeys(t *testing.T) {
	logPath, read := newFileLogger(t)
	logger, err := logging.New(logging.Options{Format: "json", Level: "debug", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Warn("state reset", logging.String(logging.FieldEventType, "state_reset"))

	var record map[string]any
	line := strings.TrimSpace(read())
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		t.Fatalf("decode log line %q: %v", line, err)
	}
	if record["level"] != "warn" {
		t.Fatalf("level = %v, want warn", record["level"])
	}
	if _, ok := record["ts"]; !ok {
		t.Fatalf("expected ts key in %v", record)
	}
	if record[logging.FieldEventType] != "state_reset" {
		t.Fatalf("event_type = %v", record[logging.FieldEventType])
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestWithContextAddsRunFields(t *testing.T) {
	logPath, read := newFileLogger(t)
	off := false
	logger, err := logging.New(logging.Options{Format: "console", OutputPaths: []string{logPath}, Color: &off})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	ctx := services.WithRunID(context.Background(), "run-42")
	ctx = services.WithCollection(ctx, "Noir")
	logging.WithContext(ctx, logger).Info("hello")

	content := read()
	for _, want := range []string{"run_id=run-42", "collection=Noir"} {
		if !strings.Contains(content, want) {
			t.Fatalf("expected %q in %q", want, content)
		}
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	logPath, read := newFileLogger(t)
	logger, err := logging.New(logging.Options{Format: "json", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.WarnWithContext(logger, "short prompt", "prompt_suspicious", logging.String(logging.FieldImpact, "classification may be noisy"))

	content := read()
	for _, want := range []string{`"event_type":"prompt_suspicious"`, `"error_hint":"check logs for details"`, `"impact":"classification may be noisy"`} {
		if !strings.Contains(content, want) {
			t.Fatalf("expected %s in %s", want, content)
		}
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := logging.NewNop()
	if logger.Enabled(context.Background(), 12) {
		t.Fatal("nop logger should not be enabled")
	}
	logging.WarnWithContext(nil, "ignored", "none")
}
