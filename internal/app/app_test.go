package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/jesushzv/cars-trends-tool/internal/worker/cycle"
)

func TestInit_WithValidConfig_Succeeds(t *testing.T) {
	setTestEnv(t)

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg == nil {
		t.Fatal("expected non-nil config")
	}

	if cfg.DatabaseURL != testDatabaseURL {
		t.Errorf("DatabaseURL = %q, want %q", cfg.DatabaseURL, testDatabaseURL)
	}

	// Verify that slog global logger is configured for JSON output
	slog.Default().Info("init test")
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log output, got error: %v\nraw: %s", err, buf.String())
	}
	if entry["msg"] != "init test" {
		t.Errorf("msg = %q, want %q", entry["msg"], "init test")
	}
}

func TestInit_WithMissingConfig_ReturnsError(t *testing.T) {
	setTestEnv(t)
	t.Setenv("DATABASE_URL", "")

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err == nil {
		t.Fatal("expected error for missing required env vars, got nil")
	}
	if cfg != nil {
		t.Error("expected nil config on error")
	}
}

func TestInit_AppliesLogLevel(t *testing.T) {
	setTestEnv(t)
	t.Setenv("LOG_LEVEL", "warn")

	var buf bytes.Buffer
	if _, err := Init(&buf); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	slog.Default().Info("should be dropped")
	if buf.Len() != 0 {
		t.Errorf("expected info log to be suppressed at warn level, got %s", buf.String())
	}

	slog.Default().Warn("kept")
	if !strings.Contains(buf.String(), `"msg":"kept"`) {
		t.Errorf("expected warn log, got %s", buf.String())
	}
}

func TestMaskDatabaseURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"password is masked", "postgres://user:secret@db:5432/carstrends", "postgres://user:xxxxx@db:5432/carstrends"},
		{"no password", "postgres://db:5432/carstrends", "postgres://db:5432/carstrends"},
		{"not a url", "host=db user=app", "***"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := maskDatabaseURL(tt.in)
			if got != tt.want {
				t.Errorf("maskDatabaseURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if strings.Contains(got, "secret") {
				t.Errorf("masked URL leaks password: %q", got)
			}
		})
	}
}

func TestCycleError_AllStepsOK_ReturnsNil(t *testing.T) {
	result := cycle.CycleResult{
		Collectors: []cycle.CollectorRun{{Name: "feed-a", Status: cycle.StatusOK}},
		Snapshot:   cycle.StepResult{Status: cycle.StatusOK},
		Cleanup:    cycle.StepResult{Status: cycle.StatusOK},
	}
	if err := cycleError(result); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestCycleError_SkippedSnapshot_ReturnsNil(t *testing.T) {
	result := cycle.CycleResult{
		Snapshot: cycle.StepResult{Status: cycle.StatusSkipped},
		Cleanup:  cycle.StepResult{Status: cycle.StatusOK},
	}
	if err := cycleError(result); err != nil {
		t.Errorf("expected nil for skipped snapshot, got %v", err)
	}
}

func TestCycleError_CollectsEveryFailure(t *testing.T) {
	result := cycle.CycleResult{
		Collectors: []cycle.CollectorRun{
			{Name: "feed-a", Status: cycle.StatusFailed, Error: "timeout"},
			{Name: "feed-b", Status: cycle.StatusOK},
		},
		Snapshot: cycle.StepResult{Status: cycle.StatusOK},
		Cleanup:  cycle.StepResult{Status: cycle.StatusFailed, Error: "connection reset"},
	}

	err := cycleError(result)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	msg := err.Error()
	for _, want := range []string{"collector feed-a: timeout", "cleanup: connection reset"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q does not contain %q", msg, want)
		}
	}
	if strings.Contains(msg, "feed-b") {
		t.Errorf("error %q should not mention successful collector", msg)
	}
}

func TestWriteJSON_Indented(t *testing.T) {
	var buf bytes.Buffer
	if err := writeJSON(&buf, map[string]int{"created": 2}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if buf.String() != "{\n  \"created\": 2\n}\n" {
		t.Errorf("unexpected output: %q", buf.String())
	}
}
