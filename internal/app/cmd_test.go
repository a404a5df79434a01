package app

import (
	"testing"
)

func TestParseCommand_DefaultsToWorker(t *testing.T) {
	cmd := ParseCommand([]string{})
	if cmd != CommandWorker {
		t.Errorf("ParseCommand([]) = %q, want %q", cmd, CommandWorker)
	}
}

func TestParseCommand_KnownCommands(t *testing.T) {
	tests := []struct {
		arg  string
		want Command
	}{
		{"worker", CommandWorker},
		{"snapshot", CommandSnapshot},
		{"cleanup", CommandCleanup},
		{"cycle", CommandCycle},
		{"trends", CommandTrends},
		{"analytics", CommandAnalytics},
		{"migrate", CommandMigrate},
		{"healthcheck", CommandHealthcheck},
	}
	for _, tt := range tests {
		if got := ParseCommand([]string{tt.arg}); got != tt.want {
			t.Errorf("ParseCommand([%s]) = %q, want %q", tt.arg, got, tt.want)
		}
	}
}

func TestParseCommand_UnknownDefaultsToWorker(t *testing.T) {
	cmd := ParseCommand([]string{"serve"})
	if cmd != CommandWorker {
		t.Errorf("ParseCommand([serve]) = %q, want %q", cmd, CommandWorker)
	}
}

func TestParseCommand_IgnoresExtraArgs(t *testing.T) {
	cmd := ParseCommand([]string{"trends", "overview", "-days", "14"})
	if cmd != CommandTrends {
		t.Errorf("ParseCommand([trends overview -days 14]) = %q, want %q", cmd, CommandTrends)
	}
}
