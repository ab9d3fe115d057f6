package app

import (
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want Command
	}{
		{"empty defaults to serve", []string{}, CommandServe},
		{"nil defaults to serve", nil, CommandServe},
		{"serve", []string{"serve"}, CommandServe},
		{"worker", []string{"worker"}, CommandWorker},
		{"reconcile", []string{"reconcile"}, CommandReconcile},
		{"migrate", []string{"migrate"}, CommandMigrate},
		{"healthcheck", []string{"healthcheck"}, CommandHealthcheck},
		{"unknown defaults to serve", []string{"unknown"}, CommandServe},
		{"case sensitive", []string{"Worker"}, CommandServe},
		{"extra args ignored", []string{"worker", "--flag", "value"}, CommandWorker},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseCommand(tt.args); got != tt.want {
				t.Errorf("ParseCommand(%v) = %q, want %q", tt.args, got, tt.want)
			}
		})
	}
}

func TestKnownCommands_RoundTrip(t *testing.T) {
	for name, cmd := range knownCommands {
		if string(cmd) != name {
			t.Errorf("knownCommands[%q] = %q", name, cmd)
		}
		if got := ParseCommand([]string{name}); got != cmd {
			t.Errorf("ParseCommand([%s]) = %q, want %q", name, got, cmd)
		}
	}
}
